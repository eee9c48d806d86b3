package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contracts "maildesk/contracts/mq"
	"maildesk/internal/draft"
	"maildesk/internal/model"
	"maildesk/internal/relay"
	"maildesk/internal/store"
	"maildesk/pkg/metrics"
	"maildesk/pkg/util"
)

const recentListLimit = 20

// Listen consumes operator messages until ctx is cancelled. Actions
// run sequentially; the store's transition checks make a racing
// duplicate command fail cleanly rather than double-execute.
func (o *Orchestrator) Listen(ctx context.Context) {
	o.logger.Info("Operator listener started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Operator listener stopped")
			return
		case raw, ok := <-o.relay.Updates():
			if !ok {
				o.logger.Info("Operator channel closed")
				return
			}
			o.HandleAction(ctx, relay.Interpret(raw))
		}
	}
}

// HandleAction executes one operator action and reports the outcome
// back on the relay. Errors are converted to operator-readable text;
// nothing here panics the listener.
func (o *Orchestrator) HandleAction(ctx context.Context, action relay.Action) {
	var err error
	switch action.Type {
	case relay.ActionConfirm:
		err = o.confirm(ctx, action.TicketID)
	case relay.ActionEdit:
		err = o.edit(ctx, action.TicketID, action.Text)
	case relay.ActionRegenerate:
		err = o.regenerate(ctx, action.TicketID)
	case relay.ActionReply:
		err = o.reply(ctx, action.TicketID, action.Text)
	case relay.ActionArchive:
		err = o.archive(ctx, action.TicketID)
	case relay.ActionStatus:
		err = o.statusSummary(ctx)
	case relay.ActionList:
		err = o.listActive(ctx)
	case relay.ActionRecent:
		err = o.listRecent(ctx)
	case relay.ActionTicket:
		err = o.ticketDetail(ctx, action.TicketID)
	case relay.ActionKBList:
		err = o.notify(ctx, o.presenter.FormatKBList(o.kb.List()))
	case relay.ActionKBAdd:
		err = o.kbAdd(ctx, action.Name, action.Text)
	case relay.ActionKBReload:
		err = o.kbReload(ctx)
	case relay.ActionHelp:
		err = o.notify(ctx, relay.HelpText())
	}
	if err != nil {
		o.logger.Error("Operator action failed",
			zap.String("action", string(action.Type)),
			zap.String("ticket_id", action.TicketID),
			zap.Error(err),
		)
		o.notify(ctx, fmt.Sprintf("❌ %s failed: %s", action.Type, operatorError(err)))
	}
}

// operatorError maps store sentinels to short operator-facing text.
func operatorError(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "ticket not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return "not possible in the ticket's current state"
	default:
		return err.Error()
	}
}

// confirm sends the current draft as the response.
func (o *Orchestrator) confirm(ctx context.Context, id string) error {
	t, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != model.StatusDrafted || t.DraftText == "" {
		return fmt.Errorf("%w: no draft to confirm", store.ErrInvalidTransition)
	}
	return o.sendResponse(ctx, t, t.DraftText)
}

// edit sends operator-corrected text in place of the draft. The text
// is stored as the draft first, so a failed send leaves a drafted
// ticket that confirm can retry with the corrected wording.
func (o *Orchestrator) edit(ctx context.Context, id, text string) error {
	t, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != model.StatusDrafted {
		return fmt.Errorf("%w: only drafted tickets can be edited", store.ErrInvalidTransition)
	}
	if err := o.store.SetDraft(ctx, id, text); err != nil {
		return err
	}
	t.DraftText = text
	o.logger.Info("Draft edited by operator", zap.String("ticket_id", id))
	return o.sendResponse(ctx, t, text)
}

// regenerate discards the draft and asks the model for a new one.
func (o *Orchestrator) regenerate(ctx context.Context, id string) error {
	t, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != model.StatusDrafted {
		return fmt.Errorf("%w: only drafted tickets can be regenerated", store.ErrInvalidTransition)
	}

	text, err := o.generateDraft(ctx, t)
	if err != nil {
		if errors.Is(err, draft.ErrDraftFailure) {
			return o.forwardToOperator(ctx, t, "regeneration failed")
		}
		return err
	}
	if err := o.store.SetDraft(ctx, id, text); err != nil {
		return err
	}
	t.DraftText = text
	return o.notify(ctx, "🔄 New draft.\n\n"+o.presenter.Present(t))
}

// reply sends operator-written text, valid from drafted or forwarded.
func (o *Orchestrator) reply(ctx context.Context, id, text string) error {
	t, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return o.sendResponse(ctx, t, text)
}

func (o *Orchestrator) archive(ctx context.Context, id string) error {
	if err := o.store.UpdateStatus(ctx, id, model.StatusArchived); err != nil {
		return err
	}
	metrics.IncrementTicketProcessed(string(model.StatusArchived))
	return o.notify(ctx, fmt.Sprintf("📦 Ticket %s archived.", id))
}

// sendResponse is the send-last discipline: delivery first, and the
// responded transition plus the response row are recorded only after
// the mail server accepted the message. A failed send leaves the
// ticket exactly where it was.
func (o *Orchestrator) sendResponse(ctx context.Context, t *model.Ticket, text string) error {
	// 状态不对就一封都不能发，防止已回复工单被二次打扰
	if t.Status != model.StatusDrafted && t.Status != model.StatusForwarded {
		return fmt.Errorf("%w: replies go out only from drafted or forwarded tickets", store.ErrInvalidTransition)
	}
	if !o.deduper.AcquireOnce(ctx, "send", t.ID) {
		return o.notify(ctx, fmt.Sprintf("⏳ A send for %s is already in flight.", t.ID))
	}
	defer o.deduper.Release(ctx, "send", t.ID)

	subject := fmt.Sprintf("Re: %s [%s]", t.Subject, t.ID)
	if err := o.mailer.Send(ctx, t.FromEmail, subject, renderHTML(text)); err != nil {
		return o.handleSendFailure(ctx, t, err)
	}
	metrics.IncrementMailSend("ok")

	resp, err := o.store.AppendResponse(ctx, t.ID, text, time.Now().UTC())
	if err != nil {
		// 邮件已发出但状态没落库，必须让操作员知道
		o.logger.Error("Mail sent but response not recorded",
			zap.String("ticket_id", t.ID),
			zap.Error(err),
		)
		return fmt.Errorf("mail delivered but recording failed: %w", err)
	}

	retryKey := util.FormatRetryKey("send", t.ID)
	if err := o.retries.Reset(ctx, retryKey); err != nil {
		o.logger.Warn("Failed to reset send retry counter", zap.Error(err))
	}

	metrics.IncrementTicketProcessed(string(model.StatusResponded))
	o.logger.Info("Response sent",
		zap.String("ticket_id", t.ID),
		zap.Int64("response_id", resp.ID),
		zap.String("to", t.FromEmail),
	)
	return o.notify(ctx, fmt.Sprintf("✅ Reply sent for %s.", t.ID))
}

// handleSendFailure counts the attempt, pings the operator via the MQ
// path, and fails the ticket once the attempt budget is exhausted.
func (o *Orchestrator) handleSendFailure(ctx context.Context, t *model.Ticket, sendErr error) error {
	metrics.IncrementMailSend("error")

	retryKey := util.FormatRetryKey("send", t.ID)
	attempt, cntErr := o.retries.IncrementAndGet(ctx, retryKey)
	if cntErr != nil {
		o.logger.Warn("Failed to count send attempt", zap.Error(cntErr))
		attempt = 1
	}

	o.logger.Error("Failed to send response",
		zap.String("ticket_id", t.ID),
		zap.Int64("attempt", attempt),
		zap.Error(sendErr),
	)

	if attempt >= int64(o.cfg.MaxSendAttempts) {
		if err := o.store.UpdateStatus(ctx, t.ID, model.StatusFailed); err != nil {
			o.logger.Error("Failed to mark ticket failed", zap.String("ticket_id", t.ID), zap.Error(err))
		}
		metrics.IncrementTicketProcessed(string(model.StatusFailed))
		return o.notify(ctx, fmt.Sprintf(
			"🛑 Ticket %s marked failed after %d send attempts: %s",
			t.ID, attempt, sendErr))
	}

	payload := contracts.SendFailedPayload{
		EventID:  uuid.NewString(),
		TicketID: t.ID,
		To:       t.FromEmail,
		Reason:   sendErr.Error(),
		Attempt:  attempt,
	}
	if err := o.publisher.Publish(contracts.RoutingKeySendFailed, payload); err != nil {
		o.logger.Error("Failed to publish send failure event", zap.Error(err))
		// MQ 也挂了，直接通知
		return o.NotifySendFailure(ctx, payload)
	}
	return nil
}

// NotifySendFailure renders a send-failure event for the operator. It
// is called by the MQ worker consuming ticket.send_failed.
func (o *Orchestrator) NotifySendFailure(ctx context.Context, p contracts.SendFailedPayload) error {
	return o.notify(ctx, fmt.Sprintf(
		"⚠️ Sending reply for %s failed (attempt %d): %s\nUse `confirm %s` or `reply %s <text>` to retry.",
		p.TicketID, p.Attempt, p.Reason, p.TicketID, p.TicketID))
}

func (o *Orchestrator) statusSummary(ctx context.Context) error {
	tickets, err := o.store.ListRecent(ctx, 500)
	if err != nil {
		return err
	}
	counts := make(map[model.Status]int)
	for _, t := range tickets {
		counts[t.Status]++
	}
	return o.notify(ctx, o.presenter.FormatStatusSummary(counts))
}

func (o *Orchestrator) listActive(ctx context.Context) error {
	tickets, err := o.store.ListActive(ctx)
	if err != nil {
		return err
	}
	return o.notify(ctx, o.presenter.FormatActiveList(tickets))
}

func (o *Orchestrator) listRecent(ctx context.Context) error {
	tickets, err := o.store.ListRecent(ctx, recentListLimit)
	if err != nil {
		return err
	}
	return o.notify(ctx, o.presenter.FormatRecentList(tickets))
}

func (o *Orchestrator) ticketDetail(ctx context.Context, id string) error {
	t, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	responses, err := o.store.Responses(ctx, id)
	if err != nil {
		return err
	}
	return o.notify(ctx, o.presenter.FormatTicketDetail(t, responses))
}

func (o *Orchestrator) kbAdd(ctx context.Context, name, content string) error {
	if err := o.kb.Add(name, content); err != nil {
		return err
	}
	return o.notify(ctx, fmt.Sprintf("📚 Document %q added, knowledge base reloaded (%d documents).",
		name, len(o.kb.List())))
}

func (o *Orchestrator) kbReload(ctx context.Context) error {
	if err := o.kb.Reload(); err != nil {
		return err
	}
	return o.notify(ctx, fmt.Sprintf("📚 Knowledge base reloaded (%d documents).", len(o.kb.List())))
}
