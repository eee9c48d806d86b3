// Package orchestrator wires the pipeline together: intake of inbound
// mail, classification, draft generation, and execution of operator
// actions. It owns every status transition; other packages only
// propose.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"maildesk/config"
	contracts "maildesk/contracts/mq"
	"maildesk/internal/classifier"
	"maildesk/internal/draft"
	"maildesk/internal/knowledge"
	"maildesk/internal/mail"
	"maildesk/internal/model"
	"maildesk/internal/relay"
	"maildesk/internal/store"
	"maildesk/pkg/metrics"
	"maildesk/pkg/util"
)

// Publisher is the slice of pkg/mq.Publisher the orchestrator needs.
type Publisher interface {
	Publish(routingKey string, payload any) error
}

// Orchestrator coordinates the ticket lifecycle end to end.
type Orchestrator struct {
	store      store.Store
	kb         *knowledge.Store
	classifier *classifier.Classifier
	drafter    *draft.Generator
	mailer     mail.Transport
	relay      relay.Transport
	presenter  *relay.Presenter
	publisher  Publisher
	deduper    *util.Deduper
	retries    *util.RetryCounter
	sem        *semaphore.Weighted
	cfg        config.PipelineConfig
	ackEnabled bool
	logger     *zap.Logger
}

func New(
	st store.Store,
	kb *knowledge.Store,
	cls *classifier.Classifier,
	drafter *draft.Generator,
	mailer mail.Transport,
	rl relay.Transport,
	presenter *relay.Presenter,
	publisher Publisher,
	deduper *util.Deduper,
	retries *util.RetryCounter,
	cfg config.PipelineConfig,
	ackEnabled bool,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		kb:         kb,
		classifier: cls,
		drafter:    drafter,
		mailer:     mailer,
		relay:      rl,
		presenter:  presenter,
		publisher:  publisher,
		deduper:    deduper,
		retries:    retries,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentLLM)),
		cfg:        cfg,
		ackEnabled: ackEnabled,
		logger:     logger,
	}
}

// Intake turns one inbound message into a persisted ticket and kicks
// off the pipeline by publishing ticket.received. The acknowledgement
// email is best-effort; a failed ack never blocks the ticket.
func (o *Orchestrator) Intake(ctx context.Context, msg mail.RawMessage) error {
	t := &model.Ticket{
		ID:           model.NewTicketID(msg.ReceivedAt),
		FromEmail:    msg.From,
		Subject:      msg.Subject,
		Message:      msg.HTMLBody,
		PlainMessage: msg.PlainBody,
		Status:       model.StatusReceived,
		ReceivedAt:   msg.ReceivedAt,
	}

	err := o.store.Create(ctx, t)
	if errors.Is(err, store.ErrDuplicateID) {
		// 同秒并发，换一个序号重试一次
		t.ID = model.NewTicketID(msg.ReceivedAt)
		err = o.store.Create(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	o.logger.Info("Ticket created",
		zap.String("ticket_id", t.ID),
		zap.String("from", t.FromEmail),
		zap.String("subject", t.Subject),
	)

	if o.ackEnabled {
		o.sendAck(ctx, t)
	}

	payload := contracts.TicketReceivedPayload{
		EventID:    uuid.NewString(),
		TicketID:   t.ID,
		FromEmail:  t.FromEmail,
		Subject:    t.Subject,
		ReceivedAt: t.ReceivedAt,
	}
	if err := o.publisher.Publish(contracts.RoutingKeyTicketReceived, payload); err != nil {
		// 消息没发出去就地处理，工单不能卡在 received
		o.logger.Error("Failed to publish ticket.received, processing inline",
			zap.String("ticket_id", t.ID),
			zap.Error(err),
		)
		return o.Process(ctx, t.ID)
	}
	return nil
}

func (o *Orchestrator) sendAck(ctx context.Context, t *model.Ticket) {
	subject := fmt.Sprintf("Re: %s [%s]", t.Subject, t.ID)
	body := fmt.Sprintf(
		"<html><body><p>Thank you for contacting us.</p>"+
			"<p>Your request has been received and assigned ticket <b>%s</b>. "+
			"We will get back to you as soon as possible.</p>"+
			"<p>Support Team</p></body></html>", t.ID)
	if err := o.mailer.Send(ctx, t.FromEmail, subject, body); err != nil {
		o.logger.Warn("Failed to send acknowledgement email",
			zap.String("ticket_id", t.ID),
			zap.Error(err),
		)
	}
}

// Process runs the classify-and-route pipeline for one ticket. It is
// idempotent: a redelivered event for a ticket already past received
// is a no-op.
func (o *Orchestrator) Process(ctx context.Context, ticketID string) error {
	t, err := o.store.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != model.StatusReceived {
		o.logger.Info("Skipping already-processed ticket",
			zap.String("ticket_id", ticketID),
			zap.String("status", string(t.Status)),
		)
		return nil
	}

	verdict, err := o.classify(ctx, t)
	if err != nil {
		return err
	}
	if err := o.store.SetCategory(ctx, ticketID, verdict.Category); err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, ticketID, model.StatusClassified); err != nil {
		return err
	}
	t.Category = verdict.Category
	t.Status = model.StatusClassified
	o.logger.Info("Ticket classified",
		zap.String("ticket_id", ticketID),
		zap.String("category", string(verdict.Category)),
		zap.Int("priority", verdict.Priority),
		zap.Float64("confidence", verdict.Confidence),
	)

	return o.route(ctx, t)
}

// classify runs the classifier under the LLM concurrency limit.
func (o *Orchestrator) classify(ctx context.Context, t *model.Ticket) (classifier.Result, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return classifier.Result{}, err
	}
	defer o.sem.Release(1)
	return o.classifier.Classify(ctx, t.Subject, t.PlainMessage), nil
}

// route decides what happens to a freshly classified ticket.
func (o *Orchestrator) route(ctx context.Context, t *model.Ticket) error {
	if !t.Category.NeedsResponse() {
		if o.cfg.AutoFilter {
			next := model.StatusArchived
			if t.Category == model.CategoryPromotionSpam {
				next = model.StatusFiltered
			}
			if err := o.store.UpdateStatus(ctx, t.ID, next); err != nil {
				return err
			}
			metrics.IncrementTicketProcessed(string(next))
			o.logger.Info("Ticket auto-filtered",
				zap.String("ticket_id", t.ID),
				zap.String("status", string(next)),
			)
			// 通知仅供知情，失败不影响归档结果
			o.notify(ctx, fmt.Sprintf("🗑 Ticket %s from %s auto-%s (%s), no reply needed.",
				t.ID, t.FromEmail, next, t.Category))
			return nil
		}
		// 自动过滤关闭时交给操作员定夺
		return o.forwardToOperator(ctx, t, "auto-filter disabled")
	}

	if !o.cfg.AutoReply {
		return o.forwardToOperator(ctx, t, "auto-reply disabled")
	}

	text, err := o.generateDraft(ctx, t)
	if err != nil {
		if errors.Is(err, draft.ErrDraftFailure) {
			return o.forwardToOperator(ctx, t, err.Error())
		}
		return err
	}

	if err := o.store.SetDraft(ctx, t.ID, text); err != nil {
		return err
	}
	t.Status = model.StatusDrafted
	t.DraftText = text
	metrics.IncrementTicketProcessed(string(model.StatusDrafted))

	return o.notify(ctx, o.presenter.Present(t))
}

func (o *Orchestrator) generateDraft(ctx context.Context, t *model.Ticket) (string, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer o.sem.Release(1)
	return o.drafter.Generate(ctx, t)
}

// forwardToOperator degrades a ticket to manual handling and tells the
// operator why.
func (o *Orchestrator) forwardToOperator(ctx context.Context, t *model.Ticket, reason string) error {
	if err := o.store.UpdateStatus(ctx, t.ID, model.StatusForwarded); err != nil {
		return err
	}
	t.Status = model.StatusForwarded
	t.DraftText = ""
	metrics.IncrementTicketProcessed(string(model.StatusForwarded))
	o.logger.Info("Ticket forwarded for manual handling",
		zap.String("ticket_id", t.ID),
		zap.String("reason", reason),
	)
	return o.notify(ctx, o.presenter.Present(t))
}

func (o *Orchestrator) notify(ctx context.Context, text string) error {
	if err := o.relay.Notify(ctx, text); err != nil {
		o.logger.Error("Failed to notify operator", zap.Error(err))
		return err
	}
	return nil
}

// renderHTML turns plain reply text into the minimal HTML body the
// mail transport expects.
func renderHTML(text string) string {
	escaped := html.EscapeString(text)
	return "<html><body><p>" +
		strings.ReplaceAll(escaped, "\n", "<br>\n") +
		"</p></body></html>"
}
