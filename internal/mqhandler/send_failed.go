package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	contracts "maildesk/contracts/mq"
	"maildesk/internal/orchestrator"
	"maildesk/pkg/mq"
	"maildesk/pkg/util"
)

// SendFailedHandler consumes ticket.send_failed and surfaces the
// failure to the operator so the retry decision stays human.
type SendFailedHandler struct {
	orch      *orchestrator.Orchestrator
	publisher *mq.Publisher
	deduper   *util.Deduper
	logger    *zap.Logger
}

func NewSendFailedHandler(
	orch *orchestrator.Orchestrator,
	publisher *mq.Publisher,
	deduper *util.Deduper,
	logger *zap.Logger,
) *SendFailedHandler {
	return &SendFailedHandler{
		orch:      orch,
		publisher: publisher,
		deduper:   deduper,
		logger:    logger,
	}
}

func (h *SendFailedHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var payload contracts.SendFailedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Error("Undecodable ticket.send_failed payload, sending to DLQ", zap.Error(err))
		if dlqErr := h.publisher.PublishToDLQ(contracts.RoutingKeySendFailed, data, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return nil
	}

	dedupKey := payload.EventID
	if dedupKey == "" {
		dedupKey = payload.TicketID
	}
	if !h.deduper.AcquireOnce(ctx, "send_failed", dedupKey) {
		return nil
	}

	if err := h.orch.NotifySendFailure(ctx, payload); err != nil {
		h.deduper.Release(ctx, "send_failed", dedupKey)
		return err
	}
	return nil
}
