// Package mqhandler adapts MQ deliveries to orchestrator calls: decode
// and dedup on the way in, retry/DLQ policy on the way out.
package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	contracts "maildesk/contracts/mq"
	"maildesk/internal/model"
	"maildesk/internal/orchestrator"
	"maildesk/internal/store"
	"maildesk/pkg/mq"
	"maildesk/pkg/util"
)

// maxProcessRetries caps requeue cycles for one ticket.received event
// before the ticket is parked as failed.
const maxProcessRetries = 5

// TicketReceivedHandler consumes ticket.received and runs the
// classify-and-route pipeline.
type TicketReceivedHandler struct {
	orch      *orchestrator.Orchestrator
	store     store.Store
	publisher *mq.Publisher
	deduper   *util.Deduper
	retries   *util.RetryCounter
	logger    *zap.Logger
}

func NewTicketReceivedHandler(
	orch *orchestrator.Orchestrator,
	st store.Store,
	publisher *mq.Publisher,
	deduper *util.Deduper,
	retries *util.RetryCounter,
	logger *zap.Logger,
) *TicketReceivedHandler {
	return &TicketReceivedHandler{
		orch:      orch,
		store:     st,
		publisher: publisher,
		deduper:   deduper,
		retries:   retries,
		logger:    logger,
	}
}

// Handle is the mq.MessageHandler. Returning an error requeues the
// delivery; returning nil acks it, including for poison messages that
// went to the DLQ.
func (h *TicketReceivedHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var payload contracts.TicketReceivedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Error("Undecodable ticket.received payload, sending to DLQ", zap.Error(err))
		if dlqErr := h.publisher.PublishToDLQ(contracts.RoutingKeyTicketReceived, data, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish to DLQ", zap.Error(dlqErr))
			return dlqErr // 连 DLQ 都发不出去才重新入队
		}
		return nil
	}
	if payload.TicketID == "" {
		h.logger.Error("ticket.received payload missing ticket_id")
		if dlqErr := h.publisher.PublishToDLQ(contracts.RoutingKeyTicketReceived, data, "missing ticket_id"); dlqErr != nil {
			return dlqErr
		}
		return nil
	}

	dedupKey := payload.EventID
	if dedupKey == "" {
		dedupKey = payload.TicketID
	}
	if !h.deduper.AcquireOnce(ctx, "pipeline", dedupKey) {
		return nil
	}

	if err := h.orch.Process(ctx, payload.TicketID); err != nil {
		// 失败必须释放去重锁，否则重投递会被当成重复直接吞掉
		h.deduper.Release(ctx, "pipeline", dedupKey)
		return h.handleProcessError(ctx, payload, data, err)
	}
	return nil
}

func (h *TicketReceivedHandler) handleProcessError(ctx context.Context, payload contracts.TicketReceivedPayload, raw []byte, procErr error) error {
	retryable, errType := util.IsRetryableError(procErr)

	retryKey := util.FormatRetryKey("pipeline", payload.TicketID)
	count, cntErr := h.retries.IncrementAndGet(ctx, retryKey)
	if cntErr != nil {
		h.logger.Warn("Failed to count pipeline retry", zap.Error(cntErr))
		count = 1
	}

	if util.ShouldRetry(count, maxProcessRetries, retryable) {
		h.logger.Warn("Pipeline failed, requeueing",
			zap.String("ticket_id", payload.TicketID),
			zap.String("error_type", errType),
			zap.Int64("retry", count),
			zap.Error(procErr),
		)
		return fmt.Errorf("pipeline failed (%s): %w", errType, procErr)
	}

	// 重试预算用完（或不可重试）：工单置为 failed 并进 DLQ 留档
	h.logger.Error("Pipeline failed permanently, parking ticket",
		zap.String("ticket_id", payload.TicketID),
		zap.String("error_type", errType),
		zap.Int64("retries", count),
		zap.Error(procErr),
	)
	if err := h.store.UpdateStatus(ctx, payload.TicketID, model.StatusFailed); err != nil {
		h.logger.Error("Failed to park ticket as failed",
			zap.String("ticket_id", payload.TicketID),
			zap.Error(err),
		)
	}
	if err := h.publisher.PublishToDLQ(contracts.RoutingKeyTicketReceived, raw, procErr.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
	if err := h.retries.Reset(ctx, retryKey); err != nil {
		h.logger.Warn("Failed to reset pipeline retry counter", zap.Error(err))
	}
	return nil
}
