package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"maildesk/pkg/util"
)

// IntakeFunc receives one deduplicated inbound message. An error means
// intake failed and the message should be retried on a later cycle.
type IntakeFunc func(ctx context.Context, msg RawMessage) error

// Poller periodically fetches unseen mail and hands each new message
// to the intake function. Fetch failures are logged and retried on the
// next tick; the poller itself never stops on error.
type Poller struct {
	transport Transport
	deduper   *util.Deduper
	intake    IntakeFunc
	interval  time.Duration
	logger    *zap.Logger
}

func NewPoller(transport Transport, deduper *util.Deduper, intake IntakeFunc, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		transport: transport,
		deduper:   deduper,
		intake:    intake,
		interval:  interval,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled. One cycle runs immediately at
// startup so a restart does not wait a full interval to drain the
// mailbox.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Mail poller started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Mail poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	messages, err := p.transport.FetchUnseen(ctx)
	if err != nil {
		p.logger.Error("Failed to fetch mail, will retry next cycle", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}
	p.logger.Info("Fetched inbound mail", zap.Int("count", len(messages)))

	for _, msg := range messages {
		// 邮箱重复投递用指纹去重，不依赖服务端 seen 标记
		if !p.deduper.AcquireOnce(ctx, "mail", msg.Fingerprint()) {
			p.logger.Debug("Skipping duplicate message",
				zap.String("from", msg.From),
				zap.String("subject", msg.Subject),
			)
			continue
		}
		if err := p.intake(ctx, msg); err != nil {
			p.logger.Error("Intake failed",
				zap.String("from", msg.From),
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			// 释放指纹，让下个轮询周期重试
			p.deduper.Release(ctx, "mail", msg.Fingerprint())
		}
	}
}
