package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport is the dev-mode mailbox: it never receives mail and
// logs outbound sends instead of delivering them. Useful for running
// the pipeline locally against the console relay.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) FetchUnseen(ctx context.Context) ([]RawMessage, error) {
	return nil, nil
}

func (t *LogTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	t.logger.Info("Outbound mail (log transport)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_chars", len(htmlBody)),
	)
	return nil
}
