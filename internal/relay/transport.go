package relay

import (
	"bufio"
	"context"
	"io"
	"os"

	"go.uber.org/zap"
)

// Transport carries text between the service and the operator channel
// (messaging bot, console, ...).
type Transport interface {
	// Notify pushes one message to the operator.
	Notify(ctx context.Context, text string) error

	// Updates streams raw operator messages. The channel closes when
	// the transport shuts down.
	Updates() <-chan string
}

// ConsoleTransport is the dev-mode operator channel: notifications go
// to the log, commands are read line-by-line from stdin.
type ConsoleTransport struct {
	logger  *zap.Logger
	updates chan string
	done    chan struct{}
}

func NewConsoleTransport(logger *zap.Logger) *ConsoleTransport {
	t := &ConsoleTransport{
		logger:  logger,
		updates: make(chan string),
		done:    make(chan struct{}),
	}
	go t.readLoop(os.Stdin)
	return t
}

// Close stops the read loop. Without it the goroutine would sit
// forever on the channel send once the listener is gone.
func (t *ConsoleTransport) Close() {
	close(t.done)
}

func (t *ConsoleTransport) Notify(ctx context.Context, text string) error {
	t.logger.Info("Operator notification\n" + text)
	return nil
}

func (t *ConsoleTransport) Updates() <-chan string {
	return t.updates
}

func (t *ConsoleTransport) readLoop(r io.Reader) {
	defer close(t.updates)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case t.updates <- line:
		case <-t.done:
			return
		}
	}
}
