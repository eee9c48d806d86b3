package relay

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestTransport() *ConsoleTransport {
	return &ConsoleTransport{
		logger:  zap.NewNop(),
		updates: make(chan string),
		done:    make(chan struct{}),
	}
}

func TestConsoleTransportDeliversLines(t *testing.T) {
	tr := newTestTransport()
	go tr.readLoop(strings.NewReader("list\n\nstatus\n"))

	if got := <-tr.Updates(); got != "list" {
		t.Fatalf("got %q", got)
	}
	if got := <-tr.Updates(); got != "status" {
		t.Fatalf("blank lines must be skipped, got %q", got)
	}
	if _, ok := <-tr.Updates(); ok {
		t.Fatal("updates must close at EOF")
	}
}

func TestConsoleTransportCloseUnblocksReadLoop(t *testing.T) {
	tr := newTestTransport()
	go tr.readLoop(strings.NewReader("orphan line\n"))
	tr.Close()

	// 没有消费者时 Close 必须让读循环退出
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("read loop still blocked after Close")
		}
	}
}
