package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maildesk/pkg/util"
)

type scriptedTransport struct {
	batches [][]RawMessage
	errs    []error
	call    int
}

func (t *scriptedTransport) FetchUnseen(ctx context.Context) ([]RawMessage, error) {
	i := t.call
	t.call++
	if i < len(t.errs) && t.errs[i] != nil {
		return nil, t.errs[i]
	}
	if i < len(t.batches) {
		return t.batches[i], nil
	}
	return nil, nil
}

func (t *scriptedTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	return nil
}

func testDeduper(t *testing.T) *util.Deduper {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return util.NewDeduper(rdb, time.Hour)
}

func message(subject string) RawMessage {
	return RawMessage{
		From:       "customer@example.com",
		Subject:    subject,
		PlainBody:  "body",
		ReceivedAt: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPollHandsMessagesToIntake(t *testing.T) {
	transport := &scriptedTransport{
		batches: [][]RawMessage{{message("first"), message("second")}},
	}

	var got []RawMessage
	intake := func(ctx context.Context, msg RawMessage) error {
		got = append(got, msg)
		return nil
	}

	p := NewPoller(transport, testDeduper(t), intake, time.Minute, zap.NewNop())
	p.poll(context.Background())

	if len(got) != 2 {
		t.Fatalf("expected 2 intakes, got %d", len(got))
	}
	if got[0].Subject != "first" || got[1].Subject != "second" {
		t.Fatalf("messages out of order: %+v", got)
	}
}

func TestPollFetchErrorDoesNotStopPoller(t *testing.T) {
	transport := &scriptedTransport{
		errs:    []error{errors.New("imap down"), nil},
		batches: [][]RawMessage{nil, {message("after recovery")}},
	}

	var got []RawMessage
	intake := func(ctx context.Context, msg RawMessage) error {
		got = append(got, msg)
		return nil
	}

	p := NewPoller(transport, testDeduper(t), intake, time.Minute, zap.NewNop())
	p.poll(context.Background()) // 第一次拉取失败
	p.poll(context.Background()) // 下一轮恢复

	if len(got) != 1 || got[0].Subject != "after recovery" {
		t.Fatalf("poller did not recover after fetch error: %+v", got)
	}
}

func TestPollIntakeErrorDoesNotAffectOthers(t *testing.T) {
	transport := &scriptedTransport{
		batches: [][]RawMessage{{message("bad"), message("good")}},
	}

	var got []string
	intake := func(ctx context.Context, msg RawMessage) error {
		got = append(got, msg.Subject)
		if msg.Subject == "bad" {
			return errors.New("db down")
		}
		return nil
	}

	p := NewPoller(transport, testDeduper(t), intake, time.Minute, zap.NewNop())
	p.poll(context.Background())

	if len(got) != 2 {
		t.Fatalf("one failed intake must not block the rest, got %v", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(&scriptedTransport{}, testDeduper(t), func(ctx context.Context, msg RawMessage) error {
		return nil
	}, 10*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := message("hello")
	b := message("hello")
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical messages must share a fingerprint")
	}

	c := message("different")
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("different messages must not collide")
	}

	d := message("hello")
	d.ReceivedAt = d.ReceivedAt.Add(time.Second)
	if a.Fingerprint() == d.Fingerprint() {
		t.Fatal("received time must be part of the identity")
	}
}
