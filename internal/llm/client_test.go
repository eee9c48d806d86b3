package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"maildesk/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxRetries int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.LLMConfig{
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
		MaxRetries:     maxRetries,
	}, zap.NewNop())
}

func TestCompleteSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"response":"support_request","done":true}`))
	}, 0)

	got, err := c.Complete(context.Background(), "classify this", Options{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "support_request" {
		t.Fatalf("got %q", got)
	}
}

func TestCompleteRetriesServerError(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response":"ok","done":true}`))
	}, 2)

	got, err := c.Complete(context.Background(), "p", Options{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || calls != 2 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestCompleteQuotaExhaustsRetries(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}, 1)

	_, err := c.Complete(context.Background(), "p", Options{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != ErrQuota {
		t.Fatalf("expected quota error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestCompleteBadRequestFailsFast(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}, 3)

	_, err := c.Complete(context.Background(), "p", Options{Model: "m"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != ErrMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls)
	}
}

func TestCompleteUndecodableBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}, 0)

	_, err := c.Complete(context.Background(), "p", Options{Model: "m"})
	if KindOf(err) != ErrMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}, 0)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPingUnreachable(t *testing.T) {
	c := NewClient(config.LLMConfig{
		BaseURL:        "http://127.0.0.1:1",
		TimeoutSeconds: 1,
	}, zap.NewNop())
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain")) != ErrUpstream {
		t.Error("plain errors default to upstream")
	}
	if KindOf(&GenerationError{Kind: ErrTimeout, Err: errors.New("x")}) != ErrTimeout {
		t.Error("wrapped kind lost")
	}
}
