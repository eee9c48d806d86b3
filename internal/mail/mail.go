// Package mail defines the mailbox boundary: fetching unseen inbound
// messages and sending outbound replies. The concrete transport is
// pluggable so tests and dev runs need no real mailbox.
package mail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawMessage is one inbound email as fetched from the mailbox, before
// any ticket exists for it.
type RawMessage struct {
	From       string
	Subject    string
	HTMLBody   string
	PlainBody  string
	ReceivedAt time.Time
}

// Fingerprint is a stable hash of the message identity, used to
// deduplicate refetches of the same email across poll cycles.
func (m RawMessage) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(m.From))
	h.Write([]byte{0})
	h.Write([]byte(m.Subject))
	h.Write([]byte{0})
	h.Write([]byte(m.PlainBody))
	h.Write([]byte{0})
	h.Write([]byte(m.ReceivedAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// Transport is the mailbox access contract.
type Transport interface {
	// FetchUnseen returns inbound messages not yet marked seen. The
	// transport marks them seen on successful return.
	FetchUnseen(ctx context.Context) ([]RawMessage, error)

	// Send delivers one outbound email. An error means the message was
	// not handed to the mail server; callers must not record a response.
	Send(ctx context.Context, to, subject, htmlBody string) error
}
