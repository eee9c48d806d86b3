// Package model holds the ticket domain types: statuses, categories
// and the lifecycle transition table.
package model

import (
	"fmt"
	"sync"
	"time"
)

// Status is the ticket lifecycle state.
type Status string

const (
	StatusReceived   Status = "received"
	StatusClassified Status = "classified"
	StatusFiltered   Status = "filtered"
	StatusArchived   Status = "archived"
	StatusDrafted    Status = "drafted"
	StatusForwarded  Status = "forwarded_to_support"
	StatusResponded  Status = "responded"
	StatusFailed     Status = "failed"
)

// transitions encodes the forward-only lifecycle. drafted → drafted
// covers regeneration; drafted → forwarded_to_support is the manual
// fallback when no usable draft exists. failed is reachable from any
// non-terminal state and is terminal.
var transitions = map[Status][]Status{
	StatusReceived:   {StatusClassified, StatusArchived, StatusFailed},
	StatusClassified: {StatusFiltered, StatusArchived, StatusDrafted, StatusForwarded, StatusFailed},
	StatusDrafted:    {StatusDrafted, StatusForwarded, StatusResponded, StatusArchived, StatusFailed},
	StatusForwarded:  {StatusResponded, StatusArchived, StatusFailed},
	StatusFiltered:   {},
	StatusArchived:   {},
	StatusResponded:  {},
	StatusFailed:     {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether next is directly reachable from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Category is the classifier's verdict on an inbound email.
type Category string

const (
	CategorySupportRequest  Category = "support_request"
	CategoryPromotionSpam   Category = "promotion_spam"
	CategoryNewsletter      Category = "newsletter"
	CategoryComplaintUrgent Category = "complaint_urgent"
)

// Categories lists every valid label in prompt order.
var Categories = []Category{
	CategorySupportRequest,
	CategoryPromotionSpam,
	CategoryNewsletter,
	CategoryComplaintUrgent,
}

// ParseCategory matches s against the closed label set.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// NeedsResponse reports whether a human (or AI-drafted) reply is
// expected for this category.
func (c Category) NeedsResponse() bool {
	return c == CategorySupportRequest || c == CategoryComplaintUrgent
}

// Ticket is the persistent record of one inbound support email and
// its resolution lifecycle.
type Ticket struct {
	ID           string
	FromEmail    string
	Subject      string
	Message      string // HTML body, kept for rendering history
	PlainMessage string // plain body, used for classification and drafting
	Status       Status
	Category     Category // empty until classified
	DraftText    string   // non-empty only while Status == drafted
	ReceivedAt   time.Time
	RespondedAt  *time.Time
}

// Response is one outbound reply sent for a ticket. Rows are append
// only; they are never updated or deleted while the ticket exists.
type Response struct {
	ID       int64
	TicketID string
	Text     string
	SentAt   time.Time
}

var (
	idMu    sync.Mutex
	idStamp string
	idSeq   int
)

// NewTicketID builds a collision-free ticket ID from the timestamp
// plus an in-process sequence for same-second arrivals, e.g.
// TKT-20250329212840 or TKT-20250329212840-2.
func NewTicketID(now time.Time) string {
	stamp := now.UTC().Format("20060102150405")

	idMu.Lock()
	defer idMu.Unlock()

	if stamp == idStamp {
		idSeq++
		return fmt.Sprintf("TKT-%s-%d", stamp, idSeq)
	}
	idStamp = stamp
	idSeq = 0
	return "TKT-" + stamp
}
