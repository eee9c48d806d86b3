// Package store provides the authoritative persistence layer for
// tickets and their response history.
package store

import (
	"context"
	"errors"
	"time"

	"maildesk/internal/model"
)

var (
	// ErrNotFound is returned when no ticket exists for the given ID.
	ErrNotFound = errors.New("ticket not found")

	// ErrDuplicateID is returned by Create when the ID is already taken.
	ErrDuplicateID = errors.New("duplicate ticket id")

	// ErrInvalidTransition is returned when the requested status is not
	// reachable from the ticket's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the authoritative record of tickets and responses. All
// mutating operations are serialized per ticket ID by the
// implementation, so two concurrent actions on the same ticket cannot
// both succeed.
type Store interface {
	// Create inserts a new ticket. Fails with ErrDuplicateID if the ID
	// already exists.
	Create(ctx context.Context, t *model.Ticket) error

	// Get returns the ticket or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Ticket, error)

	// UpdateStatus moves the ticket to next, validating the transition
	// against the lifecycle table. Any transition away from drafted
	// clears the draft text.
	UpdateStatus(ctx context.Context, id string, next model.Status) error

	// SetCategory records the classifier verdict. Setting a category on
	// an already-categorized ticket is a no-op (idempotent redelivery).
	SetCategory(ctx context.Context, id string, category model.Category) error

	// SetDraft stores the current AI-proposed reply and moves the
	// ticket to drafted (valid from classified, or from drafted on
	// regeneration).
	SetDraft(ctx context.Context, id string, draft string) error

	// AppendResponse records one outbound reply and, atomically in the
	// same operation, transitions the ticket to responded and stamps
	// RespondedAt on the first send. Valid only from drafted or
	// forwarded_to_support.
	AppendResponse(ctx context.Context, id string, text string, sentAt time.Time) (*model.Response, error)

	// ListActive returns tickets still needing attention (everything
	// except responded, filtered and archived), oldest first.
	ListActive(ctx context.Context) ([]*model.Ticket, error)

	// ListRecent returns the most recent tickets, newest first.
	ListRecent(ctx context.Context, limit int) ([]*model.Ticket, error)

	// Responses returns the append-only response history, oldest first.
	Responses(ctx context.Context, ticketID string) ([]*model.Response, error)

	// Ping verifies connectivity to the backing storage.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close()
}
