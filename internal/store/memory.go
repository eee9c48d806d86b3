package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"maildesk/internal/model"
)

// Memory is an in-memory Store with the same transition semantics as
// Postgres. It backs tests and the `storage: memory` dev mode, where
// no database is available.
type Memory struct {
	mu        sync.Mutex
	tickets   map[string]*model.Ticket
	responses map[string][]*model.Response
	nextID    int64
}

func NewMemory() *Memory {
	return &Memory{
		tickets:   make(map[string]*model.Ticket),
		responses: make(map[string][]*model.Response),
		nextID:    1,
	}
}

func (s *Memory) Create(ctx context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *Memory) Get(ctx context.Context, id string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) UpdateStatus(ctx context.Context, id string, next model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	if next != model.StatusDrafted {
		t.DraftText = ""
	}
	return nil
}

func (s *Memory) SetCategory(ctx context.Context, id string, category model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Category == "" {
		t.Category = category
	}
	return nil
}

func (s *Memory) SetDraft(ctx context.Context, id string, draft string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !t.Status.CanTransitionTo(model.StatusDrafted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.StatusDrafted)
	}
	t.Status = model.StatusDrafted
	t.DraftText = draft
	return nil
}

func (s *Memory) AppendResponse(ctx context.Context, id string, text string, sentAt time.Time) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != model.StatusDrafted && t.Status != model.StatusForwarded {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.StatusResponded)
	}

	t.Status = model.StatusResponded
	t.DraftText = ""
	if t.RespondedAt == nil {
		at := sentAt
		t.RespondedAt = &at
	}

	resp := &model.Response{
		ID:       s.nextID,
		TicketID: id,
		Text:     text,
		SentAt:   sentAt,
	}
	s.nextID++
	s.responses[id] = append(s.responses[id], resp)

	cp := *resp
	return &cp, nil
}

func (s *Memory) ListActive(ctx context.Context) ([]*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Ticket
	for _, t := range s.tickets {
		switch t.Status {
		case model.StatusResponded, model.StatusFiltered, model.StatusArchived:
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *Memory) ListRecent(ctx context.Context, limit int) ([]*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Responses(ctx context.Context, ticketID string) ([]*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.responses[ticketID]
	out := make([]*model.Response, 0, len(src))
	for _, r := range src {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) Close() {}
