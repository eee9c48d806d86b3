package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"maildesk/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
    id            VARCHAR(30) PRIMARY KEY,
    from_email    VARCHAR(255) NOT NULL,
    subject       VARCHAR(255) NOT NULL,
    message       TEXT NOT NULL,
    plain_message TEXT NOT NULL,
    status        VARCHAR(50) NOT NULL DEFAULT 'received'
        CHECK (status IN ('received','classified','filtered','archived',
                          'drafted','forwarded_to_support','responded','failed')),
    category      VARCHAR(50),
    draft_text    TEXT,
    received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    responded_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE INDEX IF NOT EXISTS idx_tickets_received_at ON tickets(received_at);

CREATE TABLE IF NOT EXISTS responses (
    id        BIGSERIAL PRIMARY KEY,
    ticket_id VARCHAR(30) NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
    text      TEXT NOT NULL,
    sent_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres is the pgx-backed Store implementation. Per-ticket
// serialization is done with row locks (SELECT ... FOR UPDATE) inside
// short transactions.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tickets/responses tables if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, t *model.Ticket) error {
	query := `
        INSERT INTO tickets (id, from_email, subject, message, plain_message, status, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := s.db.Exec(ctx, query,
		t.ID,
		t.FromEmail,
		t.Subject,
		t.Message,
		t.PlainMessage,
		string(t.Status),
		t.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

const ticketColumns = `
    id, from_email, subject, message, plain_message,
    status, category, draft_text, received_at, responded_at
`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	var category, draft *string
	err := row.Scan(
		&t.ID,
		&t.FromEmail,
		&t.Subject,
		&t.Message,
		&t.PlainMessage,
		&t.Status,
		&category,
		&draft,
		&t.ReceivedAt,
		&t.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	if category != nil {
		t.Category = model.Category(*category)
	}
	if draft != nil {
		t.DraftText = *draft
	}
	return &t, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*model.Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id string, next model.Status) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !cur.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}

	// drafted 以外的状态不允许保留草稿
	query := `
        UPDATE tickets
        SET status = $2,
            draft_text = CASE WHEN $2 = 'drafted' THEN draft_text ELSE NULL END
        WHERE id = $1
    `
	if _, err := tx.Exec(ctx, query, id, string(next)); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) SetCategory(ctx context.Context, id string, category model.Category) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tickets SET category = $2 WHERE id = $1 AND category IS NULL`,
		id, string(category),
	)
	if err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// 已分类（幂等重放）或工单不存在
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM tickets WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check ticket: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	return nil
}

func (s *Postgres) SetDraft(ctx context.Context, id string, draft string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !cur.CanTransitionTo(model.StatusDrafted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, model.StatusDrafted)
	}

	_, err = tx.Exec(ctx,
		`UPDATE tickets SET status = 'drafted', draft_text = $2 WHERE id = $1`,
		id, draft,
	)
	if err != nil {
		return fmt.Errorf("failed to set draft: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) AppendResponse(ctx context.Context, id string, text string, sentAt time.Time) (*model.Response, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 状态流转和插入响应必须在同一个事务里：只记响应不改状态（或反过来）
	// 都是数据一致性事故
	tag, err := tx.Exec(ctx, `
        UPDATE tickets
        SET status = 'responded',
            responded_at = COALESCE(responded_at, $2),
            draft_text = NULL
        WHERE id = $1
          AND status IN ('drafted', 'forwarded_to_support')
    `, id, sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var cur string
		err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1`, id).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check ticket: %w", err)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, model.StatusResponded)
	}

	resp := &model.Response{TicketID: id, Text: text, SentAt: sentAt}
	err = tx.QueryRow(ctx,
		`INSERT INTO responses (ticket_id, text, sent_at) VALUES ($1, $2, $3) RETURNING id`,
		id, text, sentAt,
	).Scan(&resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert response: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return resp, nil
}

func (s *Postgres) ListActive(ctx context.Context) ([]*model.Ticket, error) {
	query := `
        SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status NOT IN ('responded', 'filtered', 'archived')
        ORDER BY received_at ASC
    `
	return s.listTickets(ctx, query)
}

func (s *Postgres) ListRecent(ctx context.Context, limit int) ([]*model.Ticket, error) {
	query := `
        SELECT ` + ticketColumns + `
        FROM tickets
        ORDER BY received_at DESC
        LIMIT $1
    `
	return s.listTickets(ctx, query, limit)
}

func (s *Postgres) listTickets(ctx context.Context, query string, args ...any) ([]*model.Ticket, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *Postgres) Responses(ctx context.Context, ticketID string) ([]*model.Response, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, ticket_id, text, sent_at FROM responses WHERE ticket_id = $1 ORDER BY sent_at ASC, id ASC`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []*model.Response
	for rows.Next() {
		var r model.Response
		if err := rows.Scan(&r.ID, &r.TicketID, &r.Text, &r.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		responses = append(responses, &r)
	}
	return responses, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) Close() {
	s.db.Close()
}

func lockStatus(ctx context.Context, tx pgx.Tx, id string) (model.Status, error) {
	var cur string
	err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock ticket: %w", err)
	}
	return model.Status(cur), nil
}
