package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events in the events table; UNIQUE(signature) arbitrates
// concurrent saves of the same content.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const eventColumns = `id::text, type, payload, occurred_at, origin_module, status`

func (s *PGStore) Save(ctx context.Context, ev Event) (Event, error) {
	sig := ev.Signature()

	existing, err := s.findBySignature(ctx, sig)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Event{}, err
	}

	payload, err := json.Marshal(nonNilPayload(ev.Payload))
	if err != nil {
		return Event{}, fmt.Errorf("event: marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO events (id, type, payload, occurred_at, origin_module, status, signature)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Type, payload, ev.Timestamp, ev.OriginModule, string(ev.Status), sig)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the race against an identical submission.
			return s.findBySignature(ctx, sig)
		}
		return Event{}, fmt.Errorf("event: insert: %w", err)
	}
	return ev, nil
}

func (s *PGStore) ListAll(ctx context.Context) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("event: list: %w", err)
	}
	return collectEvents(rows)
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("event: list by status: %w", err)
	}
	return collectEvents(rows)
}

func (s *PGStore) FindByID(ctx context.Context, id string) (Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id::text = $1`, id)
	return scanEvent(row)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if _, err := s.pool.Exec(ctx, `UPDATE events SET status = $2 WHERE id::text = $1`, id, string(status)); err != nil {
		return fmt.Errorf("event: update status: %w", err)
	}
	return nil
}

func (s *PGStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("event: count: %w", err)
	}
	return n, nil
}

func (s *PGStore) findBySignature(ctx context.Context, sig string) (Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE signature = $1`, sig)
	return scanEvent(row)
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev      Event
		payload []byte
		ts      time.Time
		status  string
	)
	if err := row.Scan(&ev.ID, &ev.Type, &payload, &ts, &ev.OriginModule, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("event: scan: %w", err)
	}
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return Event{}, fmt.Errorf("event: decode payload: %w", err)
	}
	ev.Payload = nonNilPayload(ev.Payload)
	ev.Timestamp = ts.UTC()
	ev.Status = Status(status)
	return ev, nil
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event: iterate rows: %w", err)
	}
	return out, nil
}

func nonNilPayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
