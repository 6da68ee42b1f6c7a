package ack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores acknowledgments in event_acks, relying on
// UNIQUE(event_id, consumer) to arbitrate concurrent first acks.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const ackColumns = `event_id::text, consumer, status, first_seen_at, last_seen_at, attempts`

func (r *PGRepository) Touch(ctx context.Context, eventID, consumer string, seenAt time.Time) (Record, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE event_acks
SET attempts = attempts + 1,
    last_seen_at = $3
WHERE event_id = $1::uuid AND consumer = $2
RETURNING `+ackColumns, eventID, consumer, seenAt)
	return scanRecord(row)
}

func (r *PGRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO event_acks (event_id, consumer, status, first_seen_at, last_seen_at, attempts)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
RETURNING `+ackColumns,
		rec.EventID, rec.Consumer, rec.Status, rec.FirstSeenAt, rec.LastSeenAt, rec.Attempts)

	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.EventID, &rec.Consumer, &rec.Status, &rec.FirstSeenAt, &rec.LastSeenAt, &rec.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ack: scan: %w", err)
	}
	rec.FirstSeenAt = rec.FirstSeenAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	return rec, nil
}
