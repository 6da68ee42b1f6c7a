package event

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists events and enforces at most one event per signature.
type Store interface {
	// Save stores ev unless an event with the same signature exists, in which
	// case the stored event is returned instead.
	Save(ctx context.Context, ev Event) (Event, error)
	ListAll(ctx context.Context) ([]Event, error)
	ListByStatus(ctx context.Context, status Status) ([]Event, error)
	FindByID(ctx context.Context, id string) (Event, error)
	// UpdateStatus is a no-op for unknown identifiers.
	UpdateStatus(ctx context.Context, id string, status Status) error
	Count(ctx context.Context) (int64, error)
}

const (
	ModeMemory   = "MEMORY"
	ModePostgres = "POSTGRES"
)

// Open picks the backend once at startup. MEMORY in any case forces the
// in-memory store; otherwise PostgreSQL is used when a pool is available.
func Open(storageType string, pool *pgxpool.Pool) (Store, string) {
	if strings.EqualFold(strings.TrimSpace(storageType), ModeMemory) || pool == nil {
		return NewMemoryStore(), ModeMemory
	}
	return NewPGStore(pool), ModePostgres
}
