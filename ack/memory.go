package ack

import (
	"context"
	"sync"
	"time"
)

type key struct {
	eventID  string
	consumer string
}

// MemoryRepository keeps acknowledgment records in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[key]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[key]Record)}
}

func (r *MemoryRepository) Touch(_ context.Context, eventID, consumer string, seenAt time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{eventID, consumer}
	rec, ok := r.records[k]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Attempts++
	rec.LastSeenAt = seenAt
	r.records[k] = rec
	return rec, nil
}

func (r *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{rec.EventID, rec.Consumer}
	if _, ok := r.records[k]; ok {
		return Record{}, ErrDuplicate
	}
	r.records[k] = rec
	return rec, nil
}
