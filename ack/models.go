package ack

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Repository.Touch when no record exists yet.
	ErrNotFound = errors.New("ack: not found")
	// ErrDuplicate signals the insert hit the (event_id, consumer) unique guardrail.
	ErrDuplicate = errors.New("ack: duplicate record")
)

// StatusConsumed is the only state an acknowledgment can be in.
const StatusConsumed = "CONSUMED"

// Record is the acknowledgment of one event by one consumer.
type Record struct {
	EventID     string    `json:"eventId"`
	Consumer    string    `json:"consumer"`
	Status      string    `json:"status"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Attempts    int       `json:"attempts"`
}

// Result reports whether Ack created the record or counted a repeat.
type Result struct {
	Record  Record
	Created bool
}

// Repository stores acknowledgment records keyed by (eventID, consumer).
type Repository interface {
	// Touch atomically increments attempts and sets lastSeenAt, returning
	// ErrNotFound when there is nothing to increment.
	Touch(ctx context.Context, eventID, consumer string, seenAt time.Time) (Record, error)
	// Insert stores a first acknowledgment, returning ErrDuplicate when
	// another writer got there first.
	Insert(ctx context.Context, rec Record) (Record, error)
}
