// Package mailbox holds messages from Core until the destination module polls.
package mailbox

import (
	"context"
	"time"
)

// Message is a Core-originated notification addressed to a module.
type Message struct {
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Timestamp    time.Time      `json:"timestamp"`
	OriginModule string         `json:"originModule"`
}

// Mailbox is a per-destination FIFO queue. Drain removes and returns every
// pending message; an unknown destination yields an empty slice.
type Mailbox interface {
	Enqueue(ctx context.Context, destination string, msg Message) error
	Drain(ctx context.Context, destination string) ([]Message, error)
}
