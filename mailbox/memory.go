package mailbox

import (
	"context"
	"sync"
)

// MemoryMailbox keeps pending messages in process memory.
type MemoryMailbox struct {
	mu     sync.Mutex
	queues map[string][]Message
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{queues: make(map[string][]Message)}
}

func (m *MemoryMailbox) Enqueue(_ context.Context, destination string, msg Message) error {
	m.mu.Lock()
	m.queues[destination] = append(m.queues[destination], msg)
	m.mu.Unlock()
	return nil
}

func (m *MemoryMailbox) Drain(_ context.Context, destination string) ([]Message, error) {
	m.mu.Lock()
	pending := m.queues[destination]
	delete(m.queues, destination)
	m.mu.Unlock()

	if pending == nil {
		return []Message{}, nil
	}
	return pending, nil
}
