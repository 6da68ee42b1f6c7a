package event

import (
	"context"
	"sync"
)

// MemoryStore keeps events in process memory, listing them in insertion order.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*Event
	bySignature map[string]string
	order       []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*Event),
		bySignature: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, ev Event) (Event, error) {
	sig := ev.Signature()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySignature[sig]; ok {
		return cloneEvent(*s.byID[id]), nil
	}

	stored := cloneEvent(ev)
	s.byID[ev.ID] = &stored
	s.bySignature[sig] = ev.ID
	s.order = append(s.order, ev.ID)
	return cloneEvent(stored), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneEvent(*s.byID[id]))
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0)
	for _, id := range s.order {
		ev := s.byID[id]
		if ev.Status == status {
			out = append(out, cloneEvent(*ev))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.byID[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return cloneEvent(*ev), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.byID[id]; ok {
		ev.Status = status
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byID)), nil
}

// cloneEvent copies the top-level payload map so callers cannot mutate stored state.
func cloneEvent(ev Event) Event {
	if ev.Payload != nil {
		payload := make(map[string]any, len(ev.Payload))
		for k, v := range ev.Payload {
			payload[k] = v
		}
		ev.Payload = payload
	}
	return ev
}
