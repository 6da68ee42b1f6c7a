package ack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"corebridge/event"
)

const eventID = "7f8b3c2e-4d5a-4e6f-9a1b-2c3d4e5f6a7b"

func TestLedger_FirstAckCreates(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger(NewMemoryRepository(), &fakeEvents{known: true}, nil, WithClock(func() time.Time { return now }))

	res, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Record.Attempts)
	assert.Equal(t, StatusConsumed, res.Record.Status)
	assert.True(t, res.Record.FirstSeenAt.Equal(now))
	assert.True(t, res.Record.LastSeenAt.Equal(now))
}

func TestLedger_RepeatIncrementsAttempts(t *testing.T) {
	ledger := NewLedger(NewMemoryRepository(), &fakeEvents{known: true}, nil)
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Minute)

	_, err := ledger.Ack(context.Background(), eventID, "Ventas", &first)
	require.NoError(t, err)

	res, err := ledger.Ack(context.Background(), eventID, "Ventas", &later)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Record.Attempts)
	assert.True(t, res.Record.FirstSeenAt.Equal(first))
	assert.True(t, res.Record.LastSeenAt.Equal(later))
}

func TestLedger_ConsumersAreIndependent(t *testing.T) {
	ledger := NewLedger(NewMemoryRepository(), nil, nil)

	a, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	require.NoError(t, err)
	b, err := ledger.Ack(context.Background(), eventID, "Inventario", nil)
	require.NoError(t, err)

	assert.True(t, a.Created)
	assert.True(t, b.Created)
}

func TestLedger_UnknownEventStillRecordedWithWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ledger := NewLedger(NewMemoryRepository(), &fakeEvents{}, zap.New(core))

	res, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, logs.FilterMessage("ack for unknown event").Len())
}

func TestLedger_ConcurrentFirstAcksConverge(t *testing.T) {
	repo := NewMemoryRepository()
	ledger := NewLedger(repo, nil, nil)

	const calls = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
			if err != nil {
				t.Errorf("ack: %v", err)
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)

	// the next call sees every earlier one
	res, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, calls+1, res.Record.Attempts)
}

func TestLedger_DuplicateInsertFallsBackToTouch(t *testing.T) {
	repo := &racingRepo{MemoryRepository: NewMemoryRepository()}
	ledger := NewLedger(repo, nil, nil)

	res, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Record.Attempts)
}

func TestLedger_RepositoryErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	ledger := NewLedger(&failingRepo{err: boom}, nil, nil)

	_, err := ledger.Ack(context.Background(), eventID, "Ventas", nil)
	assert.ErrorIs(t, err, boom)
}

type fakeEvents struct {
	known bool
}

func (f *fakeEvents) FindByID(ctx context.Context, id string) (event.Event, error) {
	if !f.known {
		return event.Event{}, event.ErrNotFound
	}
	return event.Event{ID: id}, nil
}

// racingRepo simulates another writer inserting the record between Touch and Insert.
type racingRepo struct {
	*MemoryRepository
	raced bool
}

func (r *racingRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.MemoryRepository.Insert(ctx, rec); err != nil {
			return Record{}, err
		}
	}
	return Record{}, ErrDuplicate
}

type failingRepo struct {
	err error
}

func (f *failingRepo) Touch(context.Context, string, string, time.Time) (Record, error) {
	return Record{}, f.err
}

func (f *failingRepo) Insert(context.Context, Record) (Record, error) {
	return Record{}, f.err
}
