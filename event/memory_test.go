package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveDeduplicatesBySignature(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.UnixMilli(1714564800000)

	first, err := store.Save(ctx, New("OrderCreated", map[string]any{"id": "1"}, ts, "sales", ts))
	require.NoError(t, err)

	second, err := store.Save(ctx, New("OrderCreated", map[string]any{"id": "1"}, ts, "sales", ts))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStore_ConcurrentIdenticalSaves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.UnixMilli(42)

	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			saved, err := store.Save(ctx, New("Dup", map[string]any{"k": "v"}, ts, "sales", ts))
			if err == nil {
				ids[i] = saved.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, _ := store.Count(ctx)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStore_ListOrderAndStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.UnixMilli(1)

	a, _ := store.Save(ctx, New("A", nil, ts, "m", ts))
	b, _ := store.Save(ctx, New("B", nil, ts, "m", ts))
	c, _ := store.Save(ctx, New("C", nil, ts, "m", ts))

	require.NoError(t, store.UpdateStatus(ctx, b.ID, StatusDelivered))
	require.NoError(t, store.UpdateStatus(ctx, "missing", StatusDelivered))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	received, err := store.ListByStatus(ctx, StatusReceived)
	require.NoError(t, err)
	assert.Len(t, received, 2)

	delivered, err := store.ListByStatus(ctx, StatusDelivered)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, b.ID, delivered[0].ID)
}

func TestMemoryStore_FindByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ts := time.UnixMilli(1)

	saved, _ := store.Save(ctx, New("A", map[string]any{"x": 1}, ts, "m", ts))

	got, err := store.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Type, got.Type)

	got.Payload["x"] = 2
	again, _ := store.FindByID(ctx, saved.ID)
	assert.Equal(t, 1, again.Payload["x"])

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_SelectsBackend(t *testing.T) {
	store, mode := Open("memory", nil)
	assert.Equal(t, ModeMemory, mode)
	assert.IsType(t, &MemoryStore{}, store)

	store, mode = Open("DB", nil)
	assert.Equal(t, ModeMemory, mode)
	assert.IsType(t, &MemoryStore{}, store)
}
