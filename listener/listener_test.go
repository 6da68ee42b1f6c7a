package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corebridge/mailbox"
)

func TestListener_RoutesAndSkipsPoison(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte(`{"type":"StockReserved","payload":{"sku":"X"},"timestamp":"2024-05-01T12:00:00Z","originModule":"ecommerce-app"}`)},
		kafka.Message{Offset: 2, Value: []byte(`{not json`)},
		kafka.Message{Offset: 3, Value: []byte(`{"type":"Report","payload":"done","timestamp":1714564800000,"originModule":"analytics-service"}`)},
	)
	sink := &fakeSink{}
	l := New(reader, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	reader.onDrained = cancel
	require.NoError(t, l.Run(ctx))

	got := sink.messages()
	require.Len(t, got, 2)
	assert.Equal(t, "ecommerce-app", got[0].OriginModule)
	assert.Equal(t, map[string]any{"sku": "X"}, got[0].Payload)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "analytics-service", got[1].OriginModule)
	assert.Equal(t, map[string]any{"value": "done"}, got[1].Payload)

	assert.Equal(t, []int64{1, 2, 3}, reader.committedOffsets())
}

func TestListener_RetriesFailedDelivery(t *testing.T) {
	reader := newFakeReader(kafka.Message{Offset: 7, Value: []byte(`{"type":"X","originModule":"m"}`)})
	sink := &fakeSink{failures: 2}
	l := New(reader, sink, nil)
	l.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	reader.onDrained = cancel
	require.NoError(t, l.Run(ctx))

	assert.Len(t, sink.messages(), 1)
	assert.Equal(t, 3, sink.attempts)
	assert.Equal(t, []int64{7}, reader.committedOffsets())
}

func TestDecode_RequiresType(t *testing.T) {
	_, err := decode([]byte(`{"originModule":"m"}`))
	assert.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	onDrained func()
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()

	if f.onDrained != nil {
		f.onDrained()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type fakeSink struct {
	mu       sync.Mutex
	failures int
	attempts int
	got      []mailbox.Message
}

func (f *fakeSink) Deliver(ctx context.Context, msg mailbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("redis down")
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSink) messages() []mailbox.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.Message(nil), f.got...)
}
