package forward

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned by Submit after Close has been called.
var ErrDispatcherClosed = errors.New("forward: dispatcher closed")

// Dispatcher runs fire-and-forget tasks in the background with bounded
// parallelism. Tasks are detached from the submitter's context; they see a
// context that is cancelled only if Close gives up waiting.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(workers int64, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:    semaphore.NewWeighted(workers),
		logger: logger.Named("dispatcher"),
		base:   base,
		cancel: cancel,
	}
}

// Submit schedules task and returns immediately.
func (d *Dispatcher) Submit(name string, task func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.base, 1); err != nil {
			d.logger.Warn("task dropped", zap.String("task", name), zap.Error(err))
			return
		}
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		task(d.base)
	}()
	return nil
}

// Close stops intake and waits for submitted tasks. If ctx expires first the
// remaining tasks are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
