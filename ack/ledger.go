package ack

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"corebridge/event"
)

// EventFinder is the slice of event.Store the ledger needs for diagnostics.
type EventFinder interface {
	FindByID(ctx context.Context, id string) (event.Event, error)
}

// Ledger records idempotent consumption acknowledgments.
type Ledger struct {
	repo   Repository
	events EventFinder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the clock used when the caller supplies no consumption time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLedger(repo Repository, events EventFinder, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		repo:   repo,
		events: events,
		logger: logger.Named("ack"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ack records that consumer processed eventID. The first call for a pair
// creates the record; every later call increments attempts. Unknown events
// are still acknowledged.
func (l *Ledger) Ack(ctx context.Context, eventID, consumer string, consumedAt *time.Time) (Result, error) {
	seenAt := l.now().UTC()
	if consumedAt != nil {
		seenAt = consumedAt.UTC()
	}

	rec, err := l.repo.Touch(ctx, eventID, consumer, seenAt)
	if err == nil {
		return Result{Record: rec}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Result{}, err
	}

	l.checkEvent(ctx, eventID)

	rec, err = l.repo.Insert(ctx, Record{
		EventID:     eventID,
		Consumer:    consumer,
		Status:      StatusConsumed,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
		Attempts:    1,
	})
	if err == nil {
		l.logger.Info("ack recorded",
			zap.String("event_id", eventID),
			zap.String("consumer", consumer))
		return Result{Record: rec, Created: true}, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return Result{}, err
	}

	// A concurrent first ack won the insert; count this call against it.
	rec, err = l.repo.Touch(ctx, eventID, consumer, seenAt)
	if err != nil {
		return Result{}, err
	}
	return Result{Record: rec}, nil
}

func (l *Ledger) checkEvent(ctx context.Context, eventID string) {
	if l.events == nil {
		return
	}
	_, err := l.events.FindByID(ctx, eventID)
	switch {
	case errors.Is(err, event.ErrNotFound):
		l.logger.Warn("ack for unknown event", zap.String("event_id", eventID))
	case err != nil:
		l.logger.Warn("event lookup failed", zap.String("event_id", eventID), zap.Error(err))
	}
}
