// Package ingest orchestrates the bridge operations: authenticate the caller,
// check the allow-list, then store, acknowledge or relay.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"corebridge/ack"
	"corebridge/event"
	"corebridge/forward"
	"corebridge/mailbox"
	"corebridge/registry"
)

// Authenticator resolves a raw Authorization value to a client identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (string, error)
}

// Forwarder hands accepted work to Core without blocking the request.
type Forwarder interface {
	ForwardAsync(ev event.Event, origin string)
	ForwardAckAsync(p forward.AckPayload)
}

type Deps struct {
	Auth      Authenticator
	Registry  *registry.Registry
	Store     event.Store
	Ledger    *ack.Ledger
	Mailbox   mailbox.Mailbox
	Forwarder Forwarder
	Logger    *zap.Logger
}

type Pipeline struct {
	auth      Authenticator
	registry  *registry.Registry
	store     event.Store
	ledger    *ack.Ledger
	mailbox   mailbox.Mailbox
	forwarder Forwarder
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Pipeline)

// WithClock overrides the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(deps Deps, opts ...Option) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		auth:      deps.Auth,
		registry:  deps.Registry,
		store:     deps.Store,
		ledger:    deps.Ledger,
		mailbox:   deps.Mailbox,
		forwarder: deps.Forwarder,
		validate:  validator.New(),
		logger:    logger.Named("ingest"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Receive accepts an event from an allow-listed module. Identical content
// returns the event stored first; either way the event is handed to Core.
func (p *Pipeline) Receive(ctx context.Context, credential string, body []byte) (event.Event, error) {
	env, err := DecodeEnvelope(p.validate, body)
	if err != nil {
		return event.Event{}, err
	}

	clientID, err := p.authorize(ctx, credential)
	if err != nil {
		return event.Event{}, err
	}

	if strings.TrimSpace(env.Type) == "" {
		return event.Event{}, &ValidationError{Reason: "type is required"}
	}
	if env.OriginModule != "" && env.OriginModule != clientID {
		p.logger.Warn("body originModule ignored",
			zap.String("client_id", clientID),
			zap.String("body_origin", env.OriginModule))
	}

	now := p.now()
	ts, ok := ParseTimestamp(env.Timestamp)
	if !ok {
		ts = now
	}

	ev := event.New(env.Type, NormalizePayload(env.Payload), ts, clientID, now)
	saved, err := p.store.Save(ctx, ev)
	if err != nil {
		return event.Event{}, fmt.Errorf("ingest: save event: %w", err)
	}

	if saved.ID != ev.ID {
		eventsReceived.WithLabelValues("duplicate").Inc()
		p.logger.Info("duplicate event",
			zap.String("event_id", saved.ID),
			zap.String("client_id", clientID),
			zap.String("type", saved.Type))
	} else {
		eventsReceived.WithLabelValues("stored").Inc()
		p.logger.Info("event received",
			zap.String("event_id", saved.ID),
			zap.String("client_id", clientID),
			zap.String("type", saved.Type))
	}

	p.forwarder.ForwardAsync(saved, p.registry.CanonicalOrigin(clientID))
	return saved, nil
}

// List returns stored events, optionally filtered by status. Any valid token
// may list; the allow-list is not consulted.
func (p *Pipeline) List(ctx context.Context, credential, status string) ([]event.Event, error) {
	if _, err := p.auth.Authenticate(ctx, credential); err != nil {
		return nil, err
	}

	if strings.TrimSpace(status) == "" {
		events, err := p.store.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingest: list events: %w", err)
		}
		return events, nil
	}

	st, err := event.ParseStatus(status)
	if err != nil {
		return nil, &ValidationError{Reason: "invalid status"}
	}
	events, err := p.store.ListByStatus(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("ingest: list events: %w", err)
	}
	return events, nil
}

// Poll drains the caller's mailbox.
func (p *Pipeline) Poll(ctx context.Context, credential string) ([]mailbox.Message, error) {
	clientID, err := p.authorize(ctx, credential)
	if err != nil {
		return nil, err
	}

	msgs, err := p.mailbox.Drain(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("ingest: drain mailbox: %w", err)
	}
	if len(msgs) > 0 {
		mailboxMessages.WithLabelValues("drained").Add(float64(len(msgs)))
		p.logger.Info("mailbox drained", zap.String("client_id", clientID), zap.Int("count", len(msgs)))
	}
	return msgs, nil
}

// Acknowledge records that the caller consumed eventID. The consumer is the
// caller's canonical origin name, which is also returned.
func (p *Pipeline) Acknowledge(ctx context.Context, credential, eventID string, body []byte) (ack.Result, string, error) {
	clientID, err := p.authorize(ctx, credential)
	if err != nil {
		return ack.Result{}, "", err
	}

	id, err := uuid.Parse(strings.TrimSpace(eventID))
	if err != nil {
		return ack.Result{}, "", &ValidationError{Reason: "invalid event id"}
	}

	consumer := p.registry.CanonicalOrigin(clientID)
	res, err := p.ledger.Ack(ctx, id.String(), consumer, consumedAt(body))
	if err != nil {
		return ack.Result{}, "", fmt.Errorf("ingest: ack: %w", err)
	}

	if res.Created {
		acksRecorded.WithLabelValues("created").Inc()
	} else {
		acksRecorded.WithLabelValues("repeat").Inc()
	}
	p.forwarder.ForwardAckAsync(forward.NewAckPayload(res.Record))
	return res, consumer, nil
}

// Deliver queues a Core message for the module named in its originModule.
// Messages without a destination are dropped.
func (p *Pipeline) Deliver(ctx context.Context, msg mailbox.Message) error {
	dest := strings.TrimSpace(msg.OriginModule)
	if dest == "" {
		p.logger.Warn("core message without originModule dropped", zap.String("type", msg.Type))
		return nil
	}
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now().UTC()
	}

	if err := p.mailbox.Enqueue(ctx, dest, msg); err != nil {
		return fmt.Errorf("ingest: enqueue for %s: %w", dest, err)
	}
	mailboxMessages.WithLabelValues("enqueued").Inc()
	return nil
}

func (p *Pipeline) authorize(ctx context.Context, credential string) (string, error) {
	clientID, err := p.auth.Authenticate(ctx, credential)
	if err != nil {
		return "", err
	}
	if !p.registry.IsAuthorized(clientID) {
		p.logger.Warn("module not authorized", zap.String("client_id", clientID))
		return "", &ForbiddenError{ClientID: clientID}
	}
	return clientID, nil
}

// consumedAt reads the optional consumedAt field of an ack body. An empty or
// unreadable body means "now".
func consumedAt(body []byte) *time.Time {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	ts, ok := ParseTimestamp(fields["consumedAt"])
	if !ok {
		return nil
	}
	return &ts
}
