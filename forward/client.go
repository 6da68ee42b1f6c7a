// Package forward delivers accepted events and acknowledgments to Core.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"corebridge/ack"
	"corebridge/event"
)

// CoreTimeLayout is the local date-time format Core expects for event timestamps.
const CoreTimeLayout = "2006-01-02T15:04:05"

// ErrUnexpectedStatus wraps non-success responses from Core.
var ErrUnexpectedStatus = errors.New("forward: unexpected core status")

// StatusUpdater is the slice of event.Store the client needs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status event.Status) error
}

type Config struct {
	Enabled            bool
	BaseURL            string
	EventsPath         string
	AcksPath           string
	Timeout            time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// AckPayload is the body sent to Core when a consumer acknowledges an event.
type AckPayload struct {
	EventID     string    `json:"eventId"`
	Consumer    string    `json:"consumer"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// NewAckPayload copies an acknowledgment record into its wire form.
func NewAckPayload(rec ack.Record) AckPayload {
	return AckPayload{
		EventID:     rec.EventID,
		Consumer:    rec.Consumer,
		Status:      rec.Status,
		Attempts:    rec.Attempts,
		FirstSeenAt: rec.FirstSeenAt,
		LastSeenAt:  rec.LastSeenAt,
	}
}

type coreEvent struct {
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Timestamp    string         `json:"timestamp"`
	OriginModule string         `json:"originModule"`
}

// Client posts to Core. Failures are logged and counted, never retried.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	store      StatusUpdater
	dispatcher *Dispatcher
	logger     *zap.Logger
	location   *time.Location
}

type Option func(*Client)

// WithHTTPClient swaps the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLocation sets the zone Core timestamps are rendered in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

func NewClient(cfg Config, store StatusUpdater, dispatcher *Dispatcher, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	logger = logger.Named("forward")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		location:   time.Local,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "core",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether forwarding to Core is switched on.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// ForwardAsync schedules Forward on the dispatcher and returns immediately.
func (c *Client) ForwardAsync(ev event.Event, origin string) {
	if !c.cfg.Enabled {
		return
	}
	err := c.dispatcher.Submit("forward-event", func(ctx context.Context) {
		_ = c.Forward(ctx, ev, origin)
	})
	if err != nil {
		c.logger.Warn("forward not scheduled", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// Forward posts ev to Core and marks it DELIVERED on a 200 or 202 answer.
// The error is informational; the event simply stays RECEIVED.
func (c *Client) Forward(ctx context.Context, ev event.Event, origin string) error {
	if !c.cfg.Enabled {
		return nil
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body := coreEvent{
		Type:         ev.Type,
		Payload:      payload,
		Timestamp:    ev.Timestamp.In(c.location).Format(CoreTimeLayout),
		OriginModule: origin,
	}

	err := c.send(ctx, kindEvent, joinURL(c.cfg.BaseURL, c.cfg.EventsPath), body, func(code int) bool {
		return code == http.StatusOK || code == http.StatusAccepted
	})
	if err != nil {
		c.logger.Warn("forward event failed",
			zap.String("event_id", ev.ID),
			zap.String("origin", origin),
			zap.Error(err))
		return fmt.Errorf("forward: event %s: %w", ev.ID, err)
	}

	if err := c.store.UpdateStatus(ctx, ev.ID, event.StatusDelivered); err != nil {
		c.logger.Error("mark delivered failed", zap.String("event_id", ev.ID), zap.Error(err))
		return fmt.Errorf("forward: mark delivered %s: %w", ev.ID, err)
	}
	c.logger.Info("event delivered", zap.String("event_id", ev.ID), zap.String("origin", origin))
	return nil
}

// ForwardAckAsync schedules ForwardAck on the dispatcher.
func (c *Client) ForwardAckAsync(p AckPayload) {
	if !c.cfg.Enabled {
		return
	}
	err := c.dispatcher.Submit("forward-ack", func(ctx context.Context) {
		_ = c.ForwardAck(ctx, p)
	})
	if err != nil {
		c.logger.Warn("ack forward not scheduled", zap.String("event_id", p.EventID), zap.Error(err))
	}
}

// ForwardAck notifies Core of an acknowledgment. Any 2xx answer counts as delivered.
func (c *Client) ForwardAck(ctx context.Context, p AckPayload) error {
	if !c.cfg.Enabled {
		return nil
	}
	err := c.send(ctx, kindAck, joinURL(c.cfg.BaseURL, c.cfg.AcksPath), p, func(code int) bool {
		return code >= 200 && code < 300
	})
	if err != nil {
		c.logger.Warn("forward ack failed",
			zap.String("event_id", p.EventID),
			zap.String("consumer", p.Consumer),
			zap.Error(err))
		return fmt.Errorf("forward: ack %s/%s: %w", p.EventID, p.Consumer, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, kind, url string, body any, accepted func(int) bool) error {
	raw, err := json.Marshal(body)
	if err != nil {
		forwardTotal.WithLabelValues(kind, outcomeFailed).Inc()
		return fmt.Errorf("encode body: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if !accepted(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return nil, nil
	})

	switch {
	case err == nil:
		forwardTotal.WithLabelValues(kind, outcomeDelivered).Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		forwardTotal.WithLabelValues(kind, outcomeOpen).Inc()
	case errors.Is(err, ErrUnexpectedStatus):
		forwardTotal.WithLabelValues(kind, outcomeRejected).Inc()
	default:
		forwardTotal.WithLabelValues(kind, outcomeFailed).Inc()
	}
	return err
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}
