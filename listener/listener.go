// Package listener consumes Core's outbound topic and queues each message in
// the destination module's mailbox.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"corebridge/ingest"
	"corebridge/mailbox"
)

// MessageReader is the part of *kafka.Reader the listener drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink accepts decoded Core messages.
type Sink interface {
	Deliver(ctx context.Context, msg mailbox.Message) error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader builds a consumer-group reader for the Core topic.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
		Dialer:      &kafka.Dialer{Timeout: 10 * time.Second},
	})
}

type Listener struct {
	reader  MessageReader
	sink    Sink
	logger  *zap.Logger
	backoff time.Duration
}

func New(reader MessageReader, sink Sink, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		reader:  reader,
		sink:    sink,
		logger:  logger.Named("listener"),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. Undecodable messages are committed and
// skipped; a message whose delivery fails is retried until it succeeds.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("listener started")
	defer l.logger.Info("listener stopped")

	for {
		m, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			l.logger.Error("fetch message failed", zap.Error(err))
			if !l.sleep(ctx) {
				return nil
			}
			continue
		}

		msg, err := decode(m.Value)
		if err != nil {
			l.logger.Warn("skipping undecodable message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		} else if !l.deliver(ctx, msg) {
			return nil
		}

		if err := l.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (l *Listener) deliver(ctx context.Context, msg mailbox.Message) bool {
	for {
		err := l.sink.Deliver(ctx, msg)
		if err == nil {
			return true
		}
		l.logger.Error("deliver failed",
			zap.String("origin_module", msg.OriginModule),
			zap.String("type", msg.Type),
			zap.Error(err))
		if !l.sleep(ctx) {
			return false
		}
	}
}

func (l *Listener) sleep(ctx context.Context) bool {
	t := time.NewTimer(l.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close releases the underlying reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}

type wireMessage struct {
	Type         string `json:"type"`
	Payload      any    `json:"payload"`
	Timestamp    any    `json:"timestamp"`
	OriginModule string `json:"originModule"`
}

func decode(raw []byte) (mailbox.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return mailbox.Message{}, fmt.Errorf("listener: decode: %w", err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return mailbox.Message{}, fmt.Errorf("listener: message has no type")
	}
	ts, _ := ingest.ParseTimestamp(w.Timestamp)
	return mailbox.Message{
		Type:         w.Type,
		Payload:      ingest.NormalizePayload(w.Payload),
		Timestamp:    ts,
		OriginModule: w.OriginModule,
	}, nil
}
