package mailbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMailbox stores each destination's queue as a Redis list so pending
// messages survive restarts and are shared between replicas.
type RedisMailbox struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisMailbox(client *redis.Client, prefix string, logger *zap.Logger) *RedisMailbox {
	if prefix == "" {
		prefix = "corebridge:mailbox"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMailbox{client: client, prefix: prefix, logger: logger.Named("mailbox")}
}

// NewRedisClient parses a redis:// URL and verifies the server responds.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("mailbox: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mailbox: ping redis: %w", err)
	}
	return client, nil
}

func (m *RedisMailbox) key(destination string) string {
	return m.prefix + ":" + destination
}

func (m *RedisMailbox) Enqueue(ctx context.Context, destination string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailbox: encode message: %w", err)
	}
	if err := m.client.RPush(ctx, m.key(destination), raw).Err(); err != nil {
		return fmt.Errorf("mailbox: rpush: %w", err)
	}
	return nil
}

// Drain removes and returns every queued message. The list is already gone
// once entries are decoded, so an undecodable entry is logged and skipped.
func (m *RedisMailbox) Drain(ctx context.Context, destination string) ([]Message, error) {
	key := m.key(destination)

	var rng *redis.StringSliceCmd
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mailbox: drain: %w", err)
	}

	out := make([]Message, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			m.logger.Warn("undecodable mailbox entry dropped",
				zap.String("destination", destination),
				zap.Int("size", len(raw)),
				zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
