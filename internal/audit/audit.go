// Package audit publishes confirmed locker mutations to a redis stream so
// other modules (penalties, rosters) can follow assignments.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry is one confirmed mutation.
type Entry struct {
	Op       string         `json:"op"`
	LockerID int64          `json:"locker_id"`
	Code     string         `json:"code"`
	Status   string         `json:"status"`
	Version  int64          `json:"version"`
	Actor    string         `json:"actor,omitempty"`
	Changes  map[string]any `json:"changes"`
	At       time.Time      `json:"at"`
}

// Publisher records mutation entries.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Publish(context.Context, Entry) error { return nil }

// RedisPublisher appends entries to a redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher creates a publisher writing to stream. The stream is
// trimmed to roughly maxLen entries when maxLen is positive.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends e as a JSON "data" field plus a unix "timestamp".
func (p *RedisPublisher) Publish(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"op":        e.Op,
			"locker_id": e.LockerID,
			"data":      string(data),
			"timestamp": e.At.Unix(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping checks the redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
