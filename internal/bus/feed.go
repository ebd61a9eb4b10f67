package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Feed publishes committed world events to a Redis stream so external
// consumers (visualizers, bots) can follow the simulation live.
type Feed struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewFeed connects to Redis and returns a live event feed.
func NewFeed(redisURL, stream string, logger *zap.Logger) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = "hamlet:events"
	}
	return &Feed{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends an event payload to the stream. Called after the event's
// transaction commits; failures are logged by callers, never fatal.
func (f *Feed) Publish(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", f.stream, err)
	}
	return nil
}

// Follow streams events as they are published. Cancel the context to stop.
func (f *Feed) Follow(ctx context.Context) <-chan map[string]any {
	ch := make(chan map[string]any, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{f.stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var payload map[string]any
					if json.Unmarshal([]byte(data), &payload) == nil {
						ch <- payload
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
