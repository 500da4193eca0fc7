package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "studyforge:jobs"

// RedisBus publishes events through Redis pub/sub so every server instance
// can serve progress streams for any job. Local delivery goes through a Hub.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	hub     *Hub
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, channel string) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultRedisChannel
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, channel: channel, hub: NewHub()}, nil
}

// Publish sends ev to every instance, including this one via the forwarder.
func (b *RedisBus) Publish(ctx context.Context, ev JobEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe follows jobID on this instance.
func (b *RedisBus) Subscribe(jobID string) (<-chan JobEvent, func()) {
	return b.hub.Subscribe(jobID)
}

// StartForwarder subscribes to the Redis channel and delivers messages to local
// subscribers until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					slog.Warn("bad redis job event payload", "error", err)
					continue
				}
				b.hub.deliver(ev)
			}
		}
	}()
	return nil
}

func decodeEvent(payload string) (JobEvent, error) {
	var ev JobEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return JobEvent{}, err
	}
	if ev.JobID == "" {
		return JobEvent{}, fmt.Errorf("event without job_id")
	}
	return ev, nil
}

// Close ends local subscriptions and the Redis client.
func (b *RedisBus) Close() error {
	_ = b.hub.Close()
	return b.rdb.Close()
}

// Ping checks the Redis connection.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
