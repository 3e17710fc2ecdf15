package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// DefaultChannel is the Redis pub/sub channel carrying settlement events.
const DefaultChannel = "settlement:events"

// RedisPublisher fans events out to every engine replica and external
// consumer over Redis pub/sub.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel (DefaultChannel if
// empty).
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "type", string(ev.Type), "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		slog.Error("redis publish failed", "channel", p.channel, "event_id", ev.ID, "err", err)
	}
}

// Relay subscribes to the channel and forwards every event to dst until ctx
// is done. Replicas use it to feed their WebSocket hub with events
// committed anywhere in the deployment.
func (p *RedisPublisher) Relay(ctx context.Context, dst Publisher) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("dropping malformed event", "channel", p.channel, "err", err)
				continue
			}
			dst.Publish(ctx, ev)
		}
	}
}
