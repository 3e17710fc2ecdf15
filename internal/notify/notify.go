// Package notify delivers settlement events to observers: WebSocket
// clients, Redis pub/sub subscribers, an AMQP exchange and the log.
package notify

import (
	"context"
	"log/slog"

	"github.com/atmx/settlement-engine/internal/model"
)

// Publisher receives committed settlement events. Implementations must not
// block the caller for long; the engine publishes while holding its guard.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Fanout publishes every event to each of its members in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.Event) {
	for _, p := range f {
		p.Publish(ctx, ev)
	}
}

// LogPublisher writes one structured line per event.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, ev model.Event) {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		"event_id", ev.ID,
		"type", string(ev.Type),
		"market_id", ev.MarketID,
	}
	if ev.User != nil {
		attrs = append(attrs, "user", ev.User.Hex())
	}
	if !ev.Amount.IsZero() {
		attrs = append(attrs, "amount", ev.Amount.String())
	}
	l.InfoContext(ctx, "settlement event", attrs...)
}
