package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/notify"
)

type sink struct {
	got []model.EventType
}

func (s *sink) Publish(_ context.Context, ev model.Event) {
	s.got = append(s.got, ev.Type)
}

func TestFanout_PublishesToEveryMember(t *testing.T) {
	a, b := &sink{}, &sink{}
	f := notify.Fanout{a, notify.LogPublisher{}, b}

	f.Publish(context.Background(), model.Event{Type: model.EventBetPlaced})
	f.Publish(context.Background(), model.Event{Type: model.EventMarketResolved})

	for _, s := range []*sink{a, b} {
		if len(s.got) != 2 || s.got[0] != model.EventBetPlaced || s.got[1] != model.EventMarketResolved {
			t.Errorf("unexpected events %v", s.got)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	if got := notify.RoutingKey(model.EventWinningsClaimed); got != "settlement.winnings_claimed" {
		t.Errorf("unexpected routing key %q", got)
	}
}

func TestWSHub_BroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; publish until the client sees a message.
	ev := model.Event{ID: "ev-1", Type: model.EventBetPlaced, MarketID: 7, Amount: decimal.NewFromInt(100)}
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	received := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		close(received)
	}()

	var msg []byte
	for msg == nil && time.Now().Before(deadline) {
		hub.Publish(ctx, ev)
		select {
		case m, ok := <-received:
			if !ok {
				t.Fatal("connection closed before a message arrived")
			}
			msg = m
		case <-time.After(20 * time.Millisecond):
		}
	}
	if msg == nil {
		t.Fatal("no broadcast received")
	}

	var got model.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != model.EventBetPlaced || got.MarketID != 7 || !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected event %+v", got)
	}
}
