// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/settlement-engine/internal/model"
)

var (
	// EventsTotal counts committed settlement events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_total",
		Help: "Total number of settlement events emitted",
	}, []string{"type"})

	// BetsTotal counts bets placed, partitioned by side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_bets_total",
		Help: "Total number of bets placed",
	}, []string{"side"})

	// StakedVolume tracks cumulative stake in base units per side.
	StakedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_staked_volume_total",
		Help: "Cumulative staked amount in base units",
	}, []string{"side"})

	// PaidOut tracks cumulative disbursements in base units by recipient
	// class: winner, refund, treasury, referrer.
	PaidOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_paid_out_total",
		Help: "Cumulative disbursed amount in base units",
	}, []string{"recipient"})

	// ResolutionsTotal counts finalized markets by mode and outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_resolutions_total",
		Help: "Markets finalized, by resolution mode and outcome",
	}, []string{"mode", "outcome"})

	// MarketsByPhase is set by the keeper on every scan.
	MarketsByPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_markets",
		Help: "Markets by lifecycle phase",
	}, []string{"phase"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ErrorsTotal counts failed engine calls by error code.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_errors_total",
		Help: "Rejected or failed engine calls by error code",
	}, []string{"code"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder turns settlement events into counters. It is a notify
// publisher.
type Recorder struct{}

func (Recorder) Publish(_ context.Context, ev model.Event) {
	EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case model.EventBetPlaced:
		BetsTotal.WithLabelValues(string(ev.Side)).Inc()
		StakedVolume.WithLabelValues(string(ev.Side)).Add(ev.Amount.InexactFloat64())
	case model.EventWinningsClaimed:
		recipient := "winner"
		if ev.Outcome == model.OutcomeVoid {
			recipient = "refund"
		}
		PaidOut.WithLabelValues(recipient).Add(ev.Amount.InexactFloat64())
	case model.EventFeesDistributed:
		PaidOut.WithLabelValues("treasury").Add(ev.AdminFee.InexactFloat64())
		PaidOut.WithLabelValues("referrer").Add(ev.Referral.InexactFloat64())
	case model.EventEmergencyRefund:
		PaidOut.WithLabelValues("refund").Add(ev.Amount.InexactFloat64())
	case model.EventHouseTake, model.EventUnclaimedSwept:
		PaidOut.WithLabelValues("treasury").Add(ev.Amount.InexactFloat64())
	case model.EventMarketResolved:
		ResolutionsTotal.WithLabelValues(string(ev.Mode), ev.Outcome.String()).Inc()
	case model.EventMarketCancelled:
		ResolutionsTotal.WithLabelValues(string(model.ModeCancelled), model.OutcomeVoid.String()).Inc()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
