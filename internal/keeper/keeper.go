// Package keeper periodically scans markets, publishes how many sit in each
// lifecycle phase and logs markets that need operator attention: overdue
// resolutions, refund windows that opened and sweepable escrows.
package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
)

// Phase is a market's position in its lifecycle at a point in time.
type Phase string

const (
	PhaseOpen           Phase = "open"
	PhaseClosed         Phase = "closed" // betting over, resolution time not reached
	PhaseAwaiting       Phase = "awaiting_resolution"
	PhaseRefundEligible Phase = "refund_eligible"
	PhaseResolved       Phase = "resolved"
	PhaseSweepEligible  Phase = "sweep_eligible"
	PhaseSwept          Phase = "swept"
	PhaseCancelled      Phase = "cancelled"
)

var phases = []Phase{
	PhaseOpen, PhaseClosed, PhaseAwaiting, PhaseRefundEligible,
	PhaseResolved, PhaseSweepEligible, PhaseSwept, PhaseCancelled,
}

// Windows are the recovery windows the engine enforces.
type Windows struct {
	EmergencyGrace time.Duration
	SweepDormancy  time.Duration
}

// Classify returns the phase of m at now. Boundaries follow the engine:
// refunds and sweeps open strictly after their window ends.
func Classify(m *model.Market, now time.Time, w Windows) Phase {
	res := m.Config.ResolutionTime
	switch m.State() {
	case model.StateCancelled:
		return PhaseCancelled
	case model.StateResolved:
		switch {
		case m.Status.Swept:
			return PhaseSwept
		case now.After(res.Add(w.SweepDormancy)):
			return PhaseSweepEligible
		default:
			return PhaseResolved
		}
	}

	switch {
	case now.Before(m.Config.EndTime):
		return PhaseOpen
	case now.Before(res):
		return PhaseClosed
	case now.After(res.Add(w.EmergencyGrace)):
		return PhaseRefundEligible
	default:
		return PhaseAwaiting
	}
}

// Lister is the read side of the engine the keeper needs.
type Lister interface {
	Markets(ctx context.Context) ([]model.Market, error)
}

// Keeper runs the periodic scan.
type Keeper struct {
	markets  Lister
	windows  Windows
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	last map[uint64]Phase
}

// New creates a Keeper scanning every interval.
func New(markets Lister, windows Windows, interval time.Duration, log *slog.Logger) *Keeper {
	if log == nil {
		log = slog.Default()
	}
	return &Keeper{
		markets:  markets,
		windows:  windows,
		interval: interval,
		now:      time.Now,
		log:      log,
		last:     make(map[uint64]Phase),
	}
}

// SetClock replaces the time source. Not safe to call while Run is active.
func (k *Keeper) SetClock(now func() time.Time) {
	k.now = now
}

// Run scans once immediately and then on every tick until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		if _, err := k.Scan(ctx); err != nil {
			k.log.Error("keeper scan failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan classifies every market, updates the phase gauges and logs phase
// transitions that need attention. It returns the count per phase.
func (k *Keeper) Scan(ctx context.Context) (map[Phase]int, error) {
	markets, err := k.markets.Markets(ctx)
	if err != nil {
		return nil, err
	}

	now := k.now()
	counts := make(map[Phase]int, len(phases))
	for i := range markets {
		m := &markets[i]
		p := Classify(m, now, k.windows)
		counts[p]++

		if k.last[m.ID] != p {
			k.report(m, p)
			k.last[m.ID] = p
		}
	}

	for _, p := range phases {
		metrics.MarketsByPhase.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
	return counts, nil
}

func (k *Keeper) report(m *model.Market, p Phase) {
	switch p {
	case PhaseAwaiting:
		k.log.Warn("market past resolution time",
			"market_id", m.ID,
			"resolution_time", m.Config.ResolutionTime,
			"manual", m.Config.Manual(),
		)
	case PhaseRefundEligible:
		k.log.Warn("market unresolved past grace, emergency refunds open",
			"market_id", m.ID,
			"total_pool", m.Status.TotalPool.String(),
		)
	case PhaseSweepEligible:
		k.log.Info("market escrow eligible for sweep", "market_id", m.ID)
	}
}
