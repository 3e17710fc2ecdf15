package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/vault"
)

// ResolveAutomatic settles an oracle market from the given round, which
// must be the round straddling the market's resolution time.
func (e *Engine) ResolveAutomatic(ctx context.Context, caller common.Address, marketID uint64, roundID *big.Int) (*model.Market, error) {
	var out *model.Market
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, m, err := e.openMarket(ctx, caller, marketID)
		if err != nil {
			return err
		}
		if m.Config.Manual() {
			return ErrWrongResolutionMode
		}

		res, err := e.resolver.CheckOutcome(ctx, m.Config.OracleFeed, roundID,
			m.Config.ResolutionTime, m.Config.TargetValue, m.Config.ResolveBelow)
		if err != nil {
			return fmt.Errorf("check outcome: %w", err)
		}
		if !res.Valid {
			return ErrInvalidOracleRound
		}

		out, err = e.finalize(ctx, st, m, res.Winner, model.ModeAutomatic, res.Answer)
		return err
	})
	return out, err
}

// ResolveManual settles a manual market with a winner code: 2 Yes, 1 No,
// anything else Void.
func (e *Engine) ResolveManual(ctx context.Context, caller common.Address, marketID uint64, code int) (*model.Market, error) {
	var out *model.Market
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, m, err := e.openMarket(ctx, caller, marketID)
		if err != nil {
			return err
		}
		if !m.Config.Manual() {
			return ErrWrongResolutionMode
		}
		if e.now().Before(m.Config.ResolutionTime) {
			return ErrTooEarly
		}

		out, err = e.finalize(ctx, st, m, code, model.ModeManual, decimal.Zero)
		return err
	})
	return out, err
}

// CancelMarket closes an open market as a full refund.
func (e *Engine) CancelMarket(ctx context.Context, caller common.Address, marketID uint64) (*model.Market, error) {
	var out *model.Market
	err := e.guarded(ctx, func(ctx context.Context) error {
		_, m, err := e.openMarket(ctx, caller, marketID)
		if err != nil {
			return err
		}

		now := e.now()
		m.Status.Resolved = true
		m.Status.Cancelled = true
		m.Status.Outcome = model.OutcomeVoid
		m.Status.Mode = model.ModeCancelled
		m.Status.ResolvedAt = &now
		if err := e.store.UpdateStatus(ctx, m.ID, m.Status); err != nil {
			return fmt.Errorf("cancel market %d: %w", m.ID, err)
		}
		out = m

		e.log.Info("market cancelled", "market_id", m.ID, "total_pool", m.Status.TotalPool.String())
		e.publish(ctx, model.Event{
			Type:     model.EventMarketCancelled,
			MarketID: m.ID,
			Amount:   m.Status.TotalPool,
			Outcome:  model.OutcomeVoid,
			Mode:     model.ModeCancelled,
		})
		return nil
	})
	return out, err
}

// openMarket authorizes the owner and loads a market that is neither
// cancelled nor resolved.
func (e *Engine) openMarket(ctx context.Context, caller common.Address, marketID uint64) (*model.Settings, *model.Market, error) {
	st, err := e.authorize(ctx, caller)
	if err != nil {
		return nil, nil, err
	}
	m, err := e.market(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	if m.Status.Cancelled {
		return nil, nil, ErrAlreadyCancelled
	}
	if m.Status.Resolved {
		return nil, nil, ErrAlreadyResolved
	}
	return st, m, nil
}

// finalize is the single terminal transition shared by both resolution
// paths. When nobody backed the winning side the whole pool goes to the
// treasury at once.
func (e *Engine) finalize(ctx context.Context, st *model.Settings, m *model.Market, code int,
	mode model.ResolutionMode, answer decimal.Decimal) (*model.Market, error) {
	prev := m.Status
	now := e.now()

	status := m.Status
	status.Resolved = true
	status.Outcome = model.OutcomeFromCode(code)
	status.Mode = mode
	status.OracleAnswer = answer
	status.ResolvedAt = &now
	switch status.Outcome {
	case model.OutcomeYes:
		status.WinningPool = status.TotalYes
	case model.OutcomeNo:
		status.WinningPool = status.TotalNo
	default:
		status.WinningPool = decimal.Zero
	}

	houseTake := status.Outcome != model.OutcomeVoid &&
		status.WinningPool.IsZero() && status.TotalPool.IsPositive()
	if houseTake {
		status.HouseTake = status.TotalPool
	}

	if err := e.store.UpdateStatus(ctx, m.ID, status); err != nil {
		return nil, fmt.Errorf("finalize market %d: %w", m.ID, err)
	}
	if houseTake {
		if err := e.disburse(ctx, m, vault.Transfer{To: st.Treasury, Amount: status.HouseTake}); err != nil {
			if rerr := e.store.UpdateStatus(ctx, m.ID, prev); rerr != nil {
				e.log.Error("restore status after failed house take", "market_id", m.ID, "err", rerr)
			}
			return nil, err
		}
	}
	m.Status = status

	e.log.Info("market resolved",
		"market_id", m.ID,
		"outcome", status.Outcome.String(),
		"mode", string(mode),
		"winning_pool", status.WinningPool.String(),
		"total_pool", status.TotalPool.String(),
	)
	e.publish(ctx, model.Event{
		Type:     model.EventMarketResolved,
		MarketID: m.ID,
		Outcome:  status.Outcome,
		Mode:     mode,
		Amount:   status.WinningPool,
	})
	if houseTake {
		e.log.Warn("no winning stake, pool taken by house",
			"market_id", m.ID, "amount", status.HouseTake.String(), "treasury", st.Treasury.Hex())
		e.publish(ctx, model.Event{
			Type:     model.EventHouseTake,
			MarketID: m.ID,
			Amount:   status.HouseTake,
			User:     addrPtr(st.Treasury),
		})
	}
	return m, nil
}
