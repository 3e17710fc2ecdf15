package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/vault"
)

// EmergencyRefund returns the caller's combined stake from a market the
// owner failed to resolve within the grace window after its resolution
// time. The stake leaves the pool totals, so a late resolution only
// distributes what is still in escrow.
func (e *Engine) EmergencyRefund(ctx context.Context, caller common.Address, marketID uint64) (decimal.Decimal, error) {
	var refunded decimal.Decimal
	err := e.guarded(ctx, func(ctx context.Context) error {
		m, err := e.market(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status.Cancelled {
			return ErrAlreadyCancelled
		}
		if m.Status.Resolved {
			return ErrAlreadyResolved
		}
		if !e.now().After(m.Config.ResolutionTime.Add(e.emergencyGrace)) {
			return ErrRefundNotAvailable
		}

		bet, err := e.bet(ctx, marketID, caller)
		if err != nil {
			return err
		}
		if bet == nil {
			return ErrNothingToClaim
		}
		if bet.Claimed {
			return ErrInvalidClaim
		}
		stake := bet.Total()
		if !stake.IsPositive() {
			return ErrNothingToClaim
		}

		prevStatus, prevBet := m.Status, *bet
		status := m.Status
		status.TotalYes = status.TotalYes.Sub(bet.YesAmount)
		status.TotalNo = status.TotalNo.Sub(bet.NoAmount)
		status.TotalPool = status.TotalPool.Sub(stake)
		bet.Claimed = true

		if err := e.store.PutBet(ctx, status, *bet); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		if err := e.disburse(ctx, m, vault.Transfer{To: caller, Amount: stake}); err != nil {
			if rerr := e.store.PutBet(ctx, prevStatus, prevBet); rerr != nil {
				e.log.Error("restore bet after failed refund",
					"market_id", m.ID, "user", caller.Hex(), "err", rerr)
			}
			return err
		}
		refunded = stake

		e.log.Warn("emergency refund",
			"market_id", m.ID,
			"user", caller.Hex(),
			"amount", stake.String(),
			"resolution_time", m.Config.ResolutionTime,
		)
		e.publish(ctx, model.Event{
			Type:     model.EventEmergencyRefund,
			MarketID: m.ID,
			User:     addrPtr(caller),
			Amount:   stake,
		})
		return nil
	})
	return refunded, err
}

// SweepUnclaimed moves whatever is left in a resolved market's escrow to
// the treasury once the dormancy window has passed. Later claims fail with
// ErrAlreadySwept.
func (e *Engine) SweepUnclaimed(ctx context.Context, caller common.Address, marketID uint64) (decimal.Decimal, error) {
	var swept decimal.Decimal
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, err := e.authorize(ctx, caller)
		if err != nil {
			return err
		}
		m, err := e.market(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Status.Resolved {
			return ErrNotResolved
		}
		if !e.now().After(m.Config.ResolutionTime.Add(e.sweepDormancy)) {
			return ErrSweepNotAvailable
		}

		balance, err := e.vault.EscrowBalance(ctx, m.Config.Asset, m.ID)
		if err != nil {
			return fmt.Errorf("escrow balance: %w", err)
		}
		if !balance.IsPositive() {
			return ErrNothingToSweep
		}

		prev := m.Status
		status := m.Status
		status.Swept = true
		if err := e.store.UpdateStatus(ctx, m.ID, status); err != nil {
			return fmt.Errorf("mark swept: %w", err)
		}
		if err := e.disburse(ctx, m, vault.Transfer{To: st.Treasury, Amount: balance}); err != nil {
			if rerr := e.store.UpdateStatus(ctx, m.ID, prev); rerr != nil {
				e.log.Error("restore status after failed sweep", "market_id", m.ID, "err", rerr)
			}
			return err
		}
		swept = balance

		e.log.Info("unclaimed funds swept",
			"market_id", m.ID, "amount", balance.String(), "treasury", st.Treasury.Hex())
		e.publish(ctx, model.Event{
			Type:     model.EventUnclaimedSwept,
			MarketID: m.ID,
			User:     addrPtr(st.Treasury),
			Amount:   balance,
		})
		return nil
	})
	return swept, err
}
