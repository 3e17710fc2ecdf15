package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/vault"
)

// CreateMarket opens a new market. Creator and CreatedAt are filled in by
// the engine.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, cfg model.MarketConfig) (*model.Market, error) {
	var m *model.Market
	err := e.guarded(ctx, func(ctx context.Context) error {
		if _, err := e.authorize(ctx, caller); err != nil {
			return err
		}

		now := e.now()
		if !cfg.EndTime.After(now) || cfg.ResolutionTime.Before(cfg.EndTime) {
			return ErrInvalidSchedule
		}
		if cfg.Question == "" || cfg.MinBet.IsNegative() || !cfg.MinBet.IsInteger() {
			return ErrInvalidMarket
		}
		cfg.Creator = caller
		cfg.CreatedAt = now

		created, err := e.store.CreateMarket(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create market: %w", err)
		}
		m = created

		e.log.Info("market created",
			"market_id", m.ID,
			"question", cfg.Question,
			"end_time", cfg.EndTime,
			"resolution_time", cfg.ResolutionTime,
			"manual", cfg.Manual(),
			"asset", cfg.Asset.Hex(),
			"min_bet", cfg.MinBet.String(),
		)
		e.publish(ctx, model.Event{
			Type:     model.EventMarketCreated,
			MarketID: m.ID,
			Question: cfg.Question,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// BetRequest is one stake placed on a market.
type BetRequest struct {
	MarketID uint64
	Side     model.Side
	Amount   decimal.Decimal
	// Attached is the native value sent along with the call. It must equal
	// Amount on native-asset markets and be zero otherwise.
	Attached decimal.Decimal
	Referrer common.Address
}

// PlaceBet stakes req.Amount on one side of a market. The referrer is only
// recorded on the caller's first bet in that market.
func (e *Engine) PlaceBet(ctx context.Context, caller common.Address, req BetRequest) (*model.BetInfo, error) {
	var placed *model.BetInfo
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, err := e.settings(ctx)
		if err != nil {
			return err
		}
		if st.Paused {
			return ErrMarketPaused
		}

		m, err := e.market(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if m.Status.Resolved || m.Status.Cancelled || !e.now().Before(m.Config.EndTime) {
			return ErrBettingClosed
		}
		if req.Side != model.SideYes && req.Side != model.SideNo {
			return ErrInvalidSide
		}
		if !req.Amount.IsInteger() {
			return ErrInvalidAmount
		}
		if !req.Amount.IsPositive() || req.Amount.LessThan(m.Config.MinBet) {
			return ErrBelowMinimum
		}
		if m.Config.NativeAsset() {
			if !req.Attached.Equal(req.Amount) {
				return ErrPaymentMismatch
			}
		} else if !req.Attached.IsZero() {
			return ErrPaymentMismatch
		}

		bet, err := e.bet(ctx, m.ID, caller)
		if err != nil {
			return err
		}
		if bet == nil {
			bet = &model.BetInfo{MarketID: m.ID, User: caller}
			if req.Referrer != (common.Address{}) && req.Referrer != caller {
				bet.Referrer = req.Referrer
			}
		}

		status := m.Status
		if req.Side == model.SideYes {
			bet.YesAmount = bet.YesAmount.Add(req.Amount)
			status.TotalYes = status.TotalYes.Add(req.Amount)
		} else {
			bet.NoAmount = bet.NoAmount.Add(req.Amount)
			status.TotalNo = status.TotalNo.Add(req.Amount)
		}
		status.TotalPool = status.TotalPool.Add(req.Amount)

		if err := e.vault.Deposit(ctx, m.Config.Asset, m.ID, caller, req.Amount); err != nil {
			if errors.Is(err, vault.ErrInsufficientFunds) || errors.Is(err, vault.ErrInvalidAmount) {
				return fmt.Errorf("%w: %v", ErrPaymentMismatch, err)
			}
			return fmt.Errorf("deposit: %w", err)
		}
		if err := e.store.PutBet(ctx, status, *bet); err != nil {
			// Hand the stake back; the bet never happened.
			if rerr := e.disburse(ctx, m, vault.Transfer{To: caller, Amount: req.Amount}); rerr != nil {
				e.log.Error("bet refund after failed write",
					"market_id", m.ID, "user", caller.Hex(), "amount", req.Amount.String(), "err", rerr)
			}
			return fmt.Errorf("record bet: %w", err)
		}
		placed = bet

		e.log.Info("bet placed",
			"market_id", m.ID,
			"user", caller.Hex(),
			"side", string(req.Side),
			"amount", req.Amount.String(),
			"total_pool", status.TotalPool.String(),
		)
		e.publish(ctx, model.Event{
			Type:     model.EventBetPlaced,
			MarketID: m.ID,
			User:     addrPtr(caller),
			Side:     req.Side,
			Amount:   req.Amount,
			Referrer: addrPtr(bet.Referrer),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}
