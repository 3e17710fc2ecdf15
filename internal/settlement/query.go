package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

// Settings returns the administrative settings.
func (e *Engine) Settings(ctx context.Context) (*model.Settings, error) {
	return e.settings(ctx)
}

// Market returns one market.
func (e *Engine) Market(ctx context.Context, id uint64) (*model.Market, error) {
	return e.market(ctx, id)
}

// Markets returns all markets ordered by id.
func (e *Engine) Markets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}

// Bet returns a user's bet in a market.
func (e *Engine) Bet(ctx context.Context, marketID uint64, user common.Address) (*model.BetInfo, error) {
	if _, err := e.market(ctx, marketID); err != nil {
		return nil, err
	}
	b, err := e.store.GetBet(ctx, marketID, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("bet %d/%s: %w", marketID, user.Hex(), ErrBetNotFound)
	}
	return b, err
}

// Bets returns every bet placed in a market.
func (e *Engine) Bets(ctx context.Context, marketID uint64) ([]model.BetInfo, error) {
	if _, err := e.market(ctx, marketID); err != nil {
		return nil, err
	}
	return e.store.ListBets(ctx, marketID)
}

// UserBets returns a user's bets across markets.
func (e *Engine) UserBets(ctx context.Context, user common.Address) ([]model.BetInfo, error) {
	return e.store.ListUserBets(ctx, user)
}
