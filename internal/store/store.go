// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market, bet or the settings row does
	// not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClaimConflict is returned by SetClaimed when the bet is already in
	// the requested claimed state.
	ErrClaimConflict = errors.New("store: claim state conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Settings ---

	// GetSettings returns the administrative settings, or ErrNotFound
	// before they were first saved.
	GetSettings(ctx context.Context) (*model.Settings, error)

	// SaveSettings persists the administrative settings. MarketCount is
	// owned by the store and ignored.
	SaveSettings(ctx context.Context, s model.Settings) error

	// --- Markets ---

	// CreateMarket allocates the next market id and persists the config
	// with a zero status in one transaction.
	CreateMarket(ctx context.Context, cfg model.MarketConfig) (*model.Market, error)

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets ordered by id.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateStatus replaces the mutable status of a market.
	UpdateStatus(ctx context.Context, id uint64, status model.MarketStatus) error

	// --- Bets ---

	// GetBet returns a user's bet in a market, or ErrNotFound.
	GetBet(ctx context.Context, marketID uint64, user common.Address) (*model.BetInfo, error)

	// ListBets returns all bets of a market.
	ListBets(ctx context.Context, marketID uint64) ([]model.BetInfo, error)

	// ListUserBets returns all bets of a user across markets.
	ListUserBets(ctx context.Context, user common.Address) ([]model.BetInfo, error)

	// PutBet upserts the bet and replaces the market status in one
	// transaction; neither write is visible without the other.
	PutBet(ctx context.Context, status model.MarketStatus, bet model.BetInfo) error

	// SetClaimed moves a bet's claimed flag to the given value, failing with
	// ErrClaimConflict if it already holds that value.
	SetClaimed(ctx context.Context, marketID uint64, user common.Address, claimed bool) error
}
