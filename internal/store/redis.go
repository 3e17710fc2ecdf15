package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveSettings(ctx context.Context, st model.Settings) error {
	if err := s.primary.SaveSettings(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey)
	return nil
}

func (s *CachedStore) CreateMarket(ctx context.Context, cfg model.MarketConfig) (*model.Market, error) {
	m, err := s.primary.CreateMarket(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// market_count moved.
	s.rdb.Del(ctx, settingsKey)
	s.cache(ctx, marketKey(m.ID), m)
	return m, nil
}

func (s *CachedStore) UpdateStatus(ctx context.Context, id uint64, status model.MarketStatus) error {
	if err := s.primary.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) PutBet(ctx context.Context, status model.MarketStatus, bet model.BetInfo) error {
	if err := s.primary.PutBet(ctx, status, bet); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(bet.MarketID), betKeyOf(bet.MarketID, bet.User))
	return nil
}

func (s *CachedStore) SetClaimed(ctx context.Context, marketID uint64, user common.Address, claimed bool) error {
	err := s.primary.SetClaimed(ctx, marketID, user, claimed)
	s.rdb.Del(ctx, betKeyOf(marketID, user))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var st model.Settings
	if s.load(ctx, settingsKey, &st) {
		return &st, nil
	}

	got, err := s.primary.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, settingsKey, got)
	return got, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	var m model.Market
	if s.load(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketKey(id), got)
	return got, nil
}

func (s *CachedStore) GetBet(ctx context.Context, marketID uint64, user common.Address) (*model.BetInfo, error) {
	var b model.BetInfo
	if s.load(ctx, betKeyOf(marketID, user), &b) {
		return &b, nil
	}

	got, err := s.primary.GetBet(ctx, marketID, user)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, betKeyOf(marketID, user), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListBets(ctx context.Context, marketID uint64) ([]model.BetInfo, error) {
	return s.primary.ListBets(ctx, marketID)
}

func (s *CachedStore) ListUserBets(ctx context.Context, user common.Address) ([]model.BetInfo, error) {
	return s.primary.ListUserBets(ctx, user)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) load(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

const settingsKey = "settlement:settings"

func marketKey(id uint64) string { return fmt.Sprintf("settlement:market:%d", id) }

func betKeyOf(marketID uint64, user common.Address) string {
	return fmt.Sprintf("settlement:bet:%d:%s", marketID, user.Hex())
}
