package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/settlement-engine/internal/model"
)

type betKey struct {
	marketID uint64
	user     common.Address
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	settings *model.Settings
	count    uint64
	markets  map[uint64]*model.Market
	bets     map[betKey]*model.BetInfo
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[uint64]*model.Market),
		bets:    make(map[betKey]*model.BetInfo),
	}
}

func (s *MemoryStore) GetSettings(_ context.Context) (*model.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, ErrNotFound
	}
	copy := *s.settings
	copy.MarketCount = s.count
	return &copy, nil
}

func (s *MemoryStore) SaveSettings(_ context.Context, st model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.MarketCount = s.count
	s.settings = &st
	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, cfg model.MarketConfig) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		return nil, fmt.Errorf("create market: settings %w", ErrNotFound)
	}

	s.count++
	m := &model.Market{ID: s.count, Config: cfg}
	s.markets[m.ID] = m

	copy := *m
	return &copy, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uint64, status model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, marketID uint64, user common.Address) (*model.BetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[betKey{marketID, user}]
	if !ok {
		return nil, fmt.Errorf("bet %d/%s: %w", marketID, user.Hex(), ErrNotFound)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) ListBets(_ context.Context, marketID uint64) ([]model.BetInfo, error) {
	return s.filterBets(func(b *model.BetInfo) bool { return b.MarketID == marketID }), nil
}

func (s *MemoryStore) ListUserBets(_ context.Context, user common.Address) ([]model.BetInfo, error) {
	return s.filterBets(func(b *model.BetInfo) bool { return b.User == user }), nil
}

// PutBet applies both writes under one lock so readers never observe the
// bet without the matching pool totals.
func (s *MemoryStore) PutBet(_ context.Context, status model.MarketStatus, bet model.BetInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return fmt.Errorf("market %d: %w", bet.MarketID, ErrNotFound)
	}
	m.Status = status
	s.bets[betKey{bet.MarketID, bet.User}] = &bet
	return nil
}

func (s *MemoryStore) SetClaimed(_ context.Context, marketID uint64, user common.Address, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betKey{marketID, user}]
	if !ok {
		return fmt.Errorf("bet %d/%s: %w", marketID, user.Hex(), ErrNotFound)
	}
	if b.Claimed == claimed {
		return ErrClaimConflict
	}
	b.Claimed = claimed
	return nil
}

func (s *MemoryStore) filterBets(keep func(*model.BetInfo) bool) []model.BetInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BetInfo
	for _, b := range s.bets {
		if keep(b) {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return result[i].User.Hex() < result[j].User.Hex()
	})
	return result
}
