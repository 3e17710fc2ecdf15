package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// MemoryFeed is an in-memory feed for tests and development.
type MemoryFeed struct {
	mu     sync.RWMutex
	rounds map[string]RoundData
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{rounds: make(map[string]RoundData)}
}

// SetRound records a round with the given answer and update time.
func (f *MemoryFeed) SetRound(roundID, answer int64, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := big.NewInt(roundID)
	f.rounds[id.String()] = RoundData{
		RoundID:         id,
		Answer:          big.NewInt(answer),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: id,
	}
}

func (f *MemoryFeed) RoundData(_ context.Context, roundID *big.Int) (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rd, ok := f.rounds[roundID.String()]
	if !ok {
		return RoundData{}, ErrRoundNotFound
	}
	return rd, nil
}
