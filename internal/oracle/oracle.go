// Package oracle answers the question "which side won?" for markets that are
// settled against a price feed.
//
// Feeds are round based, in the shape of Chainlink aggregators: every round
// carries an answer and the time it was last updated. A round is usable for a
// market only if it is the round that straddles the market's resolution time:
// it was updated at or after the resolution time while the round before it
// was updated strictly before.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Winner codes returned by CheckOutcome.
const (
	WinnerVoid = 0
	WinnerNo   = 1
	WinnerYes  = 2
)

var (
	// ErrRoundNotFound is returned by feeds for rounds that do not exist.
	ErrRoundNotFound = errors.New("oracle: round not found")

	// ErrUnknownFeed is returned when no feed is registered for an address.
	ErrUnknownFeed = errors.New("oracle: unknown feed")
)

// RoundData is one round reported by a feed.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// Feed returns historical rounds of a single price feed.
type Feed interface {
	RoundData(ctx context.Context, roundID *big.Int) (RoundData, error)
}

// DialFunc opens a feed for an address that was not registered up front.
type DialFunc func(addr common.Address) (Feed, error)

// Registry maps feed addresses to Feed implementations. Feeds opened through
// the dial function are cached.
type Registry struct {
	mu    sync.RWMutex
	feeds map[common.Address]Feed
	dial  DialFunc
}

// NewRegistry creates a registry. dial may be nil, in which case only
// registered feeds resolve.
func NewRegistry(dial DialFunc) *Registry {
	return &Registry{
		feeds: make(map[common.Address]Feed),
		dial:  dial,
	}
}

// Register binds a feed to an address.
func (r *Registry) Register(addr common.Address, feed Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[addr] = feed
}

// Feed returns the feed for addr.
func (r *Registry) Feed(addr common.Address) (Feed, error) {
	r.mu.RLock()
	f, ok := r.feeds[addr]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}
	if r.dial == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, addr.Hex())
	}

	f, err := r.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("oracle: open feed %s: %w", addr.Hex(), err)
	}
	r.Register(addr, f)
	return f, nil
}

// Result is the answer of CheckOutcome.
type Result struct {
	Winner int             `json:"winner"`
	Answer decimal.Decimal `json:"answer"`
	Valid  bool            `json:"valid"`
}

// Resolver evaluates market outcomes against registered feeds.
type Resolver struct {
	feeds *Registry
}

// maxRoundBits is the width of an aggregator round id.
const maxRoundBits = 80

// NewResolver creates a resolver over the given registry.
func NewResolver(feeds *Registry) *Resolver {
	return &Resolver{feeds: feeds}
}

// CheckOutcome reports the winner of a market whose event is "the feed's
// answer at resolutionTime compared with target". With below set, Yes wins
// when answer < target; otherwise Yes wins when answer >= target. A
// non-positive answer resolves Void.
//
// Valid is false when roundID is not the round straddling resolutionTime.
// The returned error is reserved for transport failures. Round ids are
// uint80 on chain; anything wider is never a real round.
func (r *Resolver) CheckOutcome(
	ctx context.Context,
	feedAddr common.Address,
	roundID *big.Int,
	resolutionTime time.Time,
	target decimal.Decimal,
	below bool,
) (Result, error) {
	if roundID == nil || roundID.Sign() <= 0 || roundID.BitLen() > maxRoundBits {
		return Result{}, nil
	}

	feed, err := r.feeds.Feed(feedAddr)
	if err != nil {
		return Result{}, err
	}

	round, err := feed.RoundData(ctx, roundID)
	if errors.Is(err, ErrRoundNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("oracle: round %s: %w", roundID, err)
	}
	if round.UpdatedAt.IsZero() || round.UpdatedAt.Before(resolutionTime) {
		return Result{}, nil
	}

	prevID := new(big.Int).Sub(roundID, big.NewInt(1))
	prev, err := feed.RoundData(ctx, prevID)
	if errors.Is(err, ErrRoundNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("oracle: round %s: %w", prevID, err)
	}
	if !prev.UpdatedAt.Before(resolutionTime) {
		return Result{}, nil
	}

	answer := decimal.Zero
	if round.Answer != nil {
		answer = decimal.NewFromBigInt(round.Answer, 0)
	}
	res := Result{Answer: answer, Valid: true}

	switch {
	case !answer.IsPositive():
		res.Winner = WinnerVoid
	case below && answer.LessThan(target):
		res.Winner = WinnerYes
	case !below && answer.GreaterThanOrEqual(target):
		res.Winner = WinnerYes
	default:
		res.Winner = WinnerNo
	}
	return res, nil
}
