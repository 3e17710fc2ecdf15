// Package settlement implements the pooled binary-market engine: the market
// ledger, the resolution state machine, the claim/payout engine and the
// recovery paths (emergency refund and unclaimed sweep).
//
// All monetary values use shopspring/decimal in integral base units of the
// market's asset.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/distribution"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
)

const (
	// DefaultEmergencyGrace is how long after the resolution time bettors
	// must wait before they can pull their stake from an unresolved market.
	DefaultEmergencyGrace = 72 * time.Hour

	// DefaultSweepDormancy is how long after the resolution time the owner
	// must wait before sweeping a market's leftover escrow.
	DefaultSweepDormancy = 365 * 24 * time.Hour

	defaultLockTTL = 30 * time.Second
)

// Vault holds custody of staked funds per market escrow.
type Vault interface {
	Deposit(ctx context.Context, asset common.Address, marketID uint64, from common.Address, amount decimal.Decimal) error
	Disburse(ctx context.Context, asset common.Address, marketID uint64, transfers []vault.Transfer) error
	EscrowBalance(ctx context.Context, asset common.Address, marketID uint64) (decimal.Decimal, error)
}

// OutcomeResolver decides automatic markets from an oracle round.
type OutcomeResolver interface {
	CheckOutcome(ctx context.Context, feed common.Address, roundID *big.Int,
		resolutionTime time.Time, target decimal.Decimal, below bool) (oracle.Result, error)
}

// Publisher receives an event after every committed state transition.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Engine is the settlement engine. All mutating calls are serialized by a
// reentrancy guard; reads go straight to the store.
type Engine struct {
	store    store.Store
	vault    Vault
	resolver OutcomeResolver
	pub      Publisher
	guard    *guard
	log      *slog.Logger
	now      func() time.Time

	emergencyGrace time.Duration
	sweepDormancy  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEmergencyGrace sets the emergency refund grace window.
func WithEmergencyGrace(d time.Duration) Option {
	return func(e *Engine) { e.emergencyGrace = d }
}

// WithSweepDormancy sets the unclaimed sweep dormancy window.
func WithSweepDormancy(d time.Duration) Option {
	return func(e *Engine) { e.sweepDormancy = d }
}

// WithLocker adds a distributed lock around every mutating call, for
// deployments running more than one engine against the same store.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		e.guard.locker = l
		e.guard.ttl = ttl
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine. Call Bootstrap before serving traffic.
func New(st store.Store, v Vault, resolver OutcomeResolver, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		vault:          v,
		resolver:       resolver,
		guard:          &guard{key: "engine"},
		log:            slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		emergencyGrace: DefaultEmergencyGrace,
		sweepDormancy:  DefaultSweepDormancy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bootstrap persists initial settings on first start. Existing settings are
// left untouched and returned.
func (e *Engine) Bootstrap(ctx context.Context, initial model.Settings) (*model.Settings, error) {
	var out *model.Settings
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, err := e.store.GetSettings(ctx)
		if err == nil {
			out = st
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load settings: %w", err)
		}

		if initial.Owner == (common.Address{}) || initial.Treasury == (common.Address{}) {
			return ErrInvalidAddress
		}
		if err := validateFees(initial.FeeBps, initial.ReferralBps); err != nil {
			return err
		}
		if err := e.store.SaveSettings(ctx, initial); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		e.log.Info("settings initialized",
			"owner", initial.Owner.Hex(),
			"treasury", initial.Treasury.Hex(),
			"fee_bps", initial.FeeBps,
			"referral_bps", initial.ReferralBps,
		)
		out = &initial
		return nil
	})
	return out, err
}

// --- Administration ---

// SetFees updates the fee rate (at most 500 bps) and the referral share of
// the fee (at most 10000 bps).
func (e *Engine) SetFees(ctx context.Context, caller common.Address, feeBps, referralBps int64) error {
	if err := validateFees(feeBps, referralBps); err != nil {
		return err
	}
	return e.updateSettings(ctx, caller, model.EventFeesUpdated, func(st *model.Settings) {
		st.FeeBps = feeBps
		st.ReferralBps = referralBps
	})
}

// SetTreasury changes the address that receives fees, house takes and
// sweeps.
func (e *Engine) SetTreasury(ctx context.Context, caller, treasury common.Address) error {
	if treasury == (common.Address{}) {
		return ErrInvalidAddress
	}
	return e.updateSettings(ctx, caller, model.EventTreasuryUpdated, func(st *model.Settings) {
		st.Treasury = treasury
	})
}

// Pause stops new bets on every market. Claims and refunds stay available.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	return e.updateSettings(ctx, caller, model.EventPaused, func(st *model.Settings) {
		st.Paused = true
	})
}

// Unpause re-enables betting.
func (e *Engine) Unpause(ctx context.Context, caller common.Address) error {
	return e.updateSettings(ctx, caller, model.EventUnpaused, func(st *model.Settings) {
		st.Paused = false
	})
}

func (e *Engine) updateSettings(ctx context.Context, caller common.Address, typ model.EventType, apply func(*model.Settings)) error {
	return e.guarded(ctx, func(ctx context.Context) error {
		st, err := e.authorize(ctx, caller)
		if err != nil {
			return err
		}
		apply(st)
		if err := e.store.SaveSettings(ctx, *st); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		e.log.Info("settings updated",
			"change", string(typ),
			"treasury", st.Treasury.Hex(),
			"fee_bps", st.FeeBps,
			"referral_bps", st.ReferralBps,
			"paused", st.Paused,
		)
		e.publish(ctx, model.Event{Type: typ})
		return nil
	})
}

func validateFees(feeBps, referralBps int64) error {
	if feeBps < 0 || feeBps > distribution.MaxFeeBps {
		return ErrInvalidFee
	}
	if referralBps < 0 || referralBps > distribution.BasisPoints {
		return ErrInvalidFee
	}
	return nil
}

// --- Shared helpers ---

func (e *Engine) settings(ctx context.Context) (*model.Settings, error) {
	st, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return st, nil
}

// authorize loads the settings and checks that caller is the owner.
func (e *Engine) authorize(ctx context.Context, caller common.Address) (*model.Settings, error) {
	st, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}
	if caller != st.Owner {
		return nil, ErrUnauthorized
	}
	return st, nil
}

func (e *Engine) market(ctx context.Context, id uint64) (*model.Market, error) {
	m, err := e.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("market %d: %w", id, ErrMarketNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load market %d: %w", id, err)
	}
	return m, nil
}

// bet returns the user's bet, or nil when the user never bet.
func (e *Engine) bet(ctx context.Context, marketID uint64, user common.Address) (*model.BetInfo, error) {
	b, err := e.store.GetBet(ctx, marketID, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bet: %w", err)
	}
	return b, nil
}

// disburse pays transfers out of the market escrow. Classified errors
// raised by a recipient (ErrReentrant) pass through; anything else is a
// payout failure.
func (e *Engine) disburse(ctx context.Context, m *model.Market, transfers ...vault.Transfer) error {
	err := e.vault.Disburse(ctx, m.Config.Asset, m.ID, transfers)
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPayoutFailed, err)
}

func (e *Engine) publish(ctx context.Context, ev model.Event) {
	if e.pub == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = e.now()
	e.pub.Publish(ctx, ev)
}

func addrPtr(a common.Address) *common.Address {
	if a == (common.Address{}) {
		return nil
	}
	return &a
}
