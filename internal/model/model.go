// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal, never float64.
// Amounts are integral base units of the market's asset.
package model

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Side is the side of a binary market a bet is placed on.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, true
	case SideNo:
		return SideNo, true
	}
	return "", false
}

// Outcome is the resolved result of a market.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeNo
	OutcomeYes
	OutcomeVoid
)

// OutcomeFromCode maps a resolver winner code to an outcome:
// 2 → Yes, 1 → No, anything else → Void.
func OutcomeFromCode(code int) Outcome {
	switch code {
	case 2:
		return OutcomeYes
	case 1:
		return OutcomeNo
	default:
		return OutcomeVoid
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeNo:
		return "no"
	case OutcomeYes:
		return "yes"
	case OutcomeVoid:
		return "void"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome by name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "pending", "":
		*o = OutcomePending
	case "no":
		*o = OutcomeNo
	case "yes":
		*o = OutcomeYes
	default:
		*o = OutcomeVoid
	}
	return nil
}

// ResolutionMode records which path finalized a market.
type ResolutionMode string

const (
	ModeNone      ResolutionMode = ""
	ModeManual    ResolutionMode = "manual"
	ModeAutomatic ResolutionMode = "automatic"
	ModeCancelled ResolutionMode = "cancelled"
)

// State is the tagged lifecycle state of a market.
type State string

const (
	StateOpen      State = "open"
	StateResolved  State = "resolved"
	StateCancelled State = "cancelled"
)

// MarketConfig is fixed at creation and never mutated.
type MarketConfig struct {
	Question       string          `json:"question"`
	MetadataURI    string          `json:"metadata_uri"`
	EndTime        time.Time       `json:"end_time"`        // betting deadline
	ResolutionTime time.Time       `json:"resolution_time"` // >= EndTime
	TargetValue    decimal.Decimal `json:"target_value"`
	OracleFeed     common.Address  `json:"oracle_feed"`   // zero → manual resolution
	ResolveBelow   bool            `json:"resolve_below"` // Yes wins when answer < target
	Asset          common.Address  `json:"asset"`         // zero → native asset
	MinBet         decimal.Decimal `json:"min_bet"`
	Creator        common.Address  `json:"creator"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Manual reports whether the market is resolved by the administrator.
func (c MarketConfig) Manual() bool {
	return c.OracleFeed == (common.Address{})
}

// NativeAsset reports whether bets are paid in the native asset.
func (c MarketConfig) NativeAsset() bool {
	return c.Asset == (common.Address{})
}

// MarketStatus is the mutable pool and resolution state of a market.
// TotalPool == TotalYes + TotalNo until finalization; WinningPool is
// written once, at finalization.
type MarketStatus struct {
	Resolved     bool            `json:"resolved"`
	Cancelled    bool            `json:"cancelled"`
	Outcome      Outcome         `json:"outcome"`
	Mode         ResolutionMode  `json:"resolution_mode,omitempty"`
	TotalPool    decimal.Decimal `json:"total_pool"`
	TotalYes     decimal.Decimal `json:"total_yes"`
	TotalNo      decimal.Decimal `json:"total_no"`
	WinningPool  decimal.Decimal `json:"winning_pool"`
	HouseTake    decimal.Decimal `json:"house_take"`
	OracleAnswer decimal.Decimal `json:"oracle_answer"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	Swept        bool            `json:"swept"`
}

// Market is one binary-outcome wager instance.
type Market struct {
	ID     uint64       `json:"id"`
	Config MarketConfig `json:"config"`
	Status MarketStatus `json:"status"`
}

// State distinguishes Resolved(Void) from Cancelled even though both
// carry OutcomeVoid.
func (m *Market) State() State {
	switch {
	case m.Status.Cancelled:
		return StateCancelled
	case m.Status.Resolved:
		return StateResolved
	default:
		return StateOpen
	}
}

// BetInfo is a user's accumulated position in one market.
type BetInfo struct {
	MarketID  uint64          `json:"market_id"`
	User      common.Address  `json:"user"`
	YesAmount decimal.Decimal `json:"yes_amount"`
	NoAmount  decimal.Decimal `json:"no_amount"`
	Referrer  common.Address  `json:"referrer"`
	Claimed   bool            `json:"claimed"`
}

// Total returns the combined stake on both sides.
func (b BetInfo) Total() decimal.Decimal {
	return b.YesAmount.Add(b.NoAmount)
}

// HasReferrer reports whether a referrer was captured.
func (b BetInfo) HasReferrer() bool {
	return b.Referrer != (common.Address{})
}

// Settings is the administrative context of a deployment.
type Settings struct {
	Owner       common.Address `json:"owner"`
	Treasury    common.Address `json:"treasury"`
	FeeBps      int64          `json:"fee_bps"`
	ReferralBps int64          `json:"referral_bps"` // share of the fee
	Paused      bool           `json:"paused"`
	MarketCount uint64         `json:"market_count"`
}
