package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventType names an observable state transition.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketResolved  EventType = "market_resolved"
	EventWinningsClaimed EventType = "winnings_claimed"
	EventFeesDistributed EventType = "fees_distributed"
	EventMarketCancelled EventType = "market_cancelled"
	EventHouseTake       EventType = "house_take"
	EventEmergencyRefund EventType = "emergency_refund"
	EventUnclaimedSwept  EventType = "unclaimed_swept"
	EventFeesUpdated     EventType = "fees_updated"
	EventTreasuryUpdated EventType = "treasury_updated"
	EventPaused          EventType = "paused"
	EventUnpaused        EventType = "unpaused"
)

// Event is a notification emitted after a state transition commits.
// Fields that do not apply to a given type are left zero.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	MarketID  uint64          `json:"market_id,omitempty"`
	User      *common.Address `json:"user,omitempty"`
	Side      Side            `json:"side,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	AdminFee  decimal.Decimal `json:"admin_fee"`
	Referral  decimal.Decimal `json:"referral"`
	Referrer  *common.Address `json:"referrer,omitempty"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	Mode      ResolutionMode  `json:"mode,omitempty"`
	Question  string          `json:"question,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
