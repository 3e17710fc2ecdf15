package settlement

import "errors"

// Kind classifies a failure so that callers can pick a corrective action
// without parsing messages.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindSchedule      Kind = "schedule"
	KindState         Kind = "state"
	KindPayment       Kind = "payment"
	KindReentrancy    Kind = "reentrancy"
	KindOracleInvalid Kind = "oracle_invalid"
	KindNotFound      Kind = "not_found"
	KindInvalid       Kind = "invalid"
)

// Error is a classified engine failure. Code is stable and safe to show to
// API clients.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Authorization
var ErrUnauthorized = newError(KindAuthorization, "unauthorized", "caller is not the owner")

// Schedule
var (
	ErrInvalidSchedule    = newError(KindSchedule, "invalid_schedule", "end time must be in the future and not after resolution time")
	ErrBettingClosed      = newError(KindSchedule, "betting_closed", "betting is closed for this market")
	ErrTooEarly           = newError(KindSchedule, "too_early", "resolution time has not been reached")
	ErrRefundNotAvailable = newError(KindSchedule, "refund_not_available", "emergency refund grace period has not elapsed")
	ErrSweepNotAvailable  = newError(KindSchedule, "sweep_not_available", "sweep dormancy period has not elapsed")
)

// State
var (
	ErrMarketPaused        = newError(KindState, "market_paused", "betting is paused")
	ErrAlreadyResolved     = newError(KindState, "already_resolved", "market is already resolved")
	ErrAlreadyCancelled    = newError(KindState, "already_cancelled", "market is already cancelled")
	ErrNotResolved         = newError(KindState, "not_resolved", "market is not resolved")
	ErrWrongResolutionMode = newError(KindState, "wrong_resolution_mode", "market uses the other resolution path")
	ErrAlreadySwept        = newError(KindState, "already_swept", "unclaimed funds were swept to the treasury")
	ErrBusy                = newError(KindState, "busy", "another settlement operation holds the lock")
)

// Payment
var (
	ErrBelowMinimum    = newError(KindPayment, "below_minimum", "amount is below the market minimum")
	ErrPaymentMismatch = newError(KindPayment, "payment_mismatch", "payment does not match the bet amount")
	ErrInvalidClaim    = newError(KindPayment, "invalid_claim", "market is not resolved or already claimed")
	ErrNothingToClaim  = newError(KindPayment, "nothing_to_claim", "no stake to pay out")
	ErrNothingToSweep  = newError(KindPayment, "nothing_to_sweep", "market escrow is empty")
	ErrPayoutFailed    = newError(KindPayment, "payout_failed", "transfer out of escrow failed")
)

// Reentrancy
var ErrReentrant = newError(KindReentrancy, "reentrant", "nested settlement call rejected")

// OracleInvalid
var ErrInvalidOracleRound = newError(KindOracleInvalid, "invalid_oracle_round", "oracle round does not straddle the resolution time")

// NotFound
var (
	ErrMarketNotFound = newError(KindNotFound, "market_not_found", "market not found")
	ErrBetNotFound    = newError(KindNotFound, "bet_not_found", "no bet for this user in this market")
)

// Invalid
var (
	ErrInvalidFee     = newError(KindInvalid, "invalid_fee", "fee above 500 bps or referral share above 10000 bps")
	ErrInvalidAddress = newError(KindInvalid, "invalid_address", "address must not be zero")
	ErrInvalidSide    = newError(KindInvalid, "invalid_side", "side must be YES or NO")
	ErrInvalidMarket  = newError(KindInvalid, "invalid_market", "question is required and minimum bet must be a non-negative whole amount")
	ErrInvalidAmount  = newError(KindInvalid, "invalid_amount", "amount must be a whole number of base units")
)

// KindOf returns the kind of the first *Error in err's chain, or "" for
// unclassified failures such as storage errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
