// Package distribution implements the parimutuel payout split for binary
// pooled markets.
//
// A winner's proportional share of the pool is
//
//	share = floor(stake * totalPool / winningPool)
//
// and a protocol fee is carved out of that share, part of which may go to
// the bettor's referrer:
//
//	fee      = floor(share * feeBps / 10000)
//	referral = floor(fee * referralBps / 10000)   (0 without a referrer)
//	admin    = fee - referral
//	net      = share - fee
//
// All monetary values use shopspring/decimal, never float64.
// Amounts are integral base units; every division truncates, so rounding
// dust stays in the pool rather than being over-paid.
package distribution

import (
	"errors"

	"github.com/shopspring/decimal"
)

// BasisPoints is the denominator for fee and split rates.
const BasisPoints = 10000

// MaxFeeBps caps the total protocol fee at 5%.
const MaxFeeBps = 500

var (
	// ErrInvalidStake is returned when stake is negative.
	ErrInvalidStake = errors.New("distribution: stake must not be negative")

	// ErrEmptyWinningPool is returned when the winning side has no stake.
	ErrEmptyWinningPool = errors.New("distribution: winning pool must be positive")

	// ErrStakeExceedsPool is returned when a stake is larger than the
	// winning pool it is supposed to be part of.
	ErrStakeExceedsPool = errors.New("distribution: stake exceeds winning pool")

	// ErrInvalidRate is returned for fee or split rates outside [0, 10000].
	ErrInvalidRate = errors.New("distribution: rate out of range")
)

var bps = decimal.NewFromInt(BasisPoints)

// Result is the breakdown of one winner's claim.
type Result struct {
	Share    decimal.Decimal `json:"share"`
	Net      decimal.Decimal `json:"net"`
	Fee      decimal.Decimal `json:"fee"`
	Admin    decimal.Decimal `json:"admin"`
	Referral decimal.Decimal `json:"referral"`
}

// Calculate splits a winning stake into net payout, total fee, admin share
// and referral share. It is a pure function.
//
// Guarantees: Net + Fee == Share, Admin + Referral == Fee, and Referral is
// zero when hasReferrer is false.
func Calculate(
	stake, totalPool, winningPool decimal.Decimal,
	feeBps, referralBps int64,
	hasReferrer bool,
) (Result, error) {
	if stake.IsNegative() {
		return Result{}, ErrInvalidStake
	}
	if !winningPool.IsPositive() {
		return Result{}, ErrEmptyWinningPool
	}
	if stake.GreaterThan(winningPool) {
		return Result{}, ErrStakeExceedsPool
	}
	if feeBps < 0 || feeBps > BasisPoints || referralBps < 0 || referralBps > BasisPoints {
		return Result{}, ErrInvalidRate
	}

	share := mulDivFloor(stake, totalPool, winningPool)
	fee := mulDivFloor(share, decimal.NewFromInt(feeBps), bps)

	referral := decimal.Zero
	if hasReferrer {
		referral = mulDivFloor(fee, decimal.NewFromInt(referralBps), bps)
	}

	return Result{
		Share:    share,
		Net:      share.Sub(fee),
		Fee:      fee,
		Admin:    fee.Sub(referral),
		Referral: referral,
	}, nil
}

// mulDivFloor computes floor(a * b / c) exactly for non-negative inputs.
func mulDivFloor(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}
