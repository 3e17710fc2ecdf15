// Package vault holds custody of staked funds. Every market has its own
// escrow per asset; bettors' balances are debited into it on deposit and
// winners, the treasury and referrers are paid out of it.
//
// Implementations include PostgreSQL (durable journal) and in-memory (for
// testing and development).
package vault

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when an account or escrow cannot
	// cover a debit.
	ErrInsufficientFunds = errors.New("vault: insufficient funds")

	// ErrInvalidAmount is returned for non-positive deposits.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
)

// Native is the asset key used for the chain's native currency.
var Native = common.Address{}

// Transfer is one payment out of a market escrow.
type Transfer struct {
	To     common.Address  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// compact drops non-positive legs and returns the batch total.
func compact(transfers []Transfer) ([]Transfer, decimal.Decimal) {
	out := make([]Transfer, 0, len(transfers))
	sum := decimal.Zero
	for _, tr := range transfers {
		if !tr.Amount.IsPositive() {
			continue
		}
		out = append(out, tr)
		sum = sum.Add(tr.Amount)
	}
	return out, sum
}
