package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ReceiveHook is invoked for every leg of a disbursement after the funds
// moved, the way a contract recipient's fallback runs during a transfer.
// Returning an error reverts the whole batch.
type ReceiveHook func(ctx context.Context, asset common.Address, tr Transfer) error

// MemoryVault implements custody with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryVault struct {
	mu       sync.Mutex
	accounts map[common.Address]map[common.Address]decimal.Decimal // asset → owner → balance
	escrows  map[common.Address]map[uint64]decimal.Decimal         // asset → market → balance
	onRecv   ReceiveHook
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		accounts: make(map[common.Address]map[common.Address]decimal.Decimal),
		escrows:  make(map[common.Address]map[uint64]decimal.Decimal),
	}
}

// OnReceive installs a hook run for each outgoing transfer.
func (v *MemoryVault) OnReceive(hook ReceiveHook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRecv = hook
}

// Credit adds funds to an owner's account.
func (v *MemoryVault) Credit(_ context.Context, asset, owner common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.account(asset)[owner] = v.account(asset)[owner].Add(amount)
	return nil
}

// Balance returns an owner's account balance.
func (v *MemoryVault) Balance(_ context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.account(asset)[owner], nil
}

func (v *MemoryVault) Deposit(_ context.Context, asset common.Address, marketID uint64, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	accts := v.account(asset)
	if accts[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), accts[from], amount)
	}
	accts[from] = accts[from].Sub(amount)
	v.escrow(asset)[marketID] = v.escrow(asset)[marketID].Add(amount)
	return nil
}

// Disburse pays every transfer out of the market escrow or none of them.
func (v *MemoryVault) Disburse(ctx context.Context, asset common.Address, marketID uint64, transfers []Transfer) error {
	legs, sum := compact(transfers)
	if len(legs) == 0 {
		return nil
	}

	v.mu.Lock()
	esc := v.escrow(asset)
	if esc[marketID].LessThan(sum) {
		bal := esc[marketID]
		v.mu.Unlock()
		return fmt.Errorf("%w: escrow %d holds %s, needs %s", ErrInsufficientFunds, marketID, bal, sum)
	}
	esc[marketID] = esc[marketID].Sub(sum)
	accts := v.account(asset)
	for _, tr := range legs {
		accts[tr.To] = accts[tr.To].Add(tr.Amount)
	}
	hook := v.onRecv
	v.mu.Unlock()

	if hook == nil {
		return nil
	}
	for _, tr := range legs {
		if err := hook(ctx, asset, tr); err != nil {
			v.revert(asset, marketID, legs, sum)
			return fmt.Errorf("vault: transfer to %s rejected: %w", tr.To.Hex(), err)
		}
	}
	return nil
}

func (v *MemoryVault) EscrowBalance(_ context.Context, asset common.Address, marketID uint64) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escrow(asset)[marketID], nil
}

func (v *MemoryVault) revert(asset common.Address, marketID uint64, legs []Transfer, sum decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()

	accts := v.account(asset)
	for _, tr := range legs {
		accts[tr.To] = accts[tr.To].Sub(tr.Amount)
	}
	v.escrow(asset)[marketID] = v.escrow(asset)[marketID].Add(sum)
}

// account and escrow must be called with mu held.
func (v *MemoryVault) account(asset common.Address) map[common.Address]decimal.Decimal {
	m, ok := v.accounts[asset]
	if !ok {
		m = make(map[common.Address]decimal.Decimal)
		v.accounts[asset] = m
	}
	return m
}

func (v *MemoryVault) escrow(asset common.Address) map[uint64]decimal.Decimal {
	m, ok := v.escrows[asset]
	if !ok {
		m = make(map[uint64]decimal.Decimal)
		v.escrows[asset] = m
	}
	return m
}
