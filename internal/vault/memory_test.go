package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000f00d5")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func TestDeposit_MovesFundsIntoEscrow(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, usdc, alice, d(100))

	if err := v.Deposit(ctx, usdc, 1, alice, d(60)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bal, _ := v.Balance(ctx, usdc, alice)
	if !bal.Equal(d(40)) {
		t.Errorf("expected alice balance 40, got %s", bal)
	}
	esc, _ := v.EscrowBalance(ctx, usdc, 1)
	if !esc.Equal(d(60)) {
		t.Errorf("expected escrow 60, got %s", esc)
	}
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, usdc, alice, d(10))

	err := v.Deposit(ctx, usdc, 1, alice, d(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, _ := v.Balance(ctx, usdc, alice)
	if !bal.Equal(d(10)) {
		t.Errorf("balance should be untouched, got %s", bal)
	}
}

func TestDeposit_AssetsAreSeparate(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, Native, alice, d(100))

	if err := v.Deposit(ctx, usdc, 1, alice, d(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("native balance must not fund token deposits, got %v", err)
	}
}

func TestDisburse_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, usdc, alice, d(100))
	v.Deposit(ctx, usdc, 1, alice, d(100))

	err := v.Disburse(ctx, usdc, 1, []Transfer{
		{To: bob, Amount: d(80)},
		{To: treasury, Amount: d(30)},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := v.Balance(ctx, usdc, bob); !bal.IsZero() {
		t.Errorf("no leg should be paid on failure, bob got %s", bal)
	}

	err = v.Disburse(ctx, usdc, 1, []Transfer{
		{To: bob, Amount: d(70)},
		{To: treasury, Amount: d(30)},
		{To: alice, Amount: decimal.Zero},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if esc, _ := v.EscrowBalance(ctx, usdc, 1); !esc.IsZero() {
		t.Errorf("expected empty escrow, got %s", esc)
	}
}

func TestDisburse_EscrowsAreIsolated(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, usdc, alice, d(100))
	v.Deposit(ctx, usdc, 1, alice, d(50))
	v.Deposit(ctx, usdc, 2, alice, d(50))

	err := v.Disburse(ctx, usdc, 1, []Transfer{{To: bob, Amount: d(60)}})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("market 1 must not draw on market 2's escrow, got %v", err)
	}
}

func TestDisburse_HookErrorRevertsBatch(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	v.Credit(ctx, usdc, alice, d(100))
	v.Deposit(ctx, usdc, 1, alice, d(100))

	v.OnReceive(func(_ context.Context, _ common.Address, tr Transfer) error {
		if tr.To == treasury {
			return errors.New("rejected")
		}
		return nil
	})

	err := v.Disburse(ctx, usdc, 1, []Transfer{
		{To: bob, Amount: d(90)},
		{To: treasury, Amount: d(10)},
	})
	if err == nil {
		t.Fatal("expected hook rejection")
	}
	if bal, _ := v.Balance(ctx, usdc, bob); !bal.IsZero() {
		t.Errorf("bob's leg should be reverted, got %s", bal)
	}
	if esc, _ := v.EscrowBalance(ctx, usdc, 1); !esc.Equal(d(100)) {
		t.Errorf("escrow should be restored to 100, got %s", esc)
	}
}
