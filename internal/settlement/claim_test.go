package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/settlement"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
)

func TestClaim_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.manualMarket(t, 10)
	env.bet(t, alice, m.ID, model.SideYes, 100)
	env.bet(t, bob, m.ID, model.SideNo, 50)
	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(ctx, owner, m.ID, 2); err != nil {
		t.Fatalf("ResolveManual: %v", err)
	}

	// share = 100 * 150 / 100 = 150, fee = 150 * 2% = 3.
	p, err := env.eng.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	expectAmount(t, "net", p.Net, 147)
	expectAmount(t, "fee", p.Fee, 3)
	expectAmount(t, "admin", p.AdminFee, 3)
	expectAmount(t, "referral", p.Referral, 0)
	expectAmount(t, "alice balance", env.balance(t, alice), startingBalance-100+147)
	expectAmount(t, "treasury", env.balance(t, treasury), 3)
	expectAmount(t, "escrow", env.escrow(t, m.ID), 0)

	_, err = env.eng.Claim(ctx, bob, m.ID)
	expectErr(t, err, settlement.ErrNothingToClaim)
	_, err = env.eng.Claim(ctx, alice, m.ID)
	expectErr(t, err, settlement.ErrInvalidClaim)

	if env.events.count(model.EventWinningsClaimed) != 1 || env.events.count(model.EventFeesDistributed) != 1 {
		t.Error("expected one winnings_claimed and one fees_distributed event")
	}
}

func TestClaim_ReferralSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.manualMarket(t, 10)
	if _, err := env.placeBet(alice, m.ID, model.SideYes, 10000, referrer); err != nil {
		t.Fatal(err)
	}
	env.bet(t, bob, m.ID, model.SideNo, 5000)
	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(ctx, owner, m.ID, 2); err != nil {
		t.Fatal(err)
	}

	// share 15000, fee 300, referral 10% of fee.
	p, err := env.eng.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	expectAmount(t, "net", p.Net, 14700)
	expectAmount(t, "admin", p.AdminFee, 270)
	expectAmount(t, "referral", p.Referral, 30)
	expectAmount(t, "referrer balance", env.balance(t, referrer), 30)
	expectAmount(t, "treasury", env.balance(t, treasury), 270)

	ev, ok := env.events.last(model.EventFeesDistributed)
	if !ok || ev.Referrer == nil || *ev.Referrer != referrer || !ev.Referral.Equal(d(30)) {
		t.Errorf("unexpected fees_distributed event %+v", ev)
	}
}

func TestClaim_NeverOverpaysPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.manualMarket(t, 1)
	env.bet(t, alice, m.ID, model.SideYes, 333)
	env.bet(t, carol, m.ID, model.SideYes, 667)
	env.bet(t, bob, m.ID, model.SideNo, 500)
	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(ctx, owner, m.ID, 2); err != nil {
		t.Fatal(err)
	}

	paid := decimal.Zero
	for _, who := range []common.Address{alice, carol} {
		p, err := env.eng.Claim(ctx, who, m.ID)
		if err != nil {
			t.Fatalf("Claim(%s): %v", who.Hex(), err)
		}
		if !p.Net.Add(p.Fee).Equal(p.Net.Add(p.AdminFee).Add(p.Referral)) {
			t.Errorf("fee split does not add up: %+v", p)
		}
		paid = paid.Add(p.Net).Add(p.Fee)
	}

	// floor(333*1.5) + floor(667*1.5) = 499 + 1000; one unit of dust stays.
	expectAmount(t, "paid", paid, 1499)
	expectAmount(t, "escrow dust", env.escrow(t, m.ID), 1)
}

func TestClaim_VoidRefundsFeeFree(t *testing.T) {
	for _, tc := range []struct {
		name   string
		settle func(env *testEnv, m *model.Market) error
		state  model.State
	}{
		{"cancelled", func(env *testEnv, m *model.Market) error {
			_, err := env.eng.CancelMarket(context.Background(), owner, m.ID)
			return err
		}, model.StateCancelled},
		{"resolved void", func(env *testEnv, m *model.Market) error {
			env.pastResolution(m)
			_, err := env.eng.ResolveManual(context.Background(), owner, m.ID, 0)
			return err
		}, model.StateResolved},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			m := env.manualMarket(t, 1)
			env.bet(t, alice, m.ID, model.SideYes, 30)
			env.bet(t, alice, m.ID, model.SideNo, 20)
			env.bet(t, bob, m.ID, model.SideNo, 50)

			if err := tc.settle(env, m); err != nil {
				t.Fatalf("settle: %v", err)
			}
			got, _ := env.eng.Market(ctx, m.ID)
			if got.State() != tc.state {
				t.Errorf("expected state %s, got %s", tc.state, got.State())
			}

			for _, who := range []common.Address{alice, bob} {
				p, err := env.eng.Claim(ctx, who, m.ID)
				if err != nil {
					t.Fatalf("Claim(%s): %v", who.Hex(), err)
				}
				if !p.Refund {
					t.Error("expected a refund")
				}
				expectAmount(t, "refund", p.Net, 50)
				expectAmount(t, "fee", p.Fee, 0)
				expectAmount(t, "balance", env.balance(t, who), startingBalance)
			}
			expectAmount(t, "treasury", env.balance(t, treasury), 0)
			expectAmount(t, "escrow", env.escrow(t, m.ID), 0)
			if env.events.count(model.EventFeesDistributed) != 0 {
				t.Error("refunds must not distribute fees")
			}
		})
	}
}

func TestClaim_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.manualMarket(t, 1)
	env.bet(t, alice, m.ID, model.SideYes, 10)

	_, err := env.eng.Claim(ctx, alice, m.ID)
	expectErr(t, err, settlement.ErrInvalidClaim)
	_, err = env.eng.Claim(ctx, alice, 99)
	expectErr(t, err, settlement.ErrMarketNotFound)

	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(ctx, owner, m.ID, 2); err != nil {
		t.Fatal(err)
	}
	_, err = env.eng.Claim(ctx, carol, m.ID)
	expectErr(t, err, settlement.ErrNothingToClaim)
}

func TestQuoteClaim_MatchesClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.manualMarket(t, 1)
	if _, err := env.placeBet(alice, m.ID, model.SideNo, 400, referrer); err != nil {
		t.Fatal(err)
	}
	env.bet(t, bob, m.ID, model.SideYes, 600)
	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(ctx, owner, m.ID, 1); err != nil {
		t.Fatal(err)
	}

	q, err := env.eng.QuoteClaim(ctx, m.ID, alice)
	if err != nil {
		t.Fatalf("QuoteClaim: %v", err)
	}
	expectAmount(t, "escrow untouched", env.escrow(t, m.ID), 1000)

	p, err := env.eng.Claim(ctx, alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !q.Net.Equal(p.Net) || !q.Fee.Equal(p.Fee) || !q.Referral.Equal(p.Referral) || q.Referrer != p.Referrer {
		t.Errorf("quote %+v differs from claim %+v", q, p)
	}

	_, err = env.eng.QuoteClaim(ctx, m.ID, alice)
	expectErr(t, err, settlement.ErrInvalidClaim)
}

// --- Reentrancy and all-or-nothing payouts ---

func resolvedMarket(t *testing.T, env *testEnv) *model.Market {
	t.Helper()
	m := env.manualMarket(t, 1)
	env.bet(t, alice, m.ID, model.SideYes, 100)
	env.bet(t, bob, m.ID, model.SideNo, 100)
	env.pastResolution(m)
	if _, err := env.eng.ResolveManual(context.Background(), owner, m.ID, 2); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestClaim_NestedCallFromTransferIsRejected(t *testing.T) {
	env := newTestEnv(t)
	m := resolvedMarket(t, env)

	var nestedClaim, nestedBet error
	calls := 0
	env.vault.OnReceive(func(ctx context.Context, _ common.Address, tr vault.Transfer) error {
		if tr.To != alice {
			return nil
		}
		calls++
		_, nestedClaim = env.eng.Claim(ctx, alice, m.ID)
		_, nestedBet = env.eng.PlaceBet(ctx, alice, settlement.BetRequest{
			MarketID: m.ID, Side: model.SideYes, Amount: d(1), Attached: d(1),
		})
		return nil
	})

	p, err := env.eng.Claim(context.Background(), alice, m.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one transfer to alice, got %d", calls)
	}
	expectErr(t, nestedClaim, settlement.ErrReentrant)
	expectErr(t, nestedBet, settlement.ErrReentrant)

	// share 200, fee 4.
	expectAmount(t, "net", p.Net, 196)
	expectAmount(t, "alice balance", env.balance(t, alice), startingBalance-100+196)
}

func TestClaim_FailedTransferRestoresClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := resolvedMarket(t, env)

	env.vault.OnReceive(func(_ context.Context, _ common.Address, tr vault.Transfer) error {
		if tr.To == treasury {
			return errors.New("treasury rejected transfer")
		}
		return nil
	})

	_, err := env.eng.Claim(ctx, alice, m.ID)
	expectErr(t, err, settlement.ErrPayoutFailed)
	if settlement.KindOf(err) != settlement.KindPayment {
		t.Errorf("expected payment kind, got %q", settlement.KindOf(err))
	}

	b, _ := env.eng.Bet(ctx, m.ID, alice)
	if b.Claimed {
		t.Error("claimed flag must be restored after a failed payout")
	}
	expectAmount(t, "alice balance", env.balance(t, alice), startingBalance-100)
	expectAmount(t, "treasury", env.balance(t, treasury), 0)
	expectAmount(t, "escrow", env.escrow(t, m.ID), 200)

	env.vault.OnReceive(nil)
	if _, err := env.eng.Claim(ctx, alice, m.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	expectAmount(t, "alice balance", env.balance(t, alice), startingBalance-100+196)
}

func TestClaim_ConcurrentClaimsPayOnce(t *testing.T) {
	env := newTestEnv(t)
	m := resolvedMarket(t, env)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.eng.Claim(context.Background(), alice, m.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, settlement.ErrInvalidClaim):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", ok)
	}
	expectAmount(t, "alice balance", env.balance(t, alice), startingBalance-100+196)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, store.ErrLockHeld
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func TestDistributedLock(t *testing.T) {
	locker := &fakeLocker{}
	env := newTestEnv(t, settlement.WithLocker(locker, time.Second))
	m := env.manualMarket(t, 1)
	env.bet(t, alice, m.ID, model.SideYes, 10)

	locker.mu.Lock()
	acquired, released := locker.acquired, locker.released
	locker.held = true
	locker.mu.Unlock()
	if acquired == 0 || acquired != released {
		t.Errorf("expected balanced acquire/release, got %d/%d", acquired, released)
	}

	_, err := env.placeBet(bob, m.ID, model.SideNo, 10, common.Address{})
	expectErr(t, err, settlement.ErrBusy)
}
