package distribution

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from int64.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func TestCalculate_SoleWinnerTakesPool(t *testing.T) {
	res, err := Calculate(d(100), d(150), d(100), 200, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Share.Equal(d(150)) {
		t.Errorf("expected share 150, got %s", res.Share)
	}
	if !res.Fee.Equal(d(3)) {
		t.Errorf("expected fee 3 (2%% of 150), got %s", res.Fee)
	}
	if !res.Net.Equal(d(147)) {
		t.Errorf("expected net 147, got %s", res.Net)
	}
	if !res.Admin.Equal(d(3)) || !res.Referral.IsZero() {
		t.Errorf("expected admin=3 referral=0, got admin=%s referral=%s", res.Admin, res.Referral)
	}
}

func TestCalculate_ReferralSplit(t *testing.T) {
	// share = 1000, fee = 50 (5%), referral = 50 * 30% = 15.
	res, err := Calculate(d(500), d(2000), d(1000), 500, 3000, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Fee.Equal(d(50)) {
		t.Errorf("expected fee 50, got %s", res.Fee)
	}
	if !res.Referral.Equal(d(15)) {
		t.Errorf("expected referral 15, got %s", res.Referral)
	}
	if !res.Admin.Equal(d(35)) {
		t.Errorf("expected admin 35, got %s", res.Admin)
	}
}

func TestCalculate_NoReferrerMeansNoReferralShare(t *testing.T) {
	res, err := Calculate(d(500), d(2000), d(1000), 500, 3000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Referral.IsZero() {
		t.Errorf("referral must be zero without referrer, got %s", res.Referral)
	}
	if !res.Admin.Equal(res.Fee) {
		t.Errorf("admin should take the whole fee: admin=%s fee=%s", res.Admin, res.Fee)
	}
}

func TestCalculate_PartsSumToShare(t *testing.T) {
	tests := []struct {
		stake, total, winning int64
		fee, ref              int64
		hasRef                bool
	}{
		{1, 3, 3, 500, 5000, true},
		{7, 1000, 13, 250, 3333, true},
		{333, 1001, 999, 499, 10000, true},
		{10, 10, 10, 0, 0, false},
		{123456789, 987654321, 200000000, 500, 2500, true},
		{1, 1000000007, 3, 1, 1, true},
	}
	for _, tt := range tests {
		res, err := Calculate(d(tt.stake), d(tt.total), d(tt.winning), tt.fee, tt.ref, tt.hasRef)
		if err != nil {
			t.Fatalf("unexpected error for %+v: %v", tt, err)
		}
		if !res.Net.Add(res.Fee).Equal(res.Share) {
			t.Errorf("net+fee != share for %+v: %s + %s != %s", tt, res.Net, res.Fee, res.Share)
		}
		if !res.Admin.Add(res.Referral).Equal(res.Fee) {
			t.Errorf("admin+referral != fee for %+v", tt)
		}
		if !res.Share.Equal(res.Share.Truncate(0)) {
			t.Errorf("share must be integral, got %s", res.Share)
		}
		if res.Net.IsNegative() || res.Admin.IsNegative() || res.Referral.IsNegative() {
			t.Errorf("negative component for %+v: %+v", tt, res)
		}
	}
}

func TestCalculate_TruncatesShare(t *testing.T) {
	// 1 * 10 / 3 = 3.33 → 3
	res, err := Calculate(d(1), d(10), d(3), 0, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Share.Equal(d(3)) {
		t.Errorf("expected truncated share 3, got %s", res.Share)
	}
}

func TestCalculate_SharesNeverExceedPool(t *testing.T) {
	// Three winners splitting a pool that does not divide evenly.
	stakes := []int64{1, 1, 1}
	total := d(100)
	winning := d(3)

	paid := decimal.Zero
	for _, s := range stakes {
		res, err := Calculate(d(s), total, winning, 300, 5000, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		paid = paid.Add(res.Net).Add(res.Admin).Add(res.Referral)
	}
	if paid.GreaterThan(total) {
		t.Errorf("disbursed %s exceeds pool %s", paid, total)
	}
	if total.Sub(paid).GreaterThanOrEqual(d(int64(len(stakes)))) {
		t.Errorf("dust %s should be below one unit per winner", total.Sub(paid))
	}
}

func TestCalculate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		stake   int64
		winning int64
		fee     int64
		ref     int64
		want    error
	}{
		{"negative stake", -1, 10, 0, 0, ErrInvalidStake},
		{"empty winning pool", 1, 0, 0, 0, ErrEmptyWinningPool},
		{"stake exceeds winning pool", 11, 10, 0, 0, ErrStakeExceedsPool},
		{"negative fee", 1, 10, -1, 0, ErrInvalidRate},
		{"split above 100%", 1, 10, 100, 10001, ErrInvalidRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(d(tt.stake), d(100), d(tt.winning), tt.fee, tt.ref, true)
			if err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
