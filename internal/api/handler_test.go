package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/api"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/settlement"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
)

const apiKey = "test-key"

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	vault  *vault.MemoryVault
	clock  *clock
	router chi.Router
}

// newTestEnv creates a Handler over an in-memory engine mounted on a chi
// router at /api/v1. Alice and bob start with 1000 of the native asset.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		vault: vault.NewMemoryVault(),
		clock: &clock{t: t0},
	}
	eng := settlement.New(store.NewMemoryStore(), env.vault,
		oracle.NewResolver(oracle.NewRegistry(nil)),
		settlement.WithClock(env.clock.now))
	if _, err := eng.Bootstrap(ctx, model.Settings{
		Owner:       owner,
		Treasury:    treasury,
		FeeBps:      200,
		ReferralBps: 1000,
	}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	for _, who := range []common.Address{alice, bob} {
		if err := env.vault.Credit(ctx, vault.Native, who, d(1000)); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}

	h := api.NewHandler(eng, env.vault)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.Mount(r, apiKey)
	})
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	if caller != nil {
		req.Header.Set(api.CallerHeader, caller.Hex())
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) createMarket(t *testing.T) uint64 {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/admin/markets", &owner, api.CreateMarketRequest{
		Question:       "Will it rain?",
		EndTime:        t0.Add(time.Hour),
		ResolutionTime: t0.Add(2 * time.Hour),
		MinBet:         d(1),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	return m.ID
}

func (env *testEnv) placeBet(t *testing.T, who common.Address, id uint64, side string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, "POST", marketPath(id, "/bets"), &who, api.PlaceBetRequest{
		Side:     side,
		Amount:   d(amount),
		Attached: d(amount),
	})
}

func marketPath(id uint64, suffix string) string {
	return "/api/v1/markets/" + strconv.FormatUint(id, 10) + suffix
}

func adminPath(id uint64, suffix string) string {
	return "/api/v1/admin/markets/" + strconv.FormatUint(id, 10) + suffix
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return body["code"]
}

// --- Full lifecycle ---

func TestLifecycle_BetResolveClaim(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)

	if w := env.placeBet(t, alice, id, "yes", 100); w.Code != http.StatusCreated {
		t.Fatalf("alice bet: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.placeBet(t, bob, id, "NO", 50); w.Code != http.StatusCreated {
		t.Fatalf("bob bet: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	env.clock.set(t0.Add(2 * time.Hour))
	w := env.do(t, "POST", adminPath(id, "/resolve/manual"), &owner,
		api.ResolveManualRequest{Outcome: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Quote before claiming matches the claim itself.
	w = env.do(t, "GET", marketPath(id, "/quote/"+alice.Hex()), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var quote settlement.Payout
	json.Unmarshal(w.Body.Bytes(), &quote)

	w = env.do(t, "POST", marketPath(id, "/claim"), &alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p settlement.Payout
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode payout: %v", err)
	}
	if !p.Net.Equal(d(147)) || !p.Fee.Equal(d(3)) {
		t.Errorf("payout: got net %s fee %s, want 147/3", p.Net, p.Fee)
	}
	if !quote.Net.Equal(p.Net) {
		t.Errorf("quote net %s differs from claim net %s", quote.Net, p.Net)
	}

	w = env.do(t, "GET", "/api/v1/accounts/"+alice.Hex()+"/balance", nil, nil)
	var bal api.BalanceResponse
	json.Unmarshal(w.Body.Bytes(), &bal)
	if !bal.Balance.Equal(d(1047)) {
		t.Errorf("alice balance: got %s, want 1047", bal.Balance)
	}

	// Second claim is rejected with a stable code.
	w = env.do(t, "POST", marketPath(id, "/claim"), &alice, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second claim: expected 422, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "invalid_claim" {
		t.Errorf("second claim code: got %q", code)
	}
}

// --- Error mapping ---

func TestPlaceBet_MissingCaller(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)

	w := env.do(t, "POST", marketPath(id, "/bets"), nil, api.PlaceBetRequest{Side: "YES", Amount: d(10), Attached: d(10)})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestPlaceBet_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)

	tests := []struct {
		name   string
		req    api.PlaceBetRequest
		status int
		code   string
	}{
		{"invalid side", api.PlaceBetRequest{Side: "MAYBE", Amount: d(10), Attached: d(10)}, http.StatusBadRequest, "invalid_side"},
		{"payment mismatch", api.PlaceBetRequest{Side: "YES", Amount: d(10), Attached: d(9)}, http.StatusUnprocessableEntity, "payment_mismatch"},
		{"below minimum", api.PlaceBetRequest{Side: "YES", Amount: d(0), Attached: d(0)}, http.StatusUnprocessableEntity, "below_minimum"},
		{"fractional amount", api.PlaceBetRequest{Side: "YES", Amount: decimal.RequireFromString("10.5"), Attached: decimal.RequireFromString("10.5")}, http.StatusBadRequest, "invalid_amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", marketPath(id, "/bets"), &alice, tt.req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.code {
				t.Errorf("code: got %q, want %q", code, tt.code)
			}
		})
	}
}

func TestPlaceBet_AfterEndTime(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)
	env.clock.set(t0.Add(time.Hour))

	w := env.placeBet(t, alice, id, "YES", 10)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "betting_closed" {
		t.Errorf("code: got %q", code)
	}
}

func TestGetMarket_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/markets/42", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "market_not_found" {
		t.Errorf("code: got %q", code)
	}

	w = env.do(t, "GET", "/api/v1/markets/abc", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/admin/pause", nil)
	req.Header.Set(api.CallerHeader, owner.Hex())
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdmin_NonOwnerForbidden(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/v1/admin/fees", &alice, api.FeesRequest{FeeBps: 100})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "unauthorized" {
		t.Errorf("code: got %q", code)
	}
}

func TestAdmin_SetFeesAndPause(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/v1/admin/fees", &owner, api.FeesRequest{FeeBps: 501})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("fee above cap: expected 400, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/admin/fees", &owner, api.FeesRequest{FeeBps: 100, ReferralBps: 5000})
	if w.Code != http.StatusOK {
		t.Fatalf("set fees: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st model.Settings
	json.Unmarshal(w.Body.Bytes(), &st)
	if st.FeeBps != 100 || st.ReferralBps != 5000 {
		t.Errorf("settings: got %+v", st)
	}

	id := env.createMarket(t)
	if w := env.do(t, "POST", "/api/v1/admin/pause", &owner, nil); w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	w = env.placeBet(t, alice, id, "YES", 10)
	if w.Code != http.StatusConflict || errorCode(t, w) != "market_paused" {
		t.Fatalf("bet while paused: got %d %s", w.Code, w.Body.String())
	}
}

func TestResolveAutomatic_RejectsBadRound(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)

	w := env.do(t, "POST", adminPath(id, "/resolve/automatic"),
		&owner, api.ResolveAutomaticRequest{RoundID: "zero"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCancelAndRefundViaClaim(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t)
	env.placeBet(t, alice, id, "YES", 100)

	w := env.do(t, "POST", adminPath(id, "/cancel"), &owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", marketPath(id, "/claim"), &alice, nil)
	var p settlement.Payout
	json.Unmarshal(w.Body.Bytes(), &p)
	if !p.Refund || !p.Net.Equal(d(100)) {
		t.Errorf("refund payout: got %+v", p)
	}
}

func TestCreditAccount(t *testing.T) {
	env := newTestEnv(t)
	carol := common.HexToAddress("0x00000000000000000000000000000000000000b3")

	w := env.do(t, "POST", "/api/v1/admin/accounts/"+carol.Hex()+"/credit", &owner, api.CreditRequest{Amount: d(-5)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative credit: expected 400, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/admin/accounts/"+carol.Hex()+"/credit", &owner, api.CreditRequest{Amount: d(250)})
	if w.Code != http.StatusOK {
		t.Fatalf("credit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal api.BalanceResponse
	json.Unmarshal(w.Body.Bytes(), &bal)
	if !bal.Balance.Equal(d(250)) {
		t.Errorf("balance: got %s", bal.Balance)
	}
}

func TestListMarkets_StateFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t)
	id := env.createMarket(t)
	env.do(t, "POST", adminPath(id, "/cancel"), &owner, nil)

	w := env.do(t, "GET", "/api/v1/markets?state=open", nil, nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].ID == id {
		t.Errorf("open markets: got %+v", markets)
	}
}
