// Package api exposes the settlement engine over HTTP.
//
// All monetary values use shopspring/decimal and are encoded as JSON
// strings of integral base units.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/settlement"
)

// Accounts is the bettor-balance side of the vault.
type Accounts interface {
	Credit(ctx context.Context, asset, owner common.Address, amount decimal.Decimal) error
	Balance(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error)
}

// Handler serves the engine's HTTP surface.
type Handler struct {
	engine   *settlement.Engine
	accounts Accounts // optional; nil disables the account routes
}

// NewHandler creates a Handler. Pass nil accounts to leave balance routes
// unmounted.
func NewHandler(engine *settlement.Engine, accounts Accounts) *Handler {
	return &Handler{engine: engine, accounts: accounts}
}

// Mount registers every route on r, which is expected to be the /api/v1
// subrouter. Admin routes are additionally guarded by apiKey.
func (h *Handler) Mount(r chi.Router, apiKey string) {
	r.Get("/settings", h.GetSettings)
	r.Get("/markets", h.ListMarkets)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/bets", h.ListBets)
	r.Get("/markets/{marketID}/bets/{user}", h.GetBet)
	r.Get("/markets/{marketID}/quote/{user}", h.QuoteClaim)
	r.Get("/users/{user}/bets", h.ListUserBets)
	if h.accounts != nil {
		r.Get("/accounts/{user}/balance", h.GetBalance)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireCaller)
		r.Post("/markets/{marketID}/bets", h.PlaceBet)
		r.Post("/markets/{marketID}/claim", h.Claim)
		r.Post("/markets/{marketID}/refund", h.EmergencyRefund)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(Auth(apiKey))
		r.Use(RequireCaller)
		r.Post("/markets", h.CreateMarket)
		r.Post("/markets/{marketID}/resolve/manual", h.ResolveManual)
		r.Post("/markets/{marketID}/resolve/automatic", h.ResolveAutomatic)
		r.Post("/markets/{marketID}/cancel", h.CancelMarket)
		r.Post("/markets/{marketID}/sweep", h.SweepUnclaimed)
		r.Put("/fees", h.SetFees)
		r.Put("/treasury", h.SetTreasury)
		r.Post("/pause", h.Pause)
		r.Post("/unpause", h.Unpause)
		if h.accounts != nil {
			r.Post("/accounts/{user}/credit", h.CreditAccount)
		}
	})
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation. A zero
// oracle_feed makes the market manually resolved; a zero asset makes it a
// native-asset market.
type CreateMarketRequest struct {
	Question       string          `json:"question"`
	MetadataURI    string          `json:"metadata_uri"`
	EndTime        time.Time       `json:"end_time"`
	ResolutionTime time.Time       `json:"resolution_time"`
	TargetValue    decimal.Decimal `json:"target_value"`
	OracleFeed     common.Address  `json:"oracle_feed"`
	ResolveBelow   bool            `json:"resolve_below"`
	Asset          common.Address  `json:"asset"`
	MinBet         decimal.Decimal `json:"min_bet"`
}

// PlaceBetRequest is the JSON body for POST /markets/{id}/bets.
type PlaceBetRequest struct {
	Side     string          `json:"side"` // "YES" or "NO"
	Amount   decimal.Decimal `json:"amount"`
	Attached decimal.Decimal `json:"attached"` // native value sent with the call
	Referrer common.Address  `json:"referrer"`
}

// ResolveManualRequest carries the outcome code: 2 Yes, 1 No, else Void.
type ResolveManualRequest struct {
	Outcome int `json:"outcome"`
}

// ResolveAutomaticRequest names the oracle round straddling the resolution
// time. RoundID is a decimal string since round ids exceed 2^53.
type ResolveAutomaticRequest struct {
	RoundID string `json:"round_id"`
}

// FeesRequest is the JSON body for PUT /admin/fees.
type FeesRequest struct {
	FeeBps      int64 `json:"fee_bps"`
	ReferralBps int64 `json:"referral_bps"`
}

// TreasuryRequest is the JSON body for PUT /admin/treasury.
type TreasuryRequest struct {
	Treasury common.Address `json:"treasury"`
}

// CreditRequest is the JSON body for POST /admin/accounts/{user}/credit.
type CreditRequest struct {
	Asset  common.Address  `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// AmountResponse reports a single settled amount.
type AmountResponse struct {
	MarketID uint64          `json:"market_id"`
	User     *common.Address `json:"user,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// BalanceResponse reports a bettor's free balance in one asset.
type BalanceResponse struct {
	User    common.Address  `json:"user"`
	Asset   common.Address  `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// --- Queries ---

// GetSettings handles GET /api/v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Settings(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListMarkets handles GET /api/v1/markets
// Optional ?state=open|resolved|cancelled filter.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.engine.Markets(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	filtered := []model.Market{}
	state := model.State(r.URL.Query().Get("state"))
	for i := range markets {
		if state == "" || markets[i].State() == state {
			filtered = append(filtered, markets[i])
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.engine.Market(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListBets handles GET /api/v1/markets/{marketID}/bets
func (h *Handler) ListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	bets, err := h.engine.Bets(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if bets == nil {
		bets = []model.BetInfo{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetBet handles GET /api/v1/markets/{marketID}/bets/{user}
func (h *Handler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	bet, err := h.engine.Bet(r.Context(), id, user)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// QuoteClaim handles GET /api/v1/markets/{marketID}/quote/{user}
// Returns what Claim would pay right now without moving funds.
func (h *Handler) QuoteClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	p, err := h.engine.QuoteClaim(r.Context(), id, user)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListUserBets handles GET /api/v1/users/{user}/bets
func (h *Handler) ListUserBets(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	bets, err := h.engine.UserBets(r.Context(), user)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if bets == nil {
		bets = []model.BetInfo{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetBalance handles GET /api/v1/accounts/{user}/balance?asset=0x...
// A missing asset means the native asset.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	var asset common.Address
	if raw := r.URL.Query().Get("asset"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, "invalid asset address", http.StatusBadRequest)
			return
		}
		asset = common.HexToAddress(raw)
	}

	bal, err := h.accounts.Balance(r.Context(), asset, user)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: user, Asset: asset, Balance: bal})
}

// --- Bettor operations ---

// PlaceBet handles POST /api/v1/markets/{marketID}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req PlaceBetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Unknown sides become "" and are rejected by the engine after its
	// pause and schedule checks.
	side, _ := model.ParseSide(req.Side)
	bet, err := h.engine.PlaceBet(r.Context(), callerFrom(r.Context()), settlement.BetRequest{
		MarketID: id,
		Side:     side,
		Amount:   req.Amount,
		Attached: req.Attached,
		Referrer: req.Referrer,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// Claim handles POST /api/v1/markets/{marketID}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.engine.Claim(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// EmergencyRefund handles POST /api/v1/markets/{marketID}/refund
func (h *Handler) EmergencyRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	caller := callerFrom(r.Context())
	amount, err := h.engine.EmergencyRefund(r.Context(), caller, id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{MarketID: id, User: &caller, Amount: amount})
}

// --- Admin operations ---

// CreateMarket handles POST /api/v1/admin/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.engine.CreateMarket(r.Context(), callerFrom(r.Context()), model.MarketConfig{
		Question:       req.Question,
		MetadataURI:    req.MetadataURI,
		EndTime:        req.EndTime,
		ResolutionTime: req.ResolutionTime,
		TargetValue:    req.TargetValue,
		OracleFeed:     req.OracleFeed,
		ResolveBelow:   req.ResolveBelow,
		Asset:          req.Asset,
		MinBet:         req.MinBet,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ResolveManual handles POST /api/v1/admin/markets/{marketID}/resolve/manual
func (h *Handler) ResolveManual(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req ResolveManualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.engine.ResolveManual(r.Context(), callerFrom(r.Context()), id, req.Outcome)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ResolveAutomatic handles POST /api/v1/admin/markets/{marketID}/resolve/automatic
func (h *Handler) ResolveAutomatic(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req ResolveAutomaticRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roundID, ok := new(big.Int).SetString(req.RoundID, 10)
	if !ok || roundID.Sign() <= 0 {
		writeError(w, "round_id must be a positive decimal integer", http.StatusBadRequest)
		return
	}

	m, err := h.engine.ResolveAutomatic(r.Context(), callerFrom(r.Context()), id, roundID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CancelMarket handles POST /api/v1/admin/markets/{marketID}/cancel
func (h *Handler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.engine.CancelMarket(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SweepUnclaimed handles POST /api/v1/admin/markets/{marketID}/sweep
func (h *Handler) SweepUnclaimed(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	amount, err := h.engine.SweepUnclaimed(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{MarketID: id, Amount: amount})
}

// SetFees handles PUT /api/v1/admin/fees
func (h *Handler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req FeesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetFees(r.Context(), callerFrom(r.Context()), req.FeeBps, req.ReferralBps); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.GetSettings(w, r)
}

// SetTreasury handles PUT /api/v1/admin/treasury
func (h *Handler) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req TreasuryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetTreasury(r.Context(), callerFrom(r.Context()), req.Treasury); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.GetSettings(w, r)
}

// Pause handles POST /api/v1/admin/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(r.Context(), callerFrom(r.Context())); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.GetSettings(w, r)
}

// Unpause handles POST /api/v1/admin/unpause
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Unpause(r.Context(), callerFrom(r.Context())); err != nil {
		writeEngineError(w, r, err)
		return
	}
	h.GetSettings(w, r)
}

// CreditAccount handles POST /api/v1/admin/accounts/{user}/credit
// Records an external deposit into a bettor's free balance.
func (h *Handler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	var req CreditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		writeError(w, "amount must be a positive integer", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.accounts.Credit(ctx, req.Asset, user, req.Amount); err != nil {
		writeEngineError(w, r, err)
		return
	}
	bal, err := h.accounts.Balance(ctx, req.Asset, user)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	slog.Info("account credited",
		"user", user.Hex(),
		"asset", req.Asset.Hex(),
		"amount", req.Amount.String(),
		"by", callerFrom(ctx).Hex(),
	)
	writeJSON(w, http.StatusOK, BalanceResponse{User: user, Asset: req.Asset, Balance: bal})
}

// --- Helpers ---

func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, "invalid "+name+" address", http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
