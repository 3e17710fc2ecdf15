package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/distribution"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
)

// Payout is the breakdown of one user's claim on a resolved market.
type Payout struct {
	MarketID uint64          `json:"market_id"`
	User     common.Address  `json:"user"`
	Outcome  model.Outcome   `json:"outcome"`
	Stake    decimal.Decimal `json:"stake"`
	Refund   bool            `json:"refund"`
	Net      decimal.Decimal `json:"net"`
	Fee      decimal.Decimal `json:"fee"`
	AdminFee decimal.Decimal `json:"admin_fee"`
	Referral decimal.Decimal `json:"referral"`
	Referrer common.Address  `json:"referrer"`
}

// transfers returns the legs paying out p.
func (p *Payout) transfers(treasury common.Address) []vault.Transfer {
	legs := []vault.Transfer{{To: p.User, Amount: p.Net}}
	if p.Fee.IsPositive() {
		legs = append(legs, vault.Transfer{To: treasury, Amount: p.AdminFee})
		if p.Referral.IsPositive() {
			legs = append(legs, vault.Transfer{To: p.Referrer, Amount: p.Referral})
		}
	}
	return legs
}

// Claim pays out the caller's winnings, or refunds the full stake on a Void
// or cancelled market. A claim succeeds at most once per market and user.
func (e *Engine) Claim(ctx context.Context, caller common.Address, marketID uint64) (*Payout, error) {
	var out *Payout
	err := e.guarded(ctx, func(ctx context.Context) error {
		st, err := e.settings(ctx)
		if err != nil {
			return err
		}
		m, err := e.market(ctx, marketID)
		if err != nil {
			return err
		}
		bet, err := e.bet(ctx, marketID, caller)
		if err != nil {
			return err
		}
		p, err := quote(st, m, bet, caller)
		if err != nil {
			return err
		}

		// The flag flips before any funds move.
		if err := e.store.SetClaimed(ctx, m.ID, caller, true); err != nil {
			if errors.Is(err, store.ErrClaimConflict) {
				return ErrInvalidClaim
			}
			return fmt.Errorf("mark claimed: %w", err)
		}
		if err := e.disburse(ctx, m, p.transfers(st.Treasury)...); err != nil {
			if rerr := e.store.SetClaimed(ctx, m.ID, caller, false); rerr != nil {
				e.log.Error("restore claim after failed payout",
					"market_id", m.ID, "user", caller.Hex(), "err", rerr)
			}
			return err
		}
		out = p

		e.log.Info("winnings claimed",
			"market_id", m.ID,
			"user", caller.Hex(),
			"outcome", p.Outcome.String(),
			"refund", p.Refund,
			"net", p.Net.String(),
			"fee", p.Fee.String(),
		)
		if p.Fee.IsPositive() {
			e.publish(ctx, model.Event{
				Type:     model.EventFeesDistributed,
				MarketID: m.ID,
				User:     addrPtr(caller),
				Fee:      p.Fee,
				AdminFee: p.AdminFee,
				Referral: p.Referral,
				Referrer: addrPtr(p.Referrer),
			})
		}
		e.publish(ctx, model.Event{
			Type:     model.EventWinningsClaimed,
			MarketID: m.ID,
			User:     addrPtr(caller),
			Amount:   p.Net,
			Outcome:  p.Outcome,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QuoteClaim reports what Claim would pay the user right now, failing with
// the same errors, without moving funds.
func (e *Engine) QuoteClaim(ctx context.Context, marketID uint64, user common.Address) (*Payout, error) {
	st, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}
	m, err := e.market(ctx, marketID)
	if err != nil {
		return nil, err
	}
	bet, err := e.bet(ctx, marketID, user)
	if err != nil {
		return nil, err
	}
	return quote(st, m, bet, user)
}

// quote applies the claim rules to a loaded market and bet. bet is nil
// when the user never bet.
func quote(st *model.Settings, m *model.Market, bet *model.BetInfo, user common.Address) (*Payout, error) {
	if !m.Status.Resolved {
		return nil, ErrInvalidClaim
	}
	if bet != nil && bet.Claimed {
		return nil, ErrInvalidClaim
	}
	if m.Status.Swept {
		return nil, ErrAlreadySwept
	}
	if bet == nil {
		return nil, ErrNothingToClaim
	}

	p := &Payout{
		MarketID: m.ID,
		User:     user,
		Outcome:  m.Status.Outcome,
		Fee:      decimal.Zero,
		AdminFee: decimal.Zero,
		Referral: decimal.Zero,
	}
	switch m.Status.Outcome {
	case model.OutcomeYes:
		p.Stake = bet.YesAmount
	case model.OutcomeNo:
		p.Stake = bet.NoAmount
	default:
		p.Stake = bet.Total()
		p.Refund = true
	}
	if !p.Stake.IsPositive() {
		return nil, ErrNothingToClaim
	}

	if p.Refund {
		p.Net = p.Stake
		return p, nil
	}

	res, err := distribution.Calculate(p.Stake, m.Status.TotalPool, m.Status.WinningPool,
		st.FeeBps, st.ReferralBps, bet.HasReferrer())
	if err != nil {
		return nil, fmt.Errorf("calculate payout: %w", err)
	}
	p.Net = res.Net
	p.Fee = res.Fee
	p.AdminFee = res.Admin
	p.Referral = res.Referral
	if bet.HasReferrer() {
		p.Referrer = bet.Referrer
	}
	return p, nil
}
