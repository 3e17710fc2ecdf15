package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	feedAddr   = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	resolution = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
)

// newTestResolver returns a resolver over a feed whose round 10 straddles
// the resolution time with the given answer.
func newTestResolver(t *testing.T, answer int64) (*Resolver, *MemoryFeed) {
	t.Helper()
	feed := NewMemoryFeed()
	feed.SetRound(9, 1900, resolution.Add(-time.Minute))
	feed.SetRound(10, answer, resolution.Add(30*time.Second))
	feed.SetRound(11, 2100, resolution.Add(2*time.Minute))

	reg := NewRegistry(nil)
	reg.Register(feedAddr, feed)
	return NewResolver(reg), feed
}

func TestCheckOutcome_Winner(t *testing.T) {
	tests := []struct {
		name   string
		answer int64
		target int64
		below  bool
		want   int
	}{
		{"above target wins yes", 2500, 2000, false, WinnerYes},
		{"equal target wins yes", 2000, 2000, false, WinnerYes},
		{"under target loses", 1999, 2000, false, WinnerNo},
		{"below comparison yes", 1999, 2000, true, WinnerYes},
		{"below comparison equal is no", 2000, 2000, true, WinnerNo},
		{"zero answer voids", 0, 2000, false, WinnerVoid},
		{"negative answer voids", -5, 2000, true, WinnerVoid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(t, tt.answer)
			res, err := r.CheckOutcome(context.Background(), feedAddr, big.NewInt(10),
				resolution, decimal.NewFromInt(tt.target), tt.below)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Valid {
				t.Fatal("expected valid round")
			}
			if res.Winner != tt.want {
				t.Errorf("expected winner %d, got %d", tt.want, res.Winner)
			}
			if !res.Answer.Equal(decimal.NewFromInt(tt.answer)) {
				t.Errorf("expected answer %d, got %s", tt.answer, res.Answer)
			}
		})
	}
}

func TestCheckOutcome_InvalidRounds(t *testing.T) {
	r, _ := newTestResolver(t, 2500)
	ctx := context.Background()
	target := decimal.NewFromInt(2000)

	tests := []struct {
		name  string
		round *big.Int
	}{
		{"round before resolution", big.NewInt(9)},
		{"later round", big.NewInt(11)},
		{"unknown round", big.NewInt(42)},
		{"nil round", nil},
		{"zero round", big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.CheckOutcome(ctx, feedAddr, tt.round, resolution, target, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Valid {
				t.Errorf("expected invalid round, got %+v", res)
			}
		})
	}
}

func TestCheckOutcome_MissingPreviousRoundIsInvalid(t *testing.T) {
	feed := NewMemoryFeed()
	feed.SetRound(1, 2500, resolution.Add(time.Second))
	reg := NewRegistry(nil)
	reg.Register(feedAddr, feed)

	res, err := NewResolver(reg).CheckOutcome(context.Background(), feedAddr, big.NewInt(1),
		resolution, decimal.NewFromInt(2000), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("first round without predecessor cannot prove it straddles resolution time")
	}
}

func TestCheckOutcome_RoundIDOutOfRange(t *testing.T) {
	r, _ := newTestResolver(t, 2500)

	tests := []struct {
		name  string
		round *big.Int
	}{
		{"nil", nil},
		{"zero", big.NewInt(0)},
		{"negative", big.NewInt(-10)},
		{"one past uint80", new(big.Int).Lsh(big.NewInt(1), 80)},
		{"far past uint80", new(big.Int).Lsh(big.NewInt(1), 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.CheckOutcome(context.Background(), feedAddr, tt.round,
				resolution, decimal.NewFromInt(2000), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Valid {
				t.Error("expected an invalid result")
			}
		})
	}
}

func TestCheckOutcome_UnknownFeed(t *testing.T) {
	r := NewResolver(NewRegistry(nil))
	_, err := r.CheckOutcome(context.Background(), feedAddr, big.NewInt(1),
		resolution, decimal.NewFromInt(1), false)
	if !errors.Is(err, ErrUnknownFeed) {
		t.Errorf("expected ErrUnknownFeed, got %v", err)
	}
}

func TestRegistry_DialsAndCaches(t *testing.T) {
	dials := 0
	feed := NewMemoryFeed()
	reg := NewRegistry(func(common.Address) (Feed, error) {
		dials++
		return feed, nil
	})

	for i := 0; i < 3; i++ {
		got, err := reg.Feed(feedAddr)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != Feed(feed) {
			t.Error("expected dialed feed")
		}
	}
	if dials != 1 {
		t.Errorf("expected one dial, got %d", dials)
	}
}
