package player

import (
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/history"
)

func makerDists(rows ...dist.Distribution) *dist.Set {
	return dist.NewSet(1, rows)
}

func TestMakerNewOrdersAggressiveCentresOnBookMidpoint(t *testing.T) {
	mk := NewMaker("maker-1", Aggressive)
	dists := makerDists(
		dist.Distribution{Reason: dist.AggressiveSpread, Type: dist.Constant, V1: 1, Scalar: 1},
		dist.Distribution{Reason: dist.AggressiveSize, Type: dist.Constant, V1: 2, Scalar: 1},
	)
	stats := history.LikelihoodStats{
		BestBid: math.LegacyNewDec(99), HasBestBid: true,
		BestAsk: math.LegacyNewDec(101), HasBestAsk: true,
	}

	bid, ask, ok := mk.NewOrders(stats, math.LegacyZeroDec(), dists)
	if !ok {
		t.Fatal("expected Aggressive to quote when both sides of the book are present")
	}
	if !bid.Price.Equal(math.LegacyNewDec(99)) {
		t.Errorf("expected bid priced at midpoint(100) - spread(1) = 99, got %s", bid.Price)
	}
	if !ask.Price.Equal(math.LegacyNewDec(101)) {
		t.Errorf("expected ask priced at midpoint(100) + spread(1) = 101, got %s", ask.Price)
	}
	if !bid.Quantity.Equal(math.LegacyNewDec(2)) {
		t.Errorf("expected quoted size 2, got %s", bid.Quantity)
	}
}

func TestMakerNewOrdersAggressiveFallsBackToLastClearingPrice(t *testing.T) {
	mk := NewMaker("maker-1", Aggressive)
	dists := makerDists(
		dist.Distribution{Reason: dist.AggressiveSpread, Type: dist.Constant, V1: 1, Scalar: 1},
		dist.Distribution{Reason: dist.AggressiveSize, Type: dist.Constant, V1: 1, Scalar: 1},
	)
	stats := history.LikelihoodStats{LastClearingPrice: math.LegacyNewDec(50), HasClearingPrice: true}

	bid, _, ok := mk.NewOrders(stats, math.LegacyZeroDec(), dists)
	if !ok {
		t.Fatal("expected Aggressive to quote off the last clearing price with an empty book")
	}
	if !bid.Price.Equal(math.LegacyNewDec(49)) {
		t.Errorf("expected bid centred on the clearing price 50, got %s", bid.Price)
	}
}

func TestMakerNewOrdersNoBasisReturnsFalse(t *testing.T) {
	mk := NewMaker("maker-1", RiskAverse)
	dists := makerDists(
		dist.Distribution{Reason: dist.RiskAverseSpread, Type: dist.Constant, V1: 1, Scalar: 1},
		dist.Distribution{Reason: dist.RiskAverseSize, Type: dist.Constant, V1: 1, Scalar: 1},
	)

	if _, _, ok := mk.NewOrders(history.LikelihoodStats{}, math.LegacyZeroDec(), dists); ok {
		t.Fatal("expected RiskAverse to decline quoting with no book and no prior clearing price")
	}
}

func TestMakerNewOrdersZeroSizeReturnsFalse(t *testing.T) {
	mk := NewMaker("maker-1", Random)
	dists := makerDists(
		dist.Distribution{Reason: dist.RandomMidpoint, Type: dist.Constant, V1: 100, Scalar: 1},
		dist.Distribution{Reason: dist.RandomSpread, Type: dist.Constant, V1: 1, Scalar: 1},
		dist.Distribution{Reason: dist.RandomSize, Type: dist.Constant, V1: 0, Scalar: 1},
	)

	if _, _, ok := mk.NewOrders(history.LikelihoodStats{}, math.LegacyZeroDec(), dists); ok {
		t.Fatal("expected a zero-sized draw to decline quoting")
	}
}

func TestMakerNewOrdersNonPositiveBidReturnsFalse(t *testing.T) {
	mk := NewMaker("maker-1", Random)
	dists := makerDists(
		dist.Distribution{Reason: dist.RandomMidpoint, Type: dist.Constant, V1: 1, Scalar: 1},
		dist.Distribution{Reason: dist.RandomSpread, Type: dist.Constant, V1: 5, Scalar: 1},
		dist.Distribution{Reason: dist.RandomSize, Type: dist.Constant, V1: 1, Scalar: 1},
	)

	if _, _, ok := mk.NewOrders(history.LikelihoodStats{}, math.LegacyZeroDec(), dists); ok {
		t.Fatal("expected a non-positive bid price (midpoint - spread <= 0) to decline quoting")
	}
}
