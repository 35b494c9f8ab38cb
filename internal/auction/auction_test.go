package auction

import (
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/order"
)

func dec(v int64) math.LegacyDec { return math.LegacyNewDec(v) }

func TestCrossCDASingleFullFill(t *testing.T) {
	asks := book.New(order.Ask)
	resting := order.NewLimitOrder("asker", order.Ask, dec(100), dec(5), math.LegacyZeroDec())
	asks.Insert(resting)

	incoming := order.NewLimitOrder("bidder", order.Bid, dec(100), dec(5), math.LegacyZeroDec())
	result := CrossCDA(incoming, asks)
	if result == nil {
		t.Fatal("expected a trade result")
	}
	if len(result.Updates) != 1 {
		t.Fatalf("expected exactly one fill, got %d", len(result.Updates))
	}
	pu := result.Updates[0]
	if !pu.Price.Equal(dec(100)) {
		t.Errorf("expected trade at the resting price 100, got %s", pu.Price)
	}
	if !pu.Volume.Equal(dec(5)) {
		t.Errorf("expected full volume 5, got %s", pu.Volume)
	}
	if asks.Len() != 0 {
		t.Errorf("expected resting order fully consumed, book still has %d", asks.Len())
	}
}

func TestCrossCDAPartialRestsResidual(t *testing.T) {
	asks := book.New(order.Ask)
	asks.Insert(order.NewLimitOrder("asker", order.Ask, dec(100), dec(3), math.LegacyZeroDec()))

	incoming := order.NewLimitOrder("bidder", order.Bid, dec(100), dec(5), math.LegacyZeroDec())
	result := CrossCDA(incoming, asks)
	if result == nil {
		t.Fatal("expected a trade result")
	}
	if !result.Updates[0].Volume.Equal(dec(3)) {
		t.Errorf("expected matched volume 3, got %s", result.Updates[0].Volume)
	}
	if !incoming.Quantity.Equal(dec(2)) {
		t.Errorf("expected 2 units left unresting on the incoming order, got %s", incoming.Quantity)
	}
}

func TestCrossCDANoCrossReturnsNil(t *testing.T) {
	asks := book.New(order.Ask)
	asks.Insert(order.NewLimitOrder("asker", order.Ask, dec(110), dec(5), math.LegacyZeroDec()))

	incoming := order.NewLimitOrder("bidder", order.Bid, dec(100), dec(5), math.LegacyZeroDec())
	if result := CrossCDA(incoming, asks); result != nil {
		t.Fatalf("expected no trade when prices don't cross, got %+v", result)
	}
}

func TestRunFBAClearsAtMaxVolume(t *testing.T) {
	bids := book.New(order.Bid)
	bids.Insert(order.NewLimitOrder("bidder1", order.Bid, dec(105), dec(4), math.LegacyZeroDec()))
	bids.Insert(order.NewLimitOrder("bidder2", order.Bid, dec(100), dec(3), math.LegacyZeroDec()))

	asks := book.New(order.Ask)
	asks.Insert(order.NewLimitOrder("asker1", order.Ask, dec(95), dec(3), math.LegacyZeroDec()))
	asks.Insert(order.NewLimitOrder("asker2", order.Ask, dec(102), dec(4), math.LegacyZeroDec()))

	result := RunFBA(bids, asks)
	if result == nil {
		t.Fatal("expected a clearing result")
	}
	if result.UniformPrice == nil {
		t.Fatal("expected FBA to report a uniform clearing price")
	}

	totalVol := math.LegacyZeroDec()
	for _, pu := range result.Updates {
		if !pu.Cancel {
			totalVol = totalVol.Add(pu.Volume)
		}
	}
	// Demand >= 102 is 4 (bidder1 only); supply <= 102 is 7 (both asks).
	// Demand >= 100 is 7 (both bids); supply <= 100 is 3 (asker1 only).
	// Max matched volume across candidate prices is 4, at p=102.
	if !totalVol.Equal(dec(4)) {
		t.Errorf("expected FBA to match the volume-maximizing 4 units, got %s", totalVol)
	}
}

func TestRunFBANoOverlapReturnsNil(t *testing.T) {
	bids := book.New(order.Bid)
	bids.Insert(order.NewLimitOrder("bidder", order.Bid, dec(90), dec(5), math.LegacyZeroDec()))

	asks := book.New(order.Ask)
	asks.Insert(order.NewLimitOrder("asker", order.Ask, dec(100), dec(5), math.LegacyZeroDec()))

	if result := RunFBA(bids, asks); result != nil {
		t.Fatalf("expected no clearing result when bid < ask, got %+v", result)
	}
}

func TestRunKLFDemandEqualsSupplyAtClearingPrice(t *testing.T) {
	bidFlow := order.NewFlowOrder("bidder", order.Bid, dec(90), dec(110), dec(10), math.LegacyZeroDec())
	askFlow := order.NewFlowOrder("asker", order.Ask, dec(90), dec(110), dec(10), math.LegacyZeroDec())

	result := RunKLF([]*order.Order{bidFlow}, []*order.Order{askFlow})
	if result == nil {
		t.Fatal("expected a KLF clearing result")
	}
	if result.UniformPrice == nil {
		t.Fatal("expected KLF to report a uniform clearing price")
	}
	// Symmetric schedules clear at the schedule midpoint, 100.
	got, _ := result.UniformPrice.Float64()
	if got < 99.9 || got > 100.1 {
		t.Errorf("expected clearing price near 100 for symmetric schedules, got %v", got)
	}

	d := demandAt([]*order.Order{bidFlow}, *result.UniformPrice)
	s := supplyAt([]*order.Order{askFlow}, *result.UniformPrice)
	diff := d.Sub(s).Abs()
	if diff.GT(math.LegacyNewDecWithPrec(1, 6)) {
		t.Errorf("expected demand ~= supply at clearing price, demand=%s supply=%s", d, s)
	}
}

func TestRunKLFNoOverlapReturnsNil(t *testing.T) {
	bidFlow := order.NewFlowOrder("bidder", order.Bid, dec(50), dec(60), dec(10), math.LegacyZeroDec())
	askFlow := order.NewFlowOrder("asker", order.Ask, dec(100), dec(110), dec(10), math.LegacyZeroDec())

	if result := RunKLF([]*order.Order{bidFlow}, []*order.Order{askFlow}); result != nil {
		t.Fatalf("expected no clear when demand and supply schedules never overlap, got %+v", result)
	}
}

func TestRunKLFEmptySideReturnsNil(t *testing.T) {
	if result := RunKLF(nil, nil); result != nil {
		t.Fatalf("expected nil result with no flow orders on either side, got %+v", result)
	}
}
