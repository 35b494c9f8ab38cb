package mempoolprocessor

import (
	"testing"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/order"
)

func TestSeqProcessOrdersCDACrossesImmediately(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)
	asks.Insert(order.NewLimitOrder("asker", order.Ask, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec()))

	frame := []*order.Order{
		order.NewLimitOrder("bidder", order.Bid, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec()),
	}

	results, bidFlows, askFlows := SeqProcessOrders(log.NewNopLogger(), frame, bids, asks, auction.CDA)
	if len(results) != 1 {
		t.Fatalf("expected 1 trade result from the immediate cross, got %d", len(results))
	}
	if len(bidFlows) != 0 || len(askFlows) != 0 {
		t.Error("expected no flow accumulation under CDA")
	}
	if asks.Len() != 0 {
		t.Errorf("expected the resting ask fully consumed, book has %d", asks.Len())
	}
}

func TestSeqProcessOrdersCDARestsResidualOnNoCross(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)

	frame := []*order.Order{
		order.NewLimitOrder("bidder", order.Bid, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec()),
	}

	results, _, _ := SeqProcessOrders(log.NewNopLogger(), frame, bids, asks, auction.CDA)
	if len(results) != 0 {
		t.Fatalf("expected no trade result with an empty opposite book, got %d", len(results))
	}
	if bids.Len() != 1 {
		t.Errorf("expected the order to rest in the bid book, got %d entries", bids.Len())
	}
}

func TestSeqProcessOrdersFBARestsWithoutClearing(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)

	frame := []*order.Order{
		order.NewLimitOrder("bidder", order.Bid, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec()),
	}

	results, _, _ := SeqProcessOrders(log.NewNopLogger(), frame, bids, asks, auction.FBA)
	if len(results) != 0 {
		t.Fatalf("expected FBA Enter orders deferred, not immediately cleared, got %d results", len(results))
	}
	if bids.Len() != 1 {
		t.Errorf("expected the order resting for the batch clear, got %d entries", bids.Len())
	}
}

func TestSeqProcessOrdersKLFAccumulatesFlows(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)

	frame := []*order.Order{
		order.NewFlowOrder("bidder", order.Bid, math.LegacyNewDec(90), math.LegacyNewDec(110), math.LegacyNewDec(5), math.LegacyZeroDec()),
		order.NewFlowOrder("asker", order.Ask, math.LegacyNewDec(90), math.LegacyNewDec(110), math.LegacyNewDec(5), math.LegacyZeroDec()),
	}

	results, bidFlows, askFlows := SeqProcessOrders(log.NewNopLogger(), frame, bids, asks, auction.KLF)
	if len(results) != 0 {
		t.Fatalf("expected no immediate results under KLF, got %d", len(results))
	}
	if len(bidFlows) != 1 || len(askFlows) != 1 {
		t.Errorf("expected one flow order accumulated per side, got bids=%d asks=%d", len(bidFlows), len(askFlows))
	}
	if bids.Len() != 0 || asks.Len() != 0 {
		t.Error("expected KLF flow orders never rested directly in the books")
	}
}

func TestSeqProcessOrdersCancelRemovesFromBook(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)
	resting := order.NewLimitOrder("bidder", order.Bid, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec())
	bids.Insert(resting)

	frame := []*order.Order{resting.AsCancel()}
	SeqProcessOrders(log.NewNopLogger(), frame, bids, asks, auction.CDA)

	if bids.Len() != 0 {
		t.Errorf("expected the cancel to remove the resting order, book has %d", bids.Len())
	}
}

func TestSeqProcessOrdersUpdateReplacesResting(t *testing.T) {
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)
	resting := order.NewLimitOrder("bidder", order.Bid, math.LegacyNewDec(100), math.LegacyNewDec(5), math.LegacyZeroDec())
	bids.Insert(resting)

	updated := resting.Clone()
	updated.OrderType = order.Update
	updated.Price = math.LegacyNewDec(110)

	SeqProcessOrders(log.NewNopLogger(), []*order.Order{updated}, bids, asks, auction.CDA)

	if bids.Len() != 1 {
		t.Fatalf("expected exactly one resting order after the update, got %d", bids.Len())
	}
	if got := bids.Snapshot()[0].Price; !got.Equal(math.LegacyNewDec(110)) {
		t.Errorf("expected the resting order repriced to 110, got %s", got)
	}
}
