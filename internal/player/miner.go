package player

import (
	"sort"
	"sync"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/history"
	"github.com/openalpha/mktsim/internal/mempool"
	"github.com/openalpha/mktsim/internal/mempoolprocessor"
	"github.com/openalpha/mktsim/internal/order"
)

// Miner owns the current block's frame: the ordered sequence of orders
// it has sealed for publication. Grounded on the original
// implementation's players/miner.rs (make_frame/publish_frame/
// random_front_run/strategic_front_run/collect_gas).
type Miner struct {
	basePlayer

	frameMu sync.Mutex
	frame   []*order.Order
}

// NewMiner creates an empty-frame Miner.
func NewMiner(traderID string) *Miner {
	return &Miner{basePlayer: newBasePlayer(traderID, TraderMiner)}
}

func (mn *Miner) LogToCSV(reason history.UpdateReason) string {
	return mn.logToCSV(reason)
}

// MakeFrame sorts the mempool by gas descending and pops up to
// blockSize orders into the miner's frame.
func (mn *Miner) MakeFrame(pool *mempool.MemPool, blockSize int) {
	if pool.Length() == 0 {
		return
	}
	pool.SortByGas()
	popped := pool.PopN(blockSize)

	mn.frameMu.Lock()
	mn.frame = popped
	mn.frameMu.Unlock()
}

// Frame returns a copy of the miner's current frame, for logging/tests.
func (mn *Miner) Frame() []*order.Order {
	mn.frameMu.Lock()
	defer mn.frameMu.Unlock()
	out := make([]*order.Order, len(mn.frame))
	copy(out, mn.frame)
	return out
}

// PublishFrame sequentially processes the miner's frame against bids
// and asks under marketType, then (for FBA/KLF) runs the batch auction.
// Returns every TradeResult produced this block, or nil if none.
func (mn *Miner) PublishFrame(logger log.Logger, bids, asks *book.Book, marketType auction.MarketType) []*auction.TradeResult {
	mn.frameMu.Lock()
	frame := mn.frame
	mn.frameMu.Unlock()

	cdaResults, bidFlows, askFlows := mempoolprocessor.SeqProcessOrders(logger, frame, bids, asks, marketType)
	if len(cdaResults) > 0 {
		return cdaResults
	}

	switch marketType {
	case auction.FBA:
		if tr := auction.RunFBA(bids, asks); tr != nil {
			return []*auction.TradeResult{tr}
		}
	case auction.KLF:
		if tr := auction.RunKLF(bidFlows, askFlows); tr != nil {
			return []*auction.TradeResult{tr}
		}
	}
	return nil
}

// RandomFrontRun selects a random order from the frame and prepends an
// identical copy under the miner's own identity, with zero gas and a
// fresh order id.
func (mn *Miner) RandomFrontRun(dists *dist.Set) (*order.Order, bool) {
	mn.frameMu.Lock()
	defer mn.frameMu.Unlock()
	if len(mn.frame) == 0 {
		return nil, false
	}
	idx := dists.Choose(len(mn.frame))
	copied := mn.frame[idx].Clone()
	copied.TraderID = mn.GetID()
	copied.Gas = math.LegacyZeroDec()
	copied.OrderID = order.NextOrderID()

	mn.frame = append([]*order.Order{copied}, mn.frame...)
	return copied, true
}

// StrategicFrontRun picks, from the frame's pending bids and asks, the
// one most profitable relative to the current best opposite-side book
// price, copies it under the miner's identity, and prepends it.
func (mn *Miner) StrategicFrontRun(bestBidPrice, bestAskPrice math.LegacyDec) (*order.Order, bool) {
	mn.frameMu.Lock()
	defer mn.frameMu.Unlock()
	if len(mn.frame) == 0 {
		return nil, false
	}

	sorted := make([]*order.Order, len(mn.frame))
	copy(sorted, mn.frame)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price.LT(sorted[j].Price) })

	var bestBid, bestAsk *order.Order
	for _, o := range sorted {
		switch o.TradeType {
		case order.Bid:
			if bestBid == nil {
				bestBid = o
			}
		case order.Ask:
			bestAsk = o
		}
	}

	var frontRun *order.Order
	switch {
	case bestBid == nil && bestAsk == nil:
		return nil, false
	case bestBid != nil && bestAsk == nil:
		frontRun = bestBid
	case bestBid == nil && bestAsk != nil:
		frontRun = bestAsk
	default:
		bidProfit := bestAskPrice.Sub(bestBid.Price)
		askProfit := bestAsk.Price.Sub(bestBidPrice)
		switch {
		case bidProfit.IsNegative() && askProfit.IsNegative():
			return nil, false
		case !bidProfit.IsNegative() && askProfit.IsNegative():
			frontRun = bestBid
		case bidProfit.IsNegative() && !askProfit.IsNegative():
			frontRun = bestAsk
		default:
			if bidProfit.GTE(askProfit) {
				frontRun = bestAsk
			} else {
				frontRun = bestBid
			}
		}
	}

	copied := frontRun.Clone()
	copied.TraderID = mn.GetID()
	copied.Gas = math.LegacyZeroDec()
	copied.OrderID = order.NextOrderID()

	mn.frame = append([]*order.Order{copied}, mn.frame...)
	return copied, true
}

// CollectGas sums gas across the frame and returns the per-submitter
// charges plus the miner's own net credit (total_gas), ready to hand to
// ClearingHouse.ApplyGasFees.
func (mn *Miner) CollectGas() (charges []GasCharge, totalGas math.LegacyDec) {
	mn.frameMu.Lock()
	defer mn.frameMu.Unlock()

	totalGas = math.LegacyZeroDec()
	for _, o := range mn.frame {
		charges = append(charges, GasCharge{TraderID: o.TraderID, Amount: o.Gas})
		totalGas = totalGas.Add(o.Gas)
	}
	charges = append(charges, GasCharge{TraderID: mn.GetID(), Amount: totalGas.Neg()})
	return charges, totalGas
}

// GasCharge is one (trader_id, gas-to-subtract) pair; the miner's own
// entry carries a negative amount (a credit).
type GasCharge struct {
	TraderID string
	Amount   math.LegacyDec
}
