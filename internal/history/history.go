// Package history accumulates everything the simulation needs to
// compute its end-of-run statistics and to hand makers the inference
// and decision data they quote against. Grounded on
// simulation.rs's History/PriorData/LikelihoodStats usage and on
// Simulation's calc_rmsd/calc_price_volatility/calc_social_welfare/
// calc_total_profit.
package history

import (
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/order"
)

// UpdateReason tags why a player's balance/inventory changed, for the
// CSV audit log.
type UpdateReason int32

const (
	Transact UpdateReason = iota
	Gas
	Tax
	Liquify
)

func (r UpdateReason) String() string {
	switch r {
	case Transact:
		return "Transact"
	case Gas:
		return "Gas"
	case Tax:
		return "Tax"
	case Liquify:
		return "Liquify"
	default:
		return "Unknown"
	}
}

// clearingRecord pairs a settlement with the wall-clock time it landed,
// for the RMSD/volatility calculations which only care about prices.
type clearingRecord struct {
	result    *auction.TradeResult
	timestamp time.Time
}

// bookStateRecord is one per-block snapshot of a book's resting orders.
type bookStateRecord struct {
	orders   []*order.Order
	side     order.TradeType
	blockNum uint64
}

// PriorData is the decision data handed to makers each tick: the
// current mempool snapshot, plus whatever a maker's strategy needs to
// read off the books.
type PriorData struct {
	PendingOrders []*order.Order
}

// LikelihoodStats is the inference data handed to makers each tick:
// the best bid/ask among the pending Enter limit orders of the mempool
// snapshot, and the most recent clearing price. Prices resting in the
// books are not read.
type LikelihoodStats struct {
	BestBid            math.LegacyDec
	HasBestBid         bool
	BestAsk            math.LegacyDec
	HasBestAsk         bool
	LastClearingPrice  math.LegacyDec
	HasClearingPrice   bool
}

// History is the simulation's append-only ledger of clearings and book
// snapshots, guarded by a single mutex since it is written from the
// investor, maker and miner loops (mempool orders) and the miner loop
// (clearings), and read from the maker loop and the final report.
type History struct {
	mu          sync.Mutex
	marketType  auction.MarketType
	clearings   []clearingRecord
	bookStates  []bookStateRecord
	mempoolLog  []*order.Order
}

// New creates an empty history for a simulation running under the
// given market type.
func New(marketType auction.MarketType) *History {
	return &History{
		marketType: marketType,
		clearings:  make([]clearingRecord, 0),
		bookStates: make([]bookStateRecord, 0),
		mempoolLog: make([]*order.Order, 0),
	}
}

// MempoolOrder records an order as it enters the mempool, for audit
// and for the decision-data feed to makers.
func (h *History) MempoolOrder(o *order.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mempoolLog = append(h.mempoolLog, o.Clone())
}

// SaveResults appends a settlement to the clearings log.
func (h *History) SaveResults(result *auction.TradeResult) {
	if result == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearings = append(h.clearings, clearingRecord{result: result, timestamp: time.Now()})
}

// CloneBookState records a deep-copied snapshot of one side's book at
// the given block number.
func (h *History) CloneBookState(orders []*order.Order, side order.TradeType, blockNum uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bookStates = append(h.bookStates, bookStateRecord{orders: orders, side: side, blockNum: blockNum})
}

// ProduceData builds the decision and inference data handed to makers
// this tick from the current mempool snapshot and the most recent
// clearing price on record.
func (h *History) ProduceData(pool []*order.Order) (PriorData, LikelihoodStats) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data := PriorData{PendingOrders: pool}

	var stats LikelihoodStats
	var bestBid, bestAsk math.LegacyDec
	haveBid, haveAsk := false, false
	for _, o := range pool {
		if o.ExType != order.LimitOrder || o.OrderType != order.Enter {
			continue
		}
		if o.TradeType == order.Bid {
			if !haveBid || o.Price.GT(bestBid) {
				bestBid, haveBid = o.Price, true
			}
		} else {
			if !haveAsk || o.Price.LT(bestAsk) {
				bestAsk, haveAsk = o.Price, true
			}
		}
	}
	stats.BestBid, stats.HasBestBid = bestBid, haveBid
	stats.BestAsk, stats.HasBestAsk = bestAsk, haveAsk

	if n := len(h.clearings); n > 0 {
		last := h.clearings[n-1].result
		if last.UniformPrice != nil {
			stats.LastClearingPrice, stats.HasClearingPrice = *last.UniformPrice, true
		} else if len(last.Updates) > 0 {
			stats.LastClearingPrice = last.Updates[len(last.Updates)-1].Price
			stats.HasClearingPrice = true
		}
	}

	return data, stats
}

// CalcRMSD is the standard deviation of every transaction price from
// the fundamental value fundVal.
func (h *History) CalcRMSD(fundVal math.LegacyDec) math.LegacyDec {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		num          int
		sumSqDiffs   = math.LegacyZeroDec()
	)
	for _, rec := range h.clearings {
		for _, p := range tradePrices(rec.result) {
			d := p.Sub(fundVal)
			sumSqDiffs = sumSqDiffs.Add(d.Mul(d))
			num++
		}
	}
	if num == 0 {
		return math.LegacyZeroDec()
	}
	mean := sumSqDiffs.QuoInt64(int64(num))
	return mean.ApproxSqrt()
}

// CalcPriceVolatility is the standard deviation of transaction prices
// around their own mean (independent of the fundamental value).
func (h *History) CalcPriceVolatility() math.LegacyDec {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		num  int
		mean = math.LegacyZeroDec()
	)
	for _, rec := range h.clearings {
		for _, p := range tradePrices(rec.result) {
			mean = mean.Add(p)
			num++
		}
	}
	if num == 0 {
		return math.LegacyZeroDec()
	}
	mean = mean.QuoInt64(int64(num))

	sumSqDiffs := math.LegacyZeroDec()
	for _, rec := range h.clearings {
		for _, p := range tradePrices(rec.result) {
			d := p.Sub(mean)
			sumSqDiffs = sumSqDiffs.Add(d.Mul(d))
		}
	}
	return sumSqDiffs.QuoInt64(int64(num)).ApproxSqrt()
}

// tradePrices extracts every individual trade price a settlement
// represents: for CDA, one per PlayerUpdate; for FBA/KLF, the single
// uniform price (duplicated is unnecessary since all fills share it,
// but the source counts one observation per transaction event).
func tradePrices(result *auction.TradeResult) []math.LegacyDec {
	if result.UniformPrice == nil {
		prices := make([]math.LegacyDec, 0, len(result.Updates))
		for _, pu := range result.Updates {
			if pu.Cancel {
				continue
			}
			prices = append(prices, pu.Price)
		}
		return prices
	}
	return []math.LegacyDec{*result.UniformPrice}
}

// Clearings returns a read-only copy of the settlement log for report
// generation.
func (h *History) Clearings() []*auction.TradeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*auction.TradeResult, len(h.clearings))
	for i, rec := range h.clearings {
		out[i] = rec.result
	}
	return out
}
