package sim

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/clearinghouse"
	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/order"
	"github.com/openalpha/mktsim/internal/player"
	"github.com/openalpha/mktsim/internal/simlog"
	"github.com/openalpha/mktsim/metrics"
)

// Runner owns the three agent goroutines' lifecycle: Start launches
// them, Stop signals cooperative shutdown and waits for all three to
// return. Grounded on offchain/matcher.OffchainMatcher's stopCh +
// sync.WaitGroup pattern (Start/Stop/eventLoop/batchLoop), generalized
// from two loops to three.
type Runner struct {
	sim *Simulation

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner builds a Runner bound to sim, not yet started.
func NewRunner(sim *Simulation) *Runner {
	return &Runner{sim: sim, stopCh: make(chan struct{})}
}

// Start launches the investor, maker, and miner loops as goroutines.
func (r *Runner) Start() {
	r.wg.Add(3)
	go r.investorLoop()
	go r.makerLoop()
	go r.minerLoop()
}

// Stop signals every loop to exit at its next tick boundary and
// blocks until all three have returned.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) done() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return r.sim.blockNum.Read() > r.sim.consts.NumBlocks
	}
}

// investorLoop repeatedly picks a random investor, generates a single
// bid or ask order priced off the configured distributions, registers
// it with the clearing house, and submits it to the mempool, then
// sleeps for a sampled inter-arrival time. Grounded on
// simulation.rs's investor_task.
func (r *Runner) investorLoop() {
	defer r.wg.Done()
	s := r.sim

	for !r.done() {
		ids := s.house.GetFilteredIDs(player.TraderInvestor)
		if len(ids) == 0 {
			r.sleepMillis(100)
			continue
		}
		traderID := ids[s.dists.Choose(len(ids))]

		tt := order.Bid
		if s.dists.FiftyFifty() {
			tt = order.Ask
		}

		var priceReason dist.Reason
		if tt == order.Ask {
			priceReason = dist.AsksCenter
		} else {
			priceReason = dist.BidsCenter
		}
		price, err := s.dists.Sample(priceReason)
		if err != nil {
			s.logger.Error("sim: investor couldn't sample price", "err", err)
			continue
		}
		qty, err := s.dists.Sample(dist.InvestorVolume)
		if err != nil {
			s.logger.Error("sim: investor couldn't sample volume", "err", err)
			continue
		}
		gas, err := s.dists.Sample(dist.InvestorGas)
		if err != nil {
			s.logger.Error("sim: investor couldn't sample gas", "err", err)
			continue
		}

		o := s.newOrder(traderID, tt, price, qty.Abs(), gas.Abs())
		if err := s.house.NewOrder(o); err != nil {
			s.logger.Warn("sim: investor order rejected", "trader_id", traderID, "err", err)
			metrics.GetCollector().OrdersRejected.WithLabelValues("Investor").Inc()
			continue
		}
		s.hist.MempoolOrder(o)
		s.pool.Push(o)
		metrics.GetCollector().RecordOrder("Investor", tt.String())

		enterDelay, err := s.dists.Sample(dist.InvestorEnter)
		if err != nil {
			s.sleepMillis(100)
			continue
		}
		r.sleepDec(enterDelay.Abs())
	}
}

// newOrder builds a LimitOrder at a flat price, or (under KLF) a
// FlowOrder spanning [price, price+offset) for asks / [price-offset,
// price) for bids, matching simulation.rs's investor_task price/p_low/
// p_high derivation.
func (s *Simulation) newOrder(traderID string, tt order.TradeType, price, qty, gas math.LegacyDec) *order.Order {
	if s.consts.MarketType != auction.KLF {
		return order.NewLimitOrder(traderID, tt, price, qty, gas)
	}
	offset := decFromFloat(s.consts.FlowOrderOffset)
	if tt == order.Ask {
		return order.NewFlowOrder(traderID, tt, price, price.Add(offset), qty, gas)
	}
	return order.NewFlowOrder(traderID, tt, price.Sub(offset), price, qty, gas)
}

// makerLoop gives every registered maker with no resting orders a
// chance (at maker_enter_prob) to quote a fresh bid/ask pair each
// tick, using inference data drawn from the latest mempool snapshot and
// the last clearing price. Grounded on simulation.rs's maker_task.
func (r *Runner) makerLoop() {
	defer r.wg.Done()
	s := r.sim

	for !r.done() {
		makerIDs := s.house.GetFilteredIDs(player.TraderMaker)
		poolSnapshot := s.pool.Snapshot()
		_, stats := s.hist.ProduceData(poolSnapshot)

		for _, id := range makerIDs {
			count, err := s.house.GetPlayerOrderCount(id)
			if err != nil || count != 0 {
				continue
			}
			if !s.dists.DoWithProb(s.consts.MakerEnterProb) {
				continue
			}

			p, ok := s.lookupMaker(id)
			if !ok {
				continue
			}
			gas, err := s.dists.Sample(dist.InvestorGas)
			if err != nil {
				continue
			}
			bidOrder, askOrder, ok := p.NewOrders(stats, gas.Abs(), s.dists)
			if !ok {
				continue
			}

			if err := s.house.NewOrder(bidOrder); err != nil {
				s.logger.Warn("sim: maker bid order rejected", "trader_id", id, "err", err)
				continue
			}
			s.hist.MempoolOrder(bidOrder)
			s.pool.Push(bidOrder)

			if err := s.house.NewOrder(askOrder); err != nil {
				s.logger.Warn("sim: maker ask order rejected", "trader_id", id, "err", err)
				continue
			}
			s.hist.MempoolOrder(askOrder)
			s.pool.Push(askOrder)
		}

		r.sleepMillis(s.consts.BatchIntervalMS + s.consts.MakerPropDelayMS)
	}
}

func (s *Simulation) lookupMaker(id string) (*player.Maker, bool) {
	p, ok := s.house.Get(id)
	if !ok {
		return nil, false
	}
	mk, ok := p.(*player.Maker)
	return mk, ok
}

// minerLoop collects gas from the miner's current frame, publishes it
// against the books (crossing under CDA, clearing under FBA/KLF),
// saves every settlement to history and the clearing house, taxes
// maker inventory, sleeps a simulated propagation delay, forms the
// next frame from the mempool, and may insert a front-run order.
// Grounded on simulation.rs's miner_task.
func (r *Runner) minerLoop() {
	defer r.wg.Done()
	s := r.sim

	for !r.done() {
		timer := metrics.NewTimer()
		charges, totalGas := s.miner.CollectGas()
		gasChanges := make([]clearinghouse.GasChange, 0, len(charges))
		for _, c := range charges {
			gasChanges = append(gasChanges, clearinghouse.GasChange{TraderID: c.TraderID, Amount: c.Amount})
		}
		s.house.ApplyGasFees(gasChanges, totalGas)
		metrics.GetCollector().GasCollected.Add(decToFloat(totalGas))

		results := s.miner.PublishFrame(s.logger, s.bids, s.asks, s.consts.MarketType)
		if len(results) > 0 {
			s.hist.CloneBookState(s.bids.Snapshot(), order.Bid, s.blockNum.Read())
			s.hist.CloneBookState(s.asks.Snapshot(), order.Ask, s.blockNum.Read())
			s.blockNum.Inc()

			var lastPrice *math.LegacyDec
			for _, res := range results {
				s.hist.SaveResults(res)
				s.house.UpdateHouse(res, makerTypeOf)
				recordSettlement(res)
				if res.UniformPrice != nil {
					lastPrice = res.UniformPrice
				}
			}
			s.writeBookSnapshot(lastPrice)
		}
		timer.ObserveClearingLatency(metrics.GetCollector())

		s.house.TaxMakers(decFromFloat(s.consts.MakerInvTax), makerTypeOf)

		bestBid, hasBid := s.bids.BestPrice()
		bestAsk, hasAsk := s.asks.BestPrice()
		metrics.GetCollector().UpdateBookDepth("Bid", s.bids.Len(), decToFloat(bestBid), hasBid)
		metrics.GetCollector().UpdateBookDepth("Ask", s.asks.Len(), decToFloat(bestAsk), hasAsk)
		metrics.GetCollector().UpdateRunState(s.pool.Length(), s.blockNum.Read())

		delay, err := s.dists.Sample(dist.MinerFrameForm)
		if err == nil {
			r.sleepDec(delay.Abs())
		}

		s.miner.MakeFrame(s.pool, s.consts.BlockSize)

		if s.dists.DoWithProb(s.consts.FrontRunPerc) {
			if fr, ok := s.frontRun(); ok {
				s.hist.MempoolOrder(fr)
				if err := s.house.NewOrder(fr); err != nil {
					s.logger.Warn("sim: couldn't add front-run order to house", "err", err)
				}
			}
		}
	}
}

// frontRun decides between a strategic and a random front-run,
// weighted toward strategic when the book has two-sided best prices
// to exploit (the Rust original always attempts front_run, which
// internally prefers the strategic branch; see players/miner.rs).
func (s *Simulation) frontRun() (*order.Order, bool) {
	bestBid, hasBid := s.bids.BestPrice()
	bestAsk, hasAsk := s.asks.BestPrice()
	if hasBid && hasAsk {
		if o, ok := s.miner.StrategicFrontRun(bestBid, bestAsk); ok {
			metrics.GetCollector().RecordFrontRun("strategic")
			return o, true
		}
	}
	o, ok := s.miner.RandomFrontRun(s.dists)
	if ok {
		metrics.GetCollector().RecordFrontRun("random")
	}
	return o, ok
}

// recordSettlement reports a settlement's trade count/volume/price to
// the metrics collector.
func recordSettlement(res *auction.TradeResult) {
	c := metrics.GetCollector()
	marketType := res.MarketType.String()
	if res.UniformPrice != nil {
		c.RecordTrade(marketType, 0)
		c.RecordClearingPrice(marketType, decToFloat(*res.UniformPrice))
		return
	}
	for _, pu := range res.Updates {
		if pu.Cancel || pu.Volume.IsZero() {
			continue
		}
		c.RecordTrade(marketType, decToFloat(pu.Volume))
		c.RecordClearingPrice(marketType, decToFloat(pu.Price))
	}
}

// decToFloat converts a LegacyDec to float64 for metrics export,
// ignoring the (non-fatal) conversion error since an observability
// gauge losing precision is not worth propagating up.
func decToFloat(d math.LegacyDec) float64 {
	f, _ := d.Float64()
	return f
}

// writeBookSnapshot appends one row to the order-book snapshot sink
// (if attached) describing both books' resting orders as of the
// current block. clearingPrice is nil for CDA settlements, which have
// no single uniform price.
func (s *Simulation) writeBookSnapshot(clearingPrice *math.LegacyDec) {
	if s.bookSnapshot == nil {
		return
	}
	row := simlog.FormatBookSnapshot(
		time.Now().UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%d", s.blockNum.Read()),
		clearingPrice,
		s.bids.Snapshot(),
		s.asks.Snapshot(),
	)
	if err := s.bookSnapshot.WriteRow(row); err != nil {
		s.logger.Warn("sim: book snapshot write failed", "err", err)
	}
}

func (r *Runner) sleepMillis(ms int64) {
	if ms <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.stopCh:
	}
}

func (r *Runner) sleepDec(ms math.LegacyDec) {
	r.sleepMillis(ms.TruncateInt64())
}
