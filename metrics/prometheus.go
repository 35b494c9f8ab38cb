package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Market simulation metrics collector.
// Exposes the mempool/book/clearing-house state of a running
// simulation as Prometheus gauges/counters/histograms, for operators
// watching an otherwise headless batch job.

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds every metric the simulation driver reports.
type Collector struct {
	// Order flow
	OrdersSubmitted *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec

	// Book depth
	BookDepth    *prometheus.GaugeVec
	BestPrice    *prometheus.GaugeVec
	MempoolDepth prometheus.Gauge

	// Settlement
	TradesTotal     *prometheus.CounterVec
	TradeVolume     *prometheus.CounterVec
	ClearingPrice   *prometheus.GaugeVec
	ClearingLatency prometheus.Histogram

	// Gas and tax
	GasCollected prometheus.Counter
	TaxCollected prometheus.Counter

	// Players
	MakerProfit *prometheus.GaugeVec
	PlayerCount *prometheus.GaugeVec

	// Front-running
	FrontRunsTotal *prometheus.CounterVec

	// Run progress
	BlockHeight prometheus.Gauge
}

// GetCollector returns the process-wide singleton collector,
// registering every metric with the default registry on first use.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total number of orders submitted to the mempool",
		},
		[]string{"trader_type", "side"},
	)
	c.OrdersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total number of orders cancelled",
		},
		[]string{"side"},
	)
	c.OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Total number of orders rejected by the clearing house",
		},
		[]string{"trader_type"},
	)

	c.BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "book",
			Name:      "depth",
			Help:      "Number of resting orders on one side of the book",
		},
		[]string{"side"},
	)
	c.BestPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "book",
			Name:      "best_price",
			Help:      "Best resting price on one side of the book",
		},
		[]string{"side"},
	)
	c.MempoolDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "mempool",
			Name:      "depth",
			Help:      "Number of orders pending block inclusion",
		},
	)

	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "clearing",
			Name:      "trades_total",
			Help:      "Total number of fills settled by the clearing house",
		},
		[]string{"market_type"},
	)
	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "clearing",
			Name:      "volume_total",
			Help:      "Cumulative traded volume",
		},
		[]string{"market_type"},
	)
	c.ClearingPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "clearing",
			Name:      "price",
			Help:      "Most recent clearing/trade price",
		},
		[]string{"market_type"},
	)
	c.ClearingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mktsim",
			Subsystem: "clearing",
			Name:      "latency_ms",
			Help:      "Wall-clock time to publish and settle one miner frame",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		},
	)

	c.GasCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "fees",
			Name:      "gas_collected_total",
			Help:      "Cumulative gas collected by the miner",
		},
	)
	c.TaxCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "fees",
			Name:      "tax_collected_total",
			Help:      "Cumulative inventory tax collected from makers",
		},
	)

	c.MakerProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "players",
			Name:      "maker_profit",
			Help:      "Cumulative profit per maker behavioural sub-type",
		},
		[]string{"maker_type"},
	)
	c.PlayerCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "players",
			Name:      "count",
			Help:      "Number of registered players by trader type",
		},
		[]string{"trader_type"},
	)

	c.FrontRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mktsim",
			Subsystem: "miner",
			Name:      "front_runs_total",
			Help:      "Total number of front-run orders the miner inserted",
		},
		[]string{"strategy"},
	)

	c.BlockHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mktsim",
			Subsystem: "run",
			Name:      "block_height",
			Help:      "Current simulated block number",
		},
	)

	prometheus.MustRegister(c.OrdersSubmitted)
	prometheus.MustRegister(c.OrdersCancelled)
	prometheus.MustRegister(c.OrdersRejected)
	prometheus.MustRegister(c.BookDepth)
	prometheus.MustRegister(c.BestPrice)
	prometheus.MustRegister(c.MempoolDepth)
	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)
	prometheus.MustRegister(c.ClearingPrice)
	prometheus.MustRegister(c.ClearingLatency)
	prometheus.MustRegister(c.GasCollected)
	prometheus.MustRegister(c.TaxCollected)
	prometheus.MustRegister(c.MakerProfit)
	prometheus.MustRegister(c.PlayerCount)
	prometheus.MustRegister(c.FrontRunsTotal)
	prometheus.MustRegister(c.BlockHeight)

	return c
}

// RecordOrder increments the submitted-order counter for a
// (trader_type, side) pair.
func (c *Collector) RecordOrder(traderType, side string) {
	c.OrdersSubmitted.WithLabelValues(traderType, side).Inc()
}

// RecordTrade increments the trade counter and adds vol to the
// cumulative traded volume for marketType.
func (c *Collector) RecordTrade(marketType string, vol float64) {
	c.TradesTotal.WithLabelValues(marketType).Inc()
	c.TradeVolume.WithLabelValues(marketType).Add(vol)
}

// RecordClearingPrice sets the most recent clearing/trade price.
func (c *Collector) RecordClearingPrice(marketType string, price float64) {
	c.ClearingPrice.WithLabelValues(marketType).Set(price)
}

// RecordFrontRun increments the front-run counter for strategy
// ("random" or "strategic").
func (c *Collector) RecordFrontRun(strategy string) {
	c.FrontRunsTotal.WithLabelValues(strategy).Inc()
}

// UpdateBookDepth sets the resting-order count and best price for one
// side of the book.
func (c *Collector) UpdateBookDepth(side string, depth int, bestPrice float64, hasBest bool) {
	c.BookDepth.WithLabelValues(side).Set(float64(depth))
	if hasBest {
		c.BestPrice.WithLabelValues(side).Set(bestPrice)
	}
}

// UpdateRunState sets the mempool depth and current block height.
func (c *Collector) UpdateRunState(mempoolDepth int, blockHeight uint64) {
	c.MempoolDepth.Set(float64(mempoolDepth))
	c.BlockHeight.Set(float64(blockHeight))
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the latency of one miner-frame publish/settle cycle.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveClearingLatency records the elapsed time since NewTimer into
// the clearing-latency histogram.
func (t *Timer) ObserveClearingLatency(c *Collector) {
	c.ClearingLatency.Observe(float64(time.Since(t.start).Microseconds()) / 1000.0)
}
