package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestGetCollectorIsASingleton(t *testing.T) {
	a := GetCollector()
	b := GetCollector()
	if a != b {
		t.Error("expected GetCollector to return the same instance on every call")
	}
}

func TestRecordOrderIncrementsCounter(t *testing.T) {
	c := GetCollector()
	before := testutil.ToFloat64(c.OrdersSubmitted.WithLabelValues("investor", "bid"))
	c.RecordOrder("investor", "bid")
	after := testutil.ToFloat64(c.OrdersSubmitted.WithLabelValues("investor", "bid"))
	if after != before+1 {
		t.Errorf("expected the submitted-order counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordTradeAccumulatesVolume(t *testing.T) {
	c := GetCollector()
	before := testutil.ToFloat64(c.TradeVolume.WithLabelValues("CDA"))
	c.RecordTrade("CDA", 2.5)
	after := testutil.ToFloat64(c.TradeVolume.WithLabelValues("CDA"))
	if after != before+2.5 {
		t.Errorf("expected traded volume to accumulate by 2.5, got %v -> %v", before, after)
	}
}

func TestRecordClearingPriceSetsGauge(t *testing.T) {
	c := GetCollector()
	c.RecordClearingPrice("FBA", 101.5)
	if got := testutil.ToFloat64(c.ClearingPrice.WithLabelValues("FBA")); got != 101.5 {
		t.Errorf("expected clearing price gauge 101.5, got %v", got)
	}
}

func TestUpdateBookDepthSetsDepthAndBestPrice(t *testing.T) {
	c := GetCollector()
	c.UpdateBookDepth("bid", 7, 99.5, true)
	if got := testutil.ToFloat64(c.BookDepth.WithLabelValues("bid")); got != 7 {
		t.Errorf("expected book depth 7, got %v", got)
	}
	if got := testutil.ToFloat64(c.BestPrice.WithLabelValues("bid")); got != 99.5 {
		t.Errorf("expected best price 99.5, got %v", got)
	}
}

func TestUpdateBookDepthLeavesBestPriceOnEmptySide(t *testing.T) {
	c := GetCollector()
	c.BestPrice.WithLabelValues("ask").Set(123)
	c.UpdateBookDepth("ask", 0, 0, false)
	if got := testutil.ToFloat64(c.BestPrice.WithLabelValues("ask")); got != 123 {
		t.Errorf("expected best price left untouched with hasBest=false, got %v", got)
	}
}

func TestUpdateRunStateSetsMempoolDepthAndBlockHeight(t *testing.T) {
	c := GetCollector()
	c.UpdateRunState(42, 7)
	if got := testutil.ToFloat64(c.MempoolDepth); got != 42 {
		t.Errorf("expected mempool depth 42, got %v", got)
	}
	if got := testutil.ToFloat64(c.BlockHeight); got != 7 {
		t.Errorf("expected block height 7, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	GetCollector().RecordOrder("investor", "bid")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 from the metrics handler, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a non-empty metrics response body")
	}
}

func TestTimerObservesClearingLatency(t *testing.T) {
	c := GetCollector()
	before := &dto.Metric{}
	if err := c.ClearingLatency.Write(before); err != nil {
		t.Fatalf("reading the latency histogram: %v", err)
	}
	timer := NewTimer()
	timer.ObserveClearingLatency(c)
	after := &dto.Metric{}
	if err := c.ClearingLatency.Write(after); err != nil {
		t.Fatalf("reading the latency histogram: %v", err)
	}
	if got := after.GetHistogram().GetSampleCount() - before.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("expected the latency histogram to record 1 observation, got %d", got)
	}
}
