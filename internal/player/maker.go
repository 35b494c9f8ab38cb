package player

import (
	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/history"
	"github.com/openalpha/mktsim/internal/order"
)

// MakerT is a market maker's behavioural sub-type, driving its quoting
// strategy. Values double as the index into ClearingHouse's
// per-maker-type profit array.
type MakerT int32

const (
	Aggressive MakerT = iota
	RiskAverse
	Random
)

func (m MakerT) String() string {
	switch m {
	case Aggressive:
		return "Aggressive"
	case RiskAverse:
		return "RiskAverse"
	case Random:
		return "Random"
	default:
		return "Unknown"
	}
}

// Maker quotes a bid/ask pair each tick it decides to participate,
// centred on a strategy-dependent midpoint with a strategy-dependent
// half-spread and size. It never quotes while it already has resting
// orders (one-pair-at-a-time discipline), enforced by the caller via
// NumOrders before calling NewOrders.
type Maker struct {
	basePlayer
	MakerType MakerT
}

// NewMaker creates a Maker of the given behavioural sub-type.
func NewMaker(traderID string, makerType MakerT) *Maker {
	return &Maker{basePlayer: newBasePlayer(traderID, TraderMaker), MakerType: makerType}
}

func (m *Maker) LogToCSV(reason history.UpdateReason) string {
	return m.logToCSV(reason)
}

// NewOrders produces a bid/ask pair priced per the maker's sub-type,
// given the current inference stats (best bid/ask, last clearing
// price) and the configured distribution set. Returns false if the
// maker's strategy has no basis to quote (e.g. RiskAverse with no
// pending bid/ask pair and no prior clearing price to center on).
func (m *Maker) NewOrders(stats history.LikelihoodStats, gas math.LegacyDec, dists *dist.Set) (bidOrder, askOrder *order.Order, ok bool) {
	var midpoint, halfSpread, size math.LegacyDec
	var err error

	switch m.MakerType {
	case Aggressive:
		midpoint, ok = aggressiveMidpoint(stats)
		if !ok {
			return nil, nil, false
		}
		halfSpread, err = dists.Sample(dist.AggressiveSpread)
		if err != nil {
			return nil, nil, false
		}
		size, err = dists.Sample(dist.AggressiveSize)
		if err != nil {
			return nil, nil, false
		}

	case RiskAverse:
		midpoint, ok = bookMidpoint(stats)
		if !ok {
			return nil, nil, false
		}
		halfSpread, err = dists.Sample(dist.RiskAverseSpread)
		if err != nil {
			return nil, nil, false
		}
		size, err = dists.Sample(dist.RiskAverseSize)
		if err != nil {
			return nil, nil, false
		}

	case Random:
		midpoint, err = dists.Sample(dist.RandomMidpoint)
		if err != nil {
			return nil, nil, false
		}
		halfSpread, err = dists.Sample(dist.RandomSpread)
		if err != nil {
			return nil, nil, false
		}
		size, err = dists.Sample(dist.RandomSize)
		if err != nil {
			return nil, nil, false
		}

	default:
		return nil, nil, false
	}

	halfSpread = halfSpread.Abs()
	size = size.Abs()
	if size.IsZero() {
		return nil, nil, false
	}

	bidPrice := midpoint.Sub(halfSpread)
	askPrice := midpoint.Add(halfSpread)
	if !bidPrice.IsPositive() {
		return nil, nil, false
	}

	bidOrder = order.NewLimitOrder(m.GetID(), order.Bid, bidPrice, size, gas)
	askOrder = order.NewLimitOrder(m.GetID(), order.Ask, askPrice, size, gas)
	return bidOrder, askOrder, true
}

// aggressiveMidpoint centres on the average of the best pending bid and
// best pending ask in stats, falling back to the last clearing price
// when either side is missing.
func aggressiveMidpoint(stats history.LikelihoodStats) (math.LegacyDec, bool) {
	if stats.HasBestBid && stats.HasBestAsk {
		return stats.BestBid.Add(stats.BestAsk).QuoInt64(2), true
	}
	if stats.HasClearingPrice {
		return stats.LastClearingPrice, true
	}
	return math.LegacyDec{}, false
}

// bookMidpoint returns the same midpoint and fallback as
// aggressiveMidpoint; it does not read the resting books. It is kept
// distinct since the two strategies may diverge (e.g. weighting)
// without entangling call sites.
func bookMidpoint(stats history.LikelihoodStats) (math.LegacyDec, bool) {
	return aggressiveMidpoint(stats)
}
