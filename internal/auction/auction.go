// Package auction implements the three settlement algorithms the
// simulator can run a market under: continuous double auction (CDA),
// frequent batch auction (FBA), and the Kyle-Lee-Flow (KLF) piecewise
// linear flow clear. All three are pure functions over the resting
// order books (plus, for CDA, the single incoming order); none of them
// touch the clearing house directly.
package auction

import (
	"sort"

	"cosmossdk.io/math"
	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/order"
)

// MarketType selects which of the three algorithms governs a market.
type MarketType int32

const (
	CDA MarketType = iota
	FBA
	KLF
)

func (m MarketType) String() string {
	switch m {
	case CDA:
		return "CDA"
	case FBA:
		return "FBA"
	case KLF:
		return "KLF"
	default:
		return "Unknown"
	}
}

// Kind discriminates what a PlayerUpdate represents. PairFill carries a
// genuine bid/ask counterparty pair (CDA, FBA). BidFill/AskFill carry a
// single side's fill against the KLF clearing price — this replaces the
// original implementation's "payer_id == \"N/A\"" sentinel with an
// explicit discriminant, per the redesign direction in the spec. An FBA
// Cancel update that refers to the asker side also carries AskFill.
type Kind int32

const (
	PairFill Kind = iota
	BidFill
	AskFill
)

// PlayerUpdate is one settlement instruction emitted by an auction run.
type PlayerUpdate struct {
	Kind Kind

	PayerID      string // bidder, populated for PairFill and BidFill
	PayerOrderID uint64

	VolFillerID      string // asker, populated for PairFill and AskFill
	VolFillerOrderID uint64

	Price  math.LegacyDec
	Volume math.LegacyDec

	// Cancel, when true, means the referenced order (bidder side for
	// PairFill/BidFill, asker side for AskFill) must be dropped from the
	// owning player's record; Price/Volume are meaningless in that case.
	Cancel bool
}

// CancelTarget returns which trader/order a Cancel update refers to.
func (pu PlayerUpdate) CancelTarget() (traderID string, orderID uint64) {
	if pu.Kind == AskFill {
		return pu.VolFillerID, pu.VolFillerOrderID
	}
	return pu.PayerID, pu.PayerOrderID
}

// TradeResult is the outcome of one auction run: zero or more
// PlayerUpdates, and (for FBA/KLF) the single uniform clearing price.
type TradeResult struct {
	MarketType   MarketType
	UniformPrice *math.LegacyDec // nil for CDA
	Updates      []PlayerUpdate
}

// CrossCDA matches an incoming Enter order against the opposite side's
// book while prices cross and the incoming order still has quantity.
// Trade price is always the resting order's price (maker-price rule);
// trade volume is min(incoming, resting). Each fill is subtracted from
// incoming.Quantity, so any residual left after the book stops crossing
// stays on the incoming order for the caller to rest in the same-side
// book. Returns nil when no match occurred at all.
func CrossCDA(incoming *order.Order, opposite *book.Book) *TradeResult {
	if incoming.Quantity.IsZero() || incoming.Quantity.IsNegative() {
		return nil
	}

	var updates []PlayerUpdate
	priceOK := func(restingPrice math.LegacyDec) bool {
		if incoming.Quantity.IsZero() {
			return false
		}
		if incoming.TradeType == order.Bid {
			return incoming.Price.GTE(restingPrice)
		}
		return incoming.Price.LTE(restingPrice)
	}

	opposite.Cross(priceOK, func(resting *order.Order) (math.LegacyDec, bool) {
		if incoming.Quantity.IsZero() || incoming.Quantity.IsNegative() {
			return math.LegacyZeroDec(), true
		}
		vol := math.LegacyMinDec(incoming.Quantity, resting.Quantity)
		incoming.Quantity = incoming.Quantity.Sub(vol)

		pu := PlayerUpdate{Kind: PairFill, Price: resting.Price, Volume: vol}
		if incoming.TradeType == order.Bid {
			pu.PayerID, pu.PayerOrderID = incoming.TraderID, incoming.OrderID
			pu.VolFillerID, pu.VolFillerOrderID = resting.TraderID, resting.OrderID
		} else {
			pu.PayerID, pu.PayerOrderID = resting.TraderID, resting.OrderID
			pu.VolFillerID, pu.VolFillerOrderID = incoming.TraderID, incoming.OrderID
		}
		updates = append(updates, pu)

		return vol, incoming.Quantity.IsZero()
	})

	if len(updates) == 0 {
		return nil
	}
	return &TradeResult{MarketType: CDA, Updates: updates}
}

// RunFBA runs the frequent-batch-auction clear over the two resting
// limit-order books, or nil when no trade resulted.
func RunFBA(bids, asks *book.Book) *TradeResult {
	return runFBA(bids, asks)
}

// RunKLF runs the Kyle-Lee-Flow clear over the bid and ask flow orders
// pending this block. Flow orders are never rested in a price-keyed
// book between blocks (see book.Book's priceKey note) — the mempool
// processor accumulates them in plain slices and hands the whole batch
// to RunKLF fresh each round.
func RunKLF(bidFlows, askFlows []*order.Order) *TradeResult {
	return runKLF(bidFlows, askFlows)
}

// runFBA finds the uniform price that maximizes matched volume between
// the bid step-function (descending price) and the ask step-function
// (ascending price), and allocates the fills with allocatePairs in book
// priority order; orders at the marginal price level are not pro-rated.
func runFBA(bids, asks *book.Book) *TradeResult {
	bidOrders := bids.Snapshot() // already best-first (descending)
	askOrders := asks.Snapshot() // already best-first (ascending)
	if len(bidOrders) == 0 || len(askOrders) == 0 {
		return nil
	}

	// Candidate clearing prices: every distinct bid/ask price. The
	// clearing price maximizes matched volume; on ties we widen to the
	// full ambiguity interval and report its midpoint.
	prices := make(map[string]math.LegacyDec)
	for _, o := range bidOrders {
		prices[o.Price.String()] = o.Price
	}
	for _, o := range askOrders {
		prices[o.Price.String()] = o.Price
	}
	if len(prices) == 0 {
		return nil
	}
	candidates := make([]math.LegacyDec, 0, len(prices))
	for _, p := range prices {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].LT(candidates[j]) })

	demandAt := func(p math.LegacyDec) math.LegacyDec {
		total := math.LegacyZeroDec()
		for _, o := range bidOrders {
			if o.Price.GTE(p) {
				total = total.Add(o.Quantity)
			}
		}
		return total
	}
	matchedVolAt := func(p math.LegacyDec) math.LegacyDec {
		d := demandAt(p)
		s := math.LegacyZeroDec()
		for _, o := range askOrders {
			if o.Price.LTE(p) {
				s = s.Add(o.Quantity)
			}
		}
		return math.LegacyMinDec(d, s)
	}

	var (
		bestVol    = math.LegacyZeroDec()
		bestLow    math.LegacyDec
		bestHigh   math.LegacyDec
		foundAny   bool
	)
	for _, p := range candidates {
		v := matchedVolAt(p)
		if v.IsZero() {
			continue
		}
		switch {
		case !foundAny || v.GT(bestVol):
			bestVol = v
			bestLow, bestHigh = p, p
			foundAny = true
		case v.Equal(bestVol):
			if p.LT(bestLow) {
				bestLow = p
			}
			if p.GT(bestHigh) {
				bestHigh = p
			}
		}
	}
	if !foundAny || bestVol.IsZero() {
		return nil
	}
	clearingPrice := bestLow.Add(bestHigh).Quo(math.LegacyNewDec(2))

	updates := allocatePairs(bidOrders, askOrders, clearingPrice, bestVol)
	if len(updates) == 0 {
		return nil
	}
	return &TradeResult{MarketType: FBA, UniformPrice: &clearingPrice, Updates: updates}
}

// allocatePairs walks bids best-first and asks best-first, pairing fills
// up to totalVol at clearingPrice. Fills follow book priority: each
// order is filled in full before the next one on its side is touched,
// so only the last order reached on a side can be partly filled, and
// orders sharing the marginal price are not pro-rated. Orders filled
// to their full posted quantity are flagged Cancel (bidder side as
// PairFill, asker side as AskFill) so the clearing house drops them
// from the player record.
func allocatePairs(bidOrders, askOrders []*order.Order, clearingPrice, totalVol math.LegacyDec) []PlayerUpdate {
	eligibleBids := make([]*order.Order, 0, len(bidOrders))
	for _, o := range bidOrders {
		if o.Price.GTE(clearingPrice) {
			eligibleBids = append(eligibleBids, o)
		}
	}
	eligibleAsks := make([]*order.Order, 0, len(askOrders))
	for _, o := range askOrders {
		if o.Price.LTE(clearingPrice) {
			eligibleAsks = append(eligibleAsks, o)
		}
	}

	var updates []PlayerUpdate
	bi, ai := 0, 0
	bidRemaining := math.LegacyZeroDec()
	askRemaining := math.LegacyZeroDec()
	if len(eligibleBids) > 0 {
		bidRemaining = eligibleBids[0].Quantity
	}
	if len(eligibleAsks) > 0 {
		askRemaining = eligibleAsks[0].Quantity
	}
	remaining := totalVol

	for remaining.IsPositive() && bi < len(eligibleBids) && ai < len(eligibleAsks) {
		vol := math.LegacyMinDec(bidRemaining, askRemaining)
		vol = math.LegacyMinDec(vol, remaining)
		if !vol.IsPositive() {
			break
		}
		bidOrder := eligibleBids[bi]
		askOrder := eligibleAsks[ai]

		updates = append(updates, PlayerUpdate{
			Kind:             PairFill,
			PayerID:          bidOrder.TraderID,
			PayerOrderID:     bidOrder.OrderID,
			VolFillerID:      askOrder.TraderID,
			VolFillerOrderID: askOrder.OrderID,
			Price:            clearingPrice,
			Volume:           vol,
			Cancel:           false,
		})

		bidRemaining = bidRemaining.Sub(vol)
		askRemaining = askRemaining.Sub(vol)
		remaining = remaining.Sub(vol)

		if bidRemaining.IsZero() {
			updates = append(updates, PlayerUpdate{Kind: PairFill, PayerID: bidOrder.TraderID, PayerOrderID: bidOrder.OrderID, Cancel: true})
			bi++
			if bi < len(eligibleBids) {
				bidRemaining = eligibleBids[bi].Quantity
			}
		}
		if askRemaining.IsZero() {
			updates = append(updates, PlayerUpdate{Kind: AskFill, VolFillerID: askOrder.TraderID, VolFillerOrderID: askOrder.OrderID, Cancel: true})
			ai++
			if ai < len(eligibleAsks) {
				askRemaining = eligibleAsks[ai].Quantity
			}
		}
	}
	return updates
}

// klfTolerance bounds the bisection search for the KLF clearing price.
const klfBisectIterations = 64

var klfTolerance = math.LegacyNewDecWithPrec(1, 9) // 1e-9

// demandAt sums every bid flow order's contribution at price p: full
// quantity at or below PLow, linearly decaying to zero at PHigh.
func demandAt(bids []*order.Order, p math.LegacyDec) math.LegacyDec {
	total := math.LegacyZeroDec()
	for _, o := range bids {
		total = total.Add(demandContribOf(o, p))
	}
	return total
}

// supplyAt sums every ask flow order's contribution at price p: zero at
// or below PLow, linearly rising to full quantity at PHigh.
func supplyAt(asks []*order.Order, p math.LegacyDec) math.LegacyDec {
	total := math.LegacyZeroDec()
	for _, o := range asks {
		total = total.Add(supplyContribOf(o, p))
	}
	return total
}

// runKLF finds p* solving demand(p*) = supply(p*) via bracket-and-bisect
// over the union of all flow schedules' endpoints, then pro-rates each
// order's fill against its own schedule value at p*.
func runKLF(bidFlows, askFlows []*order.Order) *TradeResult {
	if len(bidFlows) == 0 || len(askFlows) == 0 {
		return nil
	}

	lo, hi, ok := klfBracket(bidFlows, askFlows)
	if !ok {
		return nil
	}

	excess := func(p math.LegacyDec) math.LegacyDec {
		return demandAt(bidFlows, p).Sub(supplyAt(askFlows, p))
	}

	// demand - supply is non-increasing in p; bisect for the root.
	loExcess := excess(lo)
	if loExcess.LTE(math.LegacyZeroDec()) {
		// Demand never exceeds supply even at the lowest price: no trade.
		return nil
	}
	hiExcess := excess(hi)
	if hiExcess.IsPositive() {
		// Supply never catches up even at the highest price: clear at hi.
		lo = hi
	} else {
		for i := 0; i < klfBisectIterations; i++ {
			mid := lo.Add(hi).Quo(math.LegacyNewDec(2))
			e := excess(mid)
			if e.Abs().LTE(klfTolerance) {
				lo, hi = mid, mid
				break
			}
			if e.IsPositive() {
				lo = mid
			} else {
				hi = mid
			}
		}
	}
	clearingPrice := lo.Add(hi).Quo(math.LegacyNewDec(2))

	d := demandAt(bidFlows, clearingPrice)
	s := supplyAt(askFlows, clearingPrice)
	matched := math.LegacyMinDec(d, s)
	if !matched.IsPositive() {
		return nil
	}

	var updates []PlayerUpdate
	if d.IsPositive() {
		scale := matched.Quo(d)
		for _, o := range bidFlows {
			contrib := demandContribOf(o, clearingPrice)
			if !contrib.IsPositive() {
				continue
			}
			updates = append(updates, PlayerUpdate{
				Kind:         BidFill,
				PayerID:      o.TraderID,
				PayerOrderID: o.OrderID,
				Price:        clearingPrice,
				Volume:       contrib.Mul(scale),
			})
		}
	}
	if s.IsPositive() {
		scale := matched.Quo(s)
		for _, o := range askFlows {
			contrib := supplyContribOf(o, clearingPrice)
			if !contrib.IsPositive() {
				continue
			}
			updates = append(updates, PlayerUpdate{
				Kind:             AskFill,
				VolFillerID:      o.TraderID,
				VolFillerOrderID: o.OrderID,
				Price:            clearingPrice,
				Volume:           contrib.Mul(scale),
			})
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return &TradeResult{MarketType: KLF, UniformPrice: &clearingPrice, Updates: updates}
}

func demandContribOf(o *order.Order, p math.LegacyDec) math.LegacyDec {
	switch {
	case p.LTE(o.PLow):
		return o.Quantity
	case p.GTE(o.PHigh):
		return math.LegacyZeroDec()
	default:
		frac := o.PHigh.Sub(p).Quo(o.PHigh.Sub(o.PLow))
		return o.Quantity.Mul(frac)
	}
}

func supplyContribOf(o *order.Order, p math.LegacyDec) math.LegacyDec {
	switch {
	case p.LTE(o.PLow):
		return math.LegacyZeroDec()
	case p.GTE(o.PHigh):
		return o.Quantity
	default:
		frac := p.Sub(o.PLow).Quo(o.PHigh.Sub(o.PLow))
		return o.Quantity.Mul(frac)
	}
}

// klfBracket returns the full price range spanned by every flow
// schedule's endpoints, which always contains the equilibrium price
// since demand and supply are both flat outside their own schedules.
func klfBracket(bidFlows, askFlows []*order.Order) (lo, hi math.LegacyDec, ok bool) {
	first := true
	consider := func(p math.LegacyDec) {
		if first {
			lo, hi = p, p
			first = false
			return
		}
		if p.LT(lo) {
			lo = p
		}
		if p.GT(hi) {
			hi = p
		}
	}
	for _, o := range bidFlows {
		consider(o.PLow)
		consider(o.PHigh)
	}
	for _, o := range askFlows {
		consider(o.PLow)
		consider(o.PHigh)
	}
	return lo, hi, !first
}
