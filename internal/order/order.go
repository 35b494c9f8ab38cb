// Package order defines the value type traded across the mempool, the
// order books, and the clearing house.
package order

import (
	"sync/atomic"

	"cosmossdk.io/math"
)

// OrderType identifies how the matching pipeline should treat an order.
type OrderType int32

const (
	Enter OrderType = iota
	Update
	Cancel
)

func (t OrderType) String() string {
	switch t {
	case Enter:
		return "Enter"
	case Update:
		return "Update"
	case Cancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// TradeType decides which side of the book an order rests on.
type TradeType int32

const (
	Bid TradeType = iota
	Ask
)

func (t TradeType) String() string {
	if t == Bid {
		return "Bid"
	}
	return "Ask"
}

// Opposite returns the other side of the book.
func (t TradeType) Opposite() TradeType {
	if t == Bid {
		return Ask
	}
	return Bid
}

// ExchangeType identifies which auction mechanism an order is compatible with.
type ExchangeType int32

const (
	LimitOrder ExchangeType = iota
	FlowOrder
)

func (t ExchangeType) String() string {
	if t == LimitOrder {
		return "LimitOrder"
	}
	return "FlowOrder"
}

var orderIDSeq uint64

// NextOrderID returns a process-wide monotonically increasing order id.
// Matches the Rust original's gen_order_id: a single counter shared by
// every trader so Update/Cancel orders can reference the original id
// unambiguously.
func NextOrderID() uint64 {
	return atomic.AddUint64(&orderIDSeq, 1)
}

// Order is the immutable-after-submission record carried through the
// mempool, the books, and the clearing house. Quantity is the one field
// the matcher mutates in place as fills occur.
type Order struct {
	TraderID  string
	OrderID   uint64
	OrderType OrderType
	TradeType TradeType
	ExType    ExchangeType
	PLow      math.LegacyDec // FlowOrder only
	PHigh     math.LegacyDec // FlowOrder only
	Price     math.LegacyDec // LimitOrder only
	Quantity  math.LegacyDec // remaining size, mutable by the matcher
	Gas       math.LegacyDec
}

// NewLimitOrder builds an Enter/LimitOrder order at a single price.
func NewLimitOrder(traderID string, tt TradeType, price, qty, gas math.LegacyDec) *Order {
	return &Order{
		TraderID:  traderID,
		OrderID:   NextOrderID(),
		OrderType: Enter,
		TradeType: tt,
		ExType:    LimitOrder,
		PLow:      math.LegacyZeroDec(),
		PHigh:     math.LegacyZeroDec(),
		Price:     price,
		Quantity:  qty,
		Gas:       gas,
	}
}

// NewFlowOrder builds an Enter/FlowOrder order over a half-open demand
// or supply schedule [pLow, pHigh).
func NewFlowOrder(traderID string, tt TradeType, pLow, pHigh, qty, gas math.LegacyDec) *Order {
	return &Order{
		TraderID:  traderID,
		OrderID:   NextOrderID(),
		OrderType: Enter,
		TradeType: tt,
		ExType:    FlowOrder,
		PLow:      pLow,
		PHigh:     pHigh,
		Price:     math.LegacyZeroDec(),
		Quantity:  qty,
		Gas:       gas,
	}
}

// Clone makes a value copy suitable for handing to another owner (e.g. the
// miner front-running a pending order under its own identity).
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// AsCancel returns a copy of o re-tagged as a Cancel order referencing the
// same OrderID, used to propagate a cancellation into the mempool.
func (o *Order) AsCancel() *Order {
	cp := o.Clone()
	cp.OrderType = Cancel
	return cp
}

// IsValid checks the invariants from the data model: LimitOrder carries a
// flat price and a degenerate [0,0) schedule; FlowOrder carries a real
// schedule and no flat price.
func (o *Order) IsValid() bool {
	if o.Quantity.IsNegative() {
		return false
	}
	switch o.ExType {
	case LimitOrder:
		return o.PLow.IsZero() && o.PHigh.IsZero() && o.Price.IsPositive()
	case FlowOrder:
		return o.PLow.LT(o.PHigh) && o.Price.IsZero()
	default:
		return false
	}
}
