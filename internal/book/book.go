// Package book implements the sorted, price-time-priority order book used
// by both sides (bid/ask) of the exchange. Resting orders are indexed by
// price in a google/btree tree (grounded on the teacher's B-tree order
// book variant) and kept FIFO within a price level.
package book

import (
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/google/btree"
	"github.com/openalpha/mktsim/internal/order"
)

const treeDegree = 32

// priceLevel holds every resting order at one price, in arrival order.
type priceLevel struct {
	price  math.LegacyDec
	orders []*order.Order
}

func (pl *priceLevel) isEmpty() bool { return len(pl.orders) == 0 }

// levelItem adapts priceLevel to btree.Item; ascending by price regardless
// of side; the side decides whether callers Ascend or Descend.
type levelItem struct {
	price math.LegacyDec
	level *priceLevel
}

func (a *levelItem) Less(b btree.Item) bool {
	return a.price.LT(b.(*levelItem).price)
}

// Book is one side (bid or ask) of a market's order book. The bid book is
// read in descending price order, the ask book ascending; FIFO order
// within a price level implements time priority.
type Book struct {
	Side order.TradeType

	mu       sync.RWMutex
	tree     *btree.BTree
	byOrder  map[uint64]math.LegacyDec // order id -> price, for O(1) level lookup on cancel/find
}

// New creates an empty book for the given side.
func New(side order.TradeType) *Book {
	return &Book{
		Side:    side,
		tree:    btree.New(treeDegree),
		byOrder: make(map[uint64]math.LegacyDec),
	}
}

func (b *Book) getLevel(price math.LegacyDec) *priceLevel {
	item := b.tree.Get(&levelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

func (b *Book) getOrCreateLevel(price math.LegacyDec) *priceLevel {
	if lvl := b.getLevel(price); lvl != nil {
		return lvl
	}
	lvl := &priceLevel{price: price, orders: make([]*order.Order, 0, 1)}
	b.tree.ReplaceOrInsert(&levelItem{price: price, level: lvl})
	return lvl
}

// Insert places o at its FIFO position within its price level. Infallible.
func (b *Book) Insert(o *order.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lvl := b.getOrCreateLevel(priceKey(o))
	lvl.orders = append(lvl.orders, o)
	b.byOrder[o.OrderID] = priceKey(o)
}

// priceKey returns the price a resting order is filed under: its flat
// price for LimitOrder, or its low/high midpoint is NOT used here — flow
// orders are never rested by price in the KLF book since KLF does not
// maintain a live cross order book between blocks; Insert is only called
// for limit orders under CDA/FBA. See mempoolprocessor for the KLF path.
func priceKey(o *order.Order) math.LegacyDec {
	return o.Price
}

// Cancel removes the order by id, reporting "not found" when absent.
func (b *Book) Cancel(orderID uint64) (*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelLocked(orderID)
}

func (b *Book) cancelLocked(orderID uint64) (*order.Order, error) {
	price, ok := b.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("book: order %d not found", orderID)
	}
	lvl := b.getLevel(price)
	if lvl == nil {
		delete(b.byOrder, orderID)
		return nil, fmt.Errorf("book: order %d not found", orderID)
	}
	var removed *order.Order
	for i, o := range lvl.orders {
		if o.OrderID == orderID {
			removed = o
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	delete(b.byOrder, orderID)
	if lvl.isEmpty() {
		b.tree.Delete(&levelItem{price: price})
	}
	if removed == nil {
		return nil, fmt.Errorf("book: order %d not found", orderID)
	}
	return removed, nil
}

// Update is cancel-then-insert: a price change forfeits time priority.
func (b *Book) Update(o *order.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.cancelLocked(o.OrderID)
	lvl := b.getOrCreateLevel(priceKey(o))
	lvl.orders = append(lvl.orders, o)
	b.byOrder[o.OrderID] = priceKey(o)
	return nil
}

// Find returns the resting order with the given id, if any.
func (b *Book) Find(orderID uint64) (*order.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.byOrder[orderID]
	if !ok {
		return nil, false
	}
	lvl := b.getLevel(price)
	if lvl == nil {
		return nil, false
	}
	for _, o := range lvl.orders {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return nil, false
}

// RemoveIfFilled drops o from its level once its quantity has reached
// zero, leaving the level (and tree entry) alone otherwise.
func (b *Book) RemoveIfFilled(o *order.Order) {
	if o.Quantity.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.cancelLocked(o.OrderID)
}

// BestPrice peeks the front of the book: highest bid / lowest ask.
func (b *Book) BestPrice() (math.LegacyDec, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var item btree.Item
	if b.Side == order.Bid {
		item = b.tree.Max()
	} else {
		item = b.tree.Min()
	}
	if item == nil {
		return math.LegacyDec{}, false
	}
	return item.(*levelItem).price, true
}

// Walk visits every resting order in price-time priority order (best
// price first), stopping early if fn returns false.
func (b *Book) Walk(fn func(o *order.Order) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	visit := func(item btree.Item) bool {
		for _, o := range item.(*levelItem).level.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	}
	if b.Side == order.Bid {
		b.tree.Descend(visit)
	} else {
		b.tree.Ascend(visit)
	}
}

// BestPriceMinusTailVol walks the book accumulating volume until the
// remaining unmatched size (vol) is exhausted, returning the price at
// which that volume would be consumed.
func (b *Book) BestPriceMinusTailVol(vol math.LegacyDec) (math.LegacyDec, bool) {
	var (
		remaining = vol
		last      math.LegacyDec
		found     bool
	)
	b.Walk(func(o *order.Order) bool {
		last = o.Price
		found = true
		remaining = remaining.Sub(o.Quantity)
		return remaining.IsPositive()
	})
	return last, found
}

// Cross visits resting orders best-price-first, stopping the moment
// priceOK reports the level no longer crosses. For each visited order it
// calls match, which returns the volume to remove from that order (0 if
// the order is skipped) and whether crossing should stop entirely after
// this order. Cross owns the mutation: it decrements the resting order's
// quantity in place and removes it from the book once exhausted. This is
// the shared primitive behind the CDA cross (see package auction); it
// takes the book's write lock for the whole scan so concurrent inserts
// never interleave with an in-flight match.
func (b *Book) Cross(priceOK func(math.LegacyDec) bool, match func(resting *order.Order) (vol math.LegacyDec, stop bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		emptied []math.LegacyDec
		stopped bool
	)
	visit := func(item btree.Item) bool {
		lvl := item.(*levelItem).level
		if !priceOK(lvl.price) {
			return false
		}
		i := 0
		for i < len(lvl.orders) {
			o := lvl.orders[i]
			vol, stop := match(o)
			if vol.IsPositive() {
				o.Quantity = o.Quantity.Sub(vol)
				if !o.Quantity.IsPositive() {
					delete(b.byOrder, o.OrderID)
					lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
					if stop {
						stopped = true
						break
					}
					continue
				}
			}
			if stop {
				stopped = true
				break
			}
			i++
		}
		if lvl.isEmpty() {
			emptied = append(emptied, lvl.price)
		}
		return !stopped
	}
	if b.Side == order.Bid {
		b.tree.Descend(visit)
	} else {
		b.tree.Ascend(visit)
	}
	for _, p := range emptied {
		b.tree.Delete(&levelItem{price: p})
	}
}

// Snapshot deep-copies every resting order for analytics without blocking
// the writer beyond the duration of the copy.
func (b *Book) Snapshot() []*order.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*order.Order, 0, len(b.byOrder))
	walk := func(item btree.Item) bool {
		for _, o := range item.(*levelItem).level.orders {
			cp := o.Clone()
			out = append(out, cp)
		}
		return true
	}
	if b.Side == order.Bid {
		b.tree.Descend(walk)
	} else {
		b.tree.Ascend(walk)
	}
	return out
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byOrder)
}
