// Package mempool implements the unordered staging area of orders waiting
// for miner inclusion. Grounded on offchain/matcher/cache.go's
// TradeBuffer/OrderCache pattern: a mutex-guarded slice with Add/Flush/Len.
package mempool

import (
	"sort"
	"sync"

	"github.com/openalpha/mktsim/internal/order"
)

// MemPool is the thread-safe staging area orders sit in between
// submission and block inclusion. It never rejects an order; malformed
// orders are the submitter's problem.
type MemPool struct {
	mu     sync.Mutex
	orders []*order.Order
}

// New creates an empty mempool.
func New() *MemPool {
	return &MemPool{orders: make([]*order.Order, 0)}
}

// Push adds o to the pool. O(1).
func (p *MemPool) Push(o *order.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, o)
}

// Length returns the number of pending orders.
func (p *MemPool) Length() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// SortByGas reorders the pool in descending gas order, ties broken by
// submission (insertion) order — Go's sort.SliceStable preserves that.
func (p *MemPool) SortByGas() {
	p.mu.Lock()
	defer p.mu.Unlock()
	sort.SliceStable(p.orders, func(i, j int) bool {
		return p.orders[i].Gas.GT(p.orders[j].Gas)
	})
}

// PopN removes and returns the first n orders (call SortByGas first to get
// gas priority ordering). If n >= length, behaves like PopAll.
func (p *MemPool) PopN(n int) []*order.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n >= len(p.orders) {
		out := p.orders
		p.orders = make([]*order.Order, 0)
		return out
	}
	out := p.orders[:n]
	p.orders = append([]*order.Order(nil), p.orders[n:]...)
	return out
}

// PopAll empties the pool and returns everything it held.
func (p *MemPool) PopAll() []*order.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.orders
	p.orders = make([]*order.Order, 0)
	return out
}

// Snapshot returns a shallow copy of the pending orders without draining
// the pool, for use by maker inference/decision data.
func (p *MemPool) Snapshot() []*order.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*order.Order, len(p.orders))
	copy(out, p.orders)
	return out
}
