// Package player implements the three strategic agent variants —
// Investor, Maker, Miner — sharing a common capability set behind the
// Player interface. Grounded on the teacher's tagged-variant pattern
// (an int-enum Side/Kind with String(), plus a discriminated interface)
// and on the original implementation's players/miner.rs for Miner's
// frame-handling behaviour.
package player

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/openalpha/mktsim/internal/history"
	"github.com/openalpha/mktsim/internal/order"
)

// TraderT tags which variant a Player record is, enabling dispatch
// without reflective downcasting.
type TraderT int32

const (
	TraderInvestor TraderT = iota
	TraderMaker
	TraderMiner
)

func (t TraderT) String() string {
	switch t {
	case TraderInvestor:
		return "Investor"
	case TraderMaker:
		return "Maker"
	case TraderMiner:
		return "Miner"
	default:
		return "Unknown"
	}
}

// Player is the capability set the ClearingHouse operates against,
// regardless of which concrete variant backs a trader_id.
type Player interface {
	GetID() string
	GetBal() math.LegacyDec
	GetInv() math.LegacyDec
	GetPlayerType() TraderT
	UpdateBal(toAdd math.LegacyDec)
	UpdateInv(toAdd math.LegacyDec)

	AddOrder(o *order.Order)
	NumOrders() int
	CancelOrder(orderID uint64) (*order.Order, error)
	UpdateOrderVol(orderID uint64, volToAdd math.LegacyDec) error
	CopyOrders() []*order.Order
	GetEnterOrderIDs() []uint64
	CheckDoubleCancel(orderID uint64) bool
	GenCancelOrder(orderID uint64) (*order.Order, error)

	LogToCSV(reason history.UpdateReason) string
}

// basePlayer holds the fields every variant shares; embedded, not used
// standalone.
type basePlayer struct {
	mu        sync.Mutex
	traderID  string
	orders    []*order.Order
	sent      map[uint64]order.OrderType // order ids already pushed to the mempool, to suppress double cancels
	balance   math.LegacyDec
	inventory math.LegacyDec
	traderT   TraderT
}

func newBasePlayer(traderID string, traderT TraderT) basePlayer {
	return basePlayer{
		traderID:  traderID,
		orders:    make([]*order.Order, 0),
		sent:      make(map[uint64]order.OrderType),
		balance:   math.LegacyZeroDec(),
		inventory: math.LegacyZeroDec(),
		traderT:   traderT,
	}
}

func (b *basePlayer) GetID() string             { return b.traderID }
func (b *basePlayer) GetPlayerType() TraderT     { return b.traderT }
func (b *basePlayer) GetBal() math.LegacyDec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}
func (b *basePlayer) GetInv() math.LegacyDec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inventory
}
func (b *basePlayer) UpdateBal(toAdd math.LegacyDec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = b.balance.Add(toAdd)
}
func (b *basePlayer) UpdateInv(toAdd math.LegacyDec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inventory = b.inventory.Add(toAdd)
}

func (b *basePlayer) AddOrder(o *order.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
}

func (b *basePlayer) NumOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// CancelOrder pops the order by id, retags it as Cancel, and returns it
// for propagation to the order book / mempool.
func (b *basePlayer) CancelOrder(orderID uint64) (*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.orders {
		if o.OrderID == orderID {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			cp := o.Clone()
			cp.OrderType = order.Cancel
			return cp, nil
		}
	}
	return nil, fmt.Errorf("player %s: order %d not found to cancel", b.traderID, orderID)
}

// UpdateOrderVol adjusts an owned order's remaining quantity; the order
// is dropped entirely once its quantity reaches zero or below.
func (b *basePlayer) UpdateOrderVol(orderID uint64, volToAdd math.LegacyDec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.orders {
		if o.OrderID == orderID {
			o.Quantity = o.Quantity.Add(volToAdd)
			if !o.Quantity.IsPositive() {
				b.orders = append(b.orders[:i], b.orders[i+1:]...)
			}
			return nil
		}
	}
	return fmt.Errorf("player %s: order %d not found to update", b.traderID, orderID)
}

func (b *basePlayer) CopyOrders() []*order.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*order.Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = o.Clone()
	}
	return out
}

// GetEnterOrderIDs lists the ids of every resting Enter order, used by
// cancel_all_orders-style shutdown/requote flows.
func (b *basePlayer) GetEnterOrderIDs() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint64, 0, len(b.orders))
	for _, o := range b.orders {
		if o.OrderType == order.Enter {
			ids = append(ids, o.OrderID)
		}
	}
	return ids
}

// CheckDoubleCancel reports whether a Cancel for orderID has already
// been sent, so the caller can skip re-sending it.
func (b *basePlayer) CheckDoubleCancel(orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	kind, ok := b.sent[orderID]
	return ok && kind == order.Cancel
}

// GenCancelOrder builds a Cancel order for orderID and records it as
// sent, without removing it from the player's own order list (the
// caller does that once the cancel is actually confirmed downstream).
func (b *basePlayer) GenCancelOrder(orderID uint64) (*order.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.OrderID == orderID {
			cp := o.Clone()
			cp.OrderType = order.Cancel
			b.sent[orderID] = order.Cancel
			return cp, nil
		}
	}
	return nil, fmt.Errorf("player %s: order %d not found to cancel", b.traderID, orderID)
}

// logToCSV renders the audit row shared by every variant: timestamp,
// reason, trader id, trader type, balance, inventory. Mirrors the
// original implementation's log_to_csv format string.
func (b *basePlayer) logToCSV(reason history.UpdateReason) string {
	b.mu.Lock()
	bal, inv := b.balance, b.inventory
	b.mu.Unlock()
	return fmt.Sprintf("%s,%s,%s,%s,%s,%s,",
		time.Now().UTC().Format(time.RFC3339Nano), reason, b.traderID, b.traderT, bal, inv)
}
