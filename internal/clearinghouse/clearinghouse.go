// Package clearinghouse implements the authoritative player ledger:
// balance, inventory, and owned orders, keyed by trader id. Settlement
// routines are grounded line-for-line on the original implementation's
// clearing_house.rs (cda_cross_update, fba_batch_update,
// flow_batch_update, update_player, apply_gas_fees, tax_makers,
// liquidate).
package clearinghouse

import (
	"fmt"
	"sync"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/history"
	"github.com/openalpha/mktsim/internal/order"
	"github.com/openalpha/mktsim/internal/player"
)

// AuditSink receives a CSV-formatted player-state row on every ledger
// mutation, alongside the structured logger output. Satisfied by
// *internal/simlog.Sink; declared narrowly here (rather than importing
// simlog) so clearinghouse stays a leaf package relative to it.
type AuditSink interface {
	WriteRow(string) error
}

// ClearingHouse is the single shared mutable ledger of the simulation:
// a map from trader_id to Player, plus three aggregate counters. A
// single mutex protects the player map; gasFees and makerProfits carry
// their own locks so the lock-ordering rule (never hold two at once)
// holds even under concurrent settlement and reporting.
type ClearingHouse struct {
	logger    log.Logger
	auditSink AuditSink

	mu      sync.Mutex
	players map[string]player.Player

	gasMu    sync.Mutex
	gasFees  []math.LegacyDec

	taxMu    sync.Mutex
	totalTax math.LegacyDec

	profitMu     sync.Mutex
	makerProfits [3]math.LegacyDec // indexed by player.MakerT
}

// New creates an empty ClearingHouse.
func New(logger log.Logger) *ClearingHouse {
	return &ClearingHouse{
		logger:       logger,
		players:      make(map[string]player.Player),
		gasFees:      make([]math.LegacyDec, 0),
		totalTax:     math.LegacyZeroDec(),
		makerProfits: [3]math.LegacyDec{math.LegacyZeroDec(), math.LegacyZeroDec(), math.LegacyZeroDec()},
	}
}

// SetAuditSink attaches a CSV audit sink. Optional; nil (the default)
// disables the extra audit-file write and leaves logger output as the
// only record of ledger mutations.
func (ch *ClearingHouse) SetAuditSink(sink AuditSink) {
	ch.auditSink = sink
}

func (ch *ClearingHouse) audit(row string) {
	ch.logger.Info(row)
	if ch.auditSink != nil {
		if err := ch.auditSink.WriteRow(row); err != nil {
			ch.logger.Warn("clearinghouse: audit sink write failed", "err", err)
		}
	}
}

// Register inserts p under its trader id, idempotently: a pre-existing
// id is preserved, never overwritten.
func (ch *ClearingHouse) Register(p player.Player) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, exists := ch.players[p.GetID()]; !exists {
		ch.players[p.GetID()] = p
	}
}

// RegisterAll registers every player in ps.
func (ch *ClearingHouse) RegisterAll(ps []player.Player) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, p := range ps {
		if _, exists := ch.players[p.GetID()]; !exists {
			ch.players[p.GetID()] = p
		}
	}
}

// get looks up a player without removing it from the map.
func (ch *ClearingHouse) get(id string) (player.Player, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	p, ok := ch.players[id]
	return p, ok
}

// Get exposes a single player lookup for callers (e.g. the simulation
// driver) that need the concrete Player to dispatch on its variant.
func (ch *ClearingHouse) Get(id string) (player.Player, bool) {
	return ch.get(id)
}

// NumPlayers reports how many traders are registered.
func (ch *ClearingHouse) NumPlayers() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.players)
}

// OrdersInHouse sums every player's live order count.
func (ch *ClearingHouse) OrdersInHouse() int {
	ch.mu.Lock()
	ps := make([]player.Player, 0, len(ch.players))
	for _, p := range ch.players {
		ps = append(ps, p)
	}
	ch.mu.Unlock()
	sum := 0
	for _, p := range ps {
		sum += p.NumOrders()
	}
	return sum
}

// NewOrder appends order o to its trader's order list.
func (ch *ClearingHouse) NewOrder(o *order.Order) error {
	p, ok := ch.get(o.TraderID)
	if !ok {
		return fmt.Errorf("clearinghouse: unknown trader %q, couldn't add order", o.TraderID)
	}
	p.AddOrder(o)
	return nil
}

// NewOrders appends every order in os to its trader's order list,
// failing fast on the first unknown trader (preferable to NewOrder in
// a loop since most callers add several orders per tick).
func (ch *ClearingHouse) NewOrders(os []*order.Order) error {
	for _, o := range os {
		if err := ch.NewOrder(o); err != nil {
			return err
		}
	}
	return nil
}

// GetType reports which TraderT the given trader id belongs to.
func (ch *ClearingHouse) GetType(id string) (player.TraderT, error) {
	p, ok := ch.get(id)
	if !ok {
		return 0, fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	return p.GetPlayerType(), nil
}

// GetBalInv reports a player's current balance and inventory.
func (ch *ClearingHouse) GetBalInv(id string) (math.LegacyDec, math.LegacyDec, error) {
	p, ok := ch.get(id)
	if !ok {
		return math.LegacyDec{}, math.LegacyDec{}, fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	return p.GetBal(), p.GetInv(), nil
}

// GetPlayerOrderCount reports how many live orders a player owns.
func (ch *ClearingHouse) GetPlayerOrderCount(id string) (int, error) {
	p, ok := ch.get(id)
	if !ok {
		return 0, fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	return p.NumOrders(), nil
}

// GetFilteredIDs returns every registered trader id of the given type,
// in map-iteration order (the caller shuffles if it needs randomness).
func (ch *ClearingHouse) GetFilteredIDs(traderT player.TraderT) []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var ids []string
	for id, p := range ch.players {
		if p.GetPlayerType() == traderT {
			ids = append(ids, id)
		}
	}
	return ids
}

// UpdatePlayerBal adds toAdd to a player's balance and returns its new value.
func (ch *ClearingHouse) UpdatePlayerBal(id string, toAdd math.LegacyDec) (math.LegacyDec, error) {
	p, ok := ch.get(id)
	if !ok {
		return math.LegacyDec{}, fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	p.UpdateBal(toAdd)
	return p.GetBal(), nil
}

// UpdatePlayerInv adds toAdd to a player's inventory and returns its new value.
func (ch *ClearingHouse) UpdatePlayerInv(id string, toAdd math.LegacyDec) (math.LegacyDec, error) {
	p, ok := ch.get(id)
	if !ok {
		return math.LegacyDec{}, fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	p.UpdateInv(toAdd)
	return p.GetInv(), nil
}

// UpdatePlayer atomically updates both balance and inventory, logs a
// CSV audit row, and (for Makers) accumulates the balance delta into
// the maker-type profit array. Returns an error if id is unknown.
func (ch *ClearingHouse) UpdatePlayer(id string, dBal, dInv math.LegacyDec, reason history.UpdateReason, makerTypeOf func(player.Player) (int, bool)) error {
	p, ok := ch.get(id)
	if !ok {
		return fmt.Errorf("clearinghouse: unknown player %q", id)
	}
	p.UpdateInv(dInv)
	p.UpdateBal(dBal)
	ch.audit(p.LogToCSV(reason))

	if makerTypeOf != nil {
		if idx, isMaker := makerTypeOf(p); isMaker {
			ch.profitMu.Lock()
			ch.makerProfits[idx] = ch.makerProfits[idx].Add(dBal)
			ch.profitMu.Unlock()
		}
	}
	return nil
}

// CancelPlayerOrder removes an order from a player's record.
func (ch *ClearingHouse) CancelPlayerOrder(traderID string, orderID uint64) error {
	p, ok := ch.get(traderID)
	if !ok {
		return fmt.Errorf("clearinghouse: unknown player %q", traderID)
	}
	_, err := p.CancelOrder(orderID)
	return err
}

// UpdatePlayerOrderVol adds volToAdd to a resting order's remaining
// quantity, dropping the order once it reaches zero.
func (ch *ClearingHouse) UpdatePlayerOrderVol(traderID string, orderID uint64, volToAdd math.LegacyDec) error {
	p, ok := ch.get(traderID)
	if !ok {
		return fmt.Errorf("clearinghouse: unknown player %q", traderID)
	}
	return p.UpdateOrderVol(orderID, volToAdd)
}

// ReportPlayer logs a player's full state, used immediately before a
// fatal ledger-inconsistency abort.
func (ch *ClearingHouse) ReportPlayer(id string) {
	p, ok := ch.get(id)
	if !ok {
		ch.logger.Error("clearinghouse: couldn't report on unknown player", "trader_id", id)
		return
	}
	ch.logger.Error("clearinghouse: player report", "trader_id", p.GetID(), "balance", p.GetBal(), "inventory", p.GetInv(), "orders", p.CopyOrders())
}

// UpdateHouse dispatches a settlement to the routine matching its
// market type.
func (ch *ClearingHouse) UpdateHouse(result *auction.TradeResult, makerTypeOf func(player.Player) (int, bool)) {
	switch result.MarketType {
	case auction.CDA:
		ch.cdaCrossUpdate(result, makerTypeOf)
	case auction.FBA:
		ch.fbaBatchUpdate(result, makerTypeOf)
	case auction.KLF:
		ch.flowBatchUpdate(result, makerTypeOf)
	}
}

// cdaCrossUpdate and fbaBatchUpdate share identical settlement logic —
// the difference between the two markets is entirely in how the
// PlayerUpdates were produced, not in how they're applied — but are
// kept as separate methods to mirror the original implementation's
// explicit per-market dispatch and to leave room for the two to
// diverge (e.g. fee schedules) without entangling their call sites.
func (ch *ClearingHouse) cdaCrossUpdate(result *auction.TradeResult, makerTypeOf func(player.Player) (int, bool)) {
	ch.applyPairFills(result.Updates, makerTypeOf)
}

func (ch *ClearingHouse) fbaBatchUpdate(result *auction.TradeResult, makerTypeOf func(player.Player) (int, bool)) {
	ch.applyPairFills(result.Updates, makerTypeOf)
}

func (ch *ClearingHouse) applyPairFills(updates []auction.PlayerUpdate, makerTypeOf func(player.Player) (int, bool)) {
	for _, pu := range updates {
		if pu.Cancel {
			traderID, orderID := pu.CancelTarget()
			if err := ch.CancelPlayerOrder(traderID, orderID); err != nil {
				ch.logger.Warn("clearinghouse: cancel-propagation failed", "trader_id", traderID, "order_id", orderID, "err", err)
			}
			continue
		}
		if pu.Volume.IsZero() {
			continue
		}
		payment := pu.Price.Mul(pu.Volume)

		if err := ch.UpdatePlayer(pu.PayerID, payment.Neg(), pu.Volume, history.Transact, makerTypeOf); err != nil {
			ch.ReportPlayer(pu.PayerID)
			panic(fmt.Sprintf("clearinghouse: failed to update bidder %q balance/inventory: %v", pu.PayerID, err))
		}
		if err := ch.UpdatePlayerOrderVol(pu.PayerID, pu.PayerOrderID, pu.Volume.Neg()); err != nil {
			ch.logger.Warn("clearinghouse: bidder order-volume update failed", "trader_id", pu.PayerID, "order_id", pu.PayerOrderID, "err", err)
		}

		if err := ch.UpdatePlayer(pu.VolFillerID, payment, pu.Volume.Neg(), history.Transact, makerTypeOf); err != nil {
			ch.ReportPlayer(pu.VolFillerID)
			panic(fmt.Sprintf("clearinghouse: failed to update asker %q balance/inventory: %v", pu.VolFillerID, err))
		}
		if err := ch.UpdatePlayerOrderVol(pu.VolFillerID, pu.VolFillerOrderID, pu.Volume.Neg()); err != nil {
			ch.logger.Warn("clearinghouse: asker order-volume update failed", "trader_id", pu.VolFillerID, "order_id", pu.VolFillerOrderID, "err", err)
		}
	}
}

// flowBatchUpdate applies a KLF settlement, where each PlayerUpdate
// carries an explicit Kind (BidFill/AskFill) discriminant in place of
// the original implementation's "payer_id == \"N/A\"" sentinel.
func (ch *ClearingHouse) flowBatchUpdate(result *auction.TradeResult, makerTypeOf func(player.Player) (int, bool)) {
	if result.UniformPrice == nil {
		return
	}
	for _, pu := range result.Updates {
		if pu.Cancel {
			traderID, orderID := pu.CancelTarget()
			if err := ch.CancelPlayerOrder(traderID, orderID); err != nil {
				ch.logger.Warn("clearinghouse: cancel-propagation failed", "trader_id", traderID, "order_id", orderID, "err", err)
			}
			continue
		}
		payment := pu.Price.Mul(pu.Volume)

		switch pu.Kind {
		case auction.AskFill:
			if err := ch.UpdatePlayer(pu.VolFillerID, payment, pu.Volume.Neg(), history.Transact, makerTypeOf); err != nil {
				ch.ReportPlayer(pu.VolFillerID)
				panic(fmt.Sprintf("clearinghouse: failed to update asker %q balance/inventory: %v", pu.VolFillerID, err))
			}
			if err := ch.UpdatePlayerOrderVol(pu.VolFillerID, pu.VolFillerOrderID, pu.Volume.Neg()); err != nil {
				ch.logger.Warn("clearinghouse: asker order-volume update failed", "trader_id", pu.VolFillerID, "order_id", pu.VolFillerOrderID, "err", err)
			}
		default: // BidFill, PairFill
			if err := ch.UpdatePlayer(pu.PayerID, payment.Neg(), pu.Volume, history.Transact, makerTypeOf); err != nil {
				ch.ReportPlayer(pu.PayerID)
				panic(fmt.Sprintf("clearinghouse: failed to update bidder %q balance/inventory: %v", pu.PayerID, err))
			}
			if err := ch.UpdatePlayerOrderVol(pu.PayerID, pu.PayerOrderID, pu.Volume.Neg()); err != nil {
				ch.logger.Warn("clearinghouse: bidder order-volume update failed", "trader_id", pu.PayerID, "order_id", pu.PayerOrderID, "err", err)
			}
		}
	}
}

// ApplyGasFees records the block's total gas and subtracts each
// order's gas from its submitter's balance. toChange is a list of
// (trader_id, gas) pairs; the miner's own net credit is expected to
// already be included by the caller (collect_gas appends it).
func (ch *ClearingHouse) ApplyGasFees(toChange []GasChange, total math.LegacyDec) {
	ch.gasMu.Lock()
	ch.gasFees = append(ch.gasFees, total)
	ch.gasMu.Unlock()

	for _, c := range toChange {
		p, ok := ch.get(c.TraderID)
		if !ok {
			continue
		}
		p.UpdateBal(c.Amount.Neg())
		ch.audit(p.LogToCSV(history.Gas))
	}
}

// GasChange is one (trader_id, gas-to-subtract) pair from a miner's
// collected frame.
type GasChange struct {
	TraderID string
	Amount   math.LegacyDec
}

// GasFees returns a copy of the per-block gas totals recorded so far.
func (ch *ClearingHouse) GasFees() []math.LegacyDec {
	ch.gasMu.Lock()
	defer ch.gasMu.Unlock()
	out := make([]math.LegacyDec, len(ch.gasFees))
	copy(out, ch.gasFees)
	return out
}

// AddTax accumulates amt into the cumulative inventory-tax counter.
func (ch *ClearingHouse) AddTax(amt math.LegacyDec) {
	ch.taxMu.Lock()
	defer ch.taxMu.Unlock()
	ch.totalTax = ch.totalTax.Add(amt)
}

// TotalTax reports the cumulative inventory tax collected.
func (ch *ClearingHouse) TotalTax() math.LegacyDec {
	ch.taxMu.Lock()
	defer ch.taxMu.Unlock()
	return ch.totalTax
}

// TaxMakers multiplies every maker's current inventory magnitude by
// rate and subtracts that amount from its balance.
func (ch *ClearingHouse) TaxMakers(rate math.LegacyDec, makerTypeOf func(player.Player) (int, bool)) {
	ids := ch.GetFilteredIDs(player.TraderMaker)
	for _, id := range ids {
		p, ok := ch.get(id)
		if !ok {
			continue
		}
		taxAmt := p.GetInv().Mul(rate).Abs()
		p.UpdateBal(taxAmt.Neg())
		ch.AddTax(taxAmt)
		ch.audit(p.LogToCSV(history.Tax))
	}
}

// MakerProfits returns the cumulative profit of each maker sub-type,
// indexed by player.MakerT.
func (ch *ClearingHouse) MakerProfits() [3]math.LegacyDec {
	ch.profitMu.Lock()
	defer ch.profitMu.Unlock()
	return ch.makerProfits
}

// Liquidate marks every player's inventory to market at fundVal: each
// player's balance absorbs inventory*fundVal and inventory is zeroed.
// Called exactly once at shutdown.
func (ch *ClearingHouse) Liquidate(fundVal math.LegacyDec, makerTypeOf func(player.Player) (int, bool)) {
	ch.mu.Lock()
	players := make([]player.Player, 0, len(ch.players))
	for _, p := range ch.players {
		players = append(players, p)
	}
	ch.mu.Unlock()

	for _, p := range players {
		curInv := p.GetInv()
		updateAmount := curInv.Mul(fundVal)
		p.UpdateBal(updateAmount)
		p.UpdateInv(curInv.Neg())

		if makerTypeOf != nil {
			if idx, isMaker := makerTypeOf(p); isMaker {
				ch.profitMu.Lock()
				ch.makerProfits[idx] = ch.makerProfits[idx].Add(updateAmount)
				ch.profitMu.Unlock()
			}
		}
		ch.audit(p.LogToCSV(history.Liquify))
	}
}

// Players returns a snapshot of every registered player for report
// generation (e.g. calc_total_profit-style final-state comparisons).
func (ch *ClearingHouse) Players() map[string]player.Player {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(map[string]player.Player, len(ch.players))
	for k, v := range ch.players {
		out[k] = v
	}
	return out
}
