// Package simlog implements the simulation's three append-only output
// sinks: the player-state audit log, the per-block order-book
// snapshot, and the final summary row. Grounded on simulation.rs's
// log_player_data!/log_order_book!/log_results! macros, which append
// pre-formatted CSV text to a file path read from the run's
// configuration. Like internal/config, this stays on the standard
// library (os/bufio) rather than encoding/csv proper, since callers
// already hand these sinks fully-rendered rows (player.LogToCSV,
// sim.Report.CSV) rather than structured records to encode.
package simlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/order"
)

// Sink is a single append-only, newline-terminated text file, safe for
// concurrent writers (the player audit log is written from both the
// miner loop's settlement path and the clearing house's gas/tax/
// liquidation paths).
type Sink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open creates (or truncates) the file at path for append-only writes.
func Open(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("simlog: opening %q: %w", path, err)
	}
	return &Sink{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteRow appends row plus a trailing newline, flushing immediately
// so a crash mid-run loses at most the in-flight write.
func (s *Sink) WriteRow(row string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(row); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// PlayerAuditHeader is the header row for the player-state audit log,
// matching basePlayer.logToCSV's field order.
const PlayerAuditHeader = "time,reason,trader_id,trader_type,balance,inventory,"

// BookSnapshotHeader is the header row for the per-block order-book
// snapshot log.
const BookSnapshotHeader = "time,block_num,clearing_price,bids_book,asks_book,"

// SummaryHeader is the header row for the final summary log.
const SummaryHeader = "fund_val,total_gas,avg_gas,total_tax,maker_profit,investor_profit,miner_profit,dead_weight,volatility,rmsd,"

// FormatBookSnapshot renders one per-block book-state row: timestamp,
// block number, the clearing price that triggered this snapshot (if
// any), and a flattened view of each side's resting orders. Grounded
// on miner_task's log_order_book! call site in simulation.rs.
func FormatBookSnapshot(timestamp, blockNum string, clearingPrice *math.LegacyDec, bids, asks []*order.Order) string {
	price := "None"
	if clearingPrice != nil {
		price = clearingPrice.String()
	}
	return fmt.Sprintf("%s,%s,%s,%s,%s,", timestamp, blockNum, price, formatOrders(bids), formatOrders(asks))
}

func formatOrders(orders []*order.Order) string {
	out := "["
	for i, o := range orders {
		if i > 0 {
			out += ";"
		}
		out += fmt.Sprintf("%s:%s@%s", o.TraderID, o.Quantity, o.Price)
	}
	return out + "]"
}
