package player

import "github.com/openalpha/mktsim/internal/history"

// Investor is stateless beyond balance/inventory/orders: it
// participates only by having orders generated for it by the
// simulation's investor loop.
type Investor struct {
	basePlayer
}

// NewInvestor creates an Investor with zero balance and inventory.
func NewInvestor(traderID string) *Investor {
	return &Investor{basePlayer: newBasePlayer(traderID, TraderInvestor)}
}

func (i *Investor) LogToCSV(reason history.UpdateReason) string {
	return i.logToCSV(reason)
}
