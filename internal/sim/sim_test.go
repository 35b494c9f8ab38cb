package sim

import (
	"testing"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/config"
	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/player"
)

func testDistRows() []dist.Distribution {
	return []dist.Distribution{
		{Reason: dist.InvestorBalance, Type: dist.Constant, V1: 10000, Scalar: 1},
		{Reason: dist.InvestorInventory, Type: dist.Constant, V1: 0, Scalar: 1},
		{Reason: dist.MakerBalance, Type: dist.Constant, V1: 10000, Scalar: 1},
		{Reason: dist.MakerInventory, Type: dist.Constant, V1: 0, Scalar: 1},
		{Reason: dist.BidsCenter, Type: dist.Constant, V1: 100, Scalar: 1},
		{Reason: dist.AsksCenter, Type: dist.Constant, V1: 100, Scalar: 1},
		{Reason: dist.InvestorVolume, Type: dist.Constant, V1: 5, Scalar: 1},
		{Reason: dist.InvestorGas, Type: dist.Constant, V1: 1, Scalar: 1},
		{Reason: dist.InvestorEnter, Type: dist.Constant, V1: 10, Scalar: 1},
		{Reason: dist.MinerFrameForm, Type: dist.Constant, V1: 10, Scalar: 1},
	}
}

func testConstants() config.Constants {
	return config.Constants{
		NumInvestors:     3,
		NumMakers:        2,
		NumBlocks:        10,
		BlockSize:        50,
		BatchIntervalMS:  10,
		MakerPropDelayMS: 0,
		MakerEnterProb:   0.5,
		MakerInvTax:      0.01,
		FrontRunPerc:     0,
		FlowOrderOffset:  1,
		MarketType:       auction.CDA,
	}
}

func newTestSimulation(t *testing.T) *Simulation {
	t.Helper()
	dists := dist.NewSet(1, testDistRows())
	s, err := New(log.NewNopLogger(), dists, testConstants())
	if err != nil {
		t.Fatalf("unexpected error building simulation: %v", err)
	}
	return s
}

func TestNewRegistersExpectedPlayerCounts(t *testing.T) {
	s := newTestSimulation(t)

	investors := s.House().GetFilteredIDs(player.TraderInvestor)
	makers := s.House().GetFilteredIDs(player.TraderMaker)
	miners := s.House().GetFilteredIDs(player.TraderMiner)

	if len(investors) != 3 {
		t.Errorf("expected 3 investors, got %d", len(investors))
	}
	if len(makers) != 2 {
		t.Errorf("expected 2 makers, got %d", len(makers))
	}
	if len(miners) != 1 {
		t.Errorf("expected exactly 1 miner, got %d", len(miners))
	}
}

func TestNewSeedsPlayerBalanceFromDistributions(t *testing.T) {
	s := newTestSimulation(t)
	investors := s.House().GetFilteredIDs(player.TraderInvestor)
	bal, _, err := s.House().GetBalInv(investors[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Equal(math.LegacyNewDec(10000)) {
		t.Errorf("expected investor balance 10000, got %s", bal)
	}
}

func TestMakerTypeOfDowncastsOnlyMakers(t *testing.T) {
	s := newTestSimulation(t)
	makers := s.House().GetFilteredIDs(player.TraderMaker)
	p, ok := s.House().Get(makers[0])
	if !ok {
		t.Fatal("expected to find the registered maker")
	}
	if _, isMaker := makerTypeOf(p); !isMaker {
		t.Error("expected makerTypeOf to recognize a *player.Maker")
	}

	investors := s.House().GetFilteredIDs(player.TraderInvestor)
	invPlayer, _ := s.House().Get(investors[0])
	if _, isMaker := makerTypeOf(invPlayer); isMaker {
		t.Error("expected makerTypeOf to reject a non-Maker player")
	}
}

func TestReportCSVFieldOrder(t *testing.T) {
	r := Report{
		FundVal:        math.LegacyNewDec(1),
		TotalGas:       math.LegacyNewDec(2),
		AvgGas:         math.LegacyNewDec(3),
		TotalTax:       math.LegacyNewDec(4),
		MakerProfit:    math.LegacyNewDec(5),
		InvestorProfit: math.LegacyNewDec(6),
		MinerProfit:    math.LegacyNewDec(7),
		DeadWeight:     math.LegacyNewDec(8),
		Volatility:     math.LegacyNewDec(9),
		RMSD:           math.LegacyNewDec(10),
	}
	want := "1.000000000000000000,2.000000000000000000,3.000000000000000000,4.000000000000000000,5.000000000000000000,6.000000000000000000,7.000000000000000000,8.000000000000000000,9.000000000000000000,10.000000000000000000,"
	if got := r.CSV(); got != want {
		t.Errorf("unexpected CSV format:\n got:  %s\n want: %s", got, want)
	}
}

func TestShutdownLiquidatesAndComputesReport(t *testing.T) {
	s := newTestSimulation(t)
	report := s.Shutdown(math.LegacyNewDec(100))

	for _, id := range s.House().GetFilteredIDs(player.TraderInvestor) {
		_, inv, err := s.House().GetBalInv(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !inv.IsZero() {
			t.Errorf("expected investor %s inventory zeroed after shutdown, got %s", id, inv)
		}
	}
	// All players started at zero inventory and the same balance, so
	// liquidating at any fund value should leave every side's profit at
	// zero (no trades occurred in this test).
	if !report.InvestorProfit.IsZero() {
		t.Errorf("expected zero investor profit with no trades, got %s", report.InvestorProfit)
	}
}
