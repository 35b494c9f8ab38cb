package sim

import (
	"fmt"

	"cosmossdk.io/math"

	"github.com/openalpha/mktsim/internal/player"
	"github.com/openalpha/mktsim/metrics"
)

// Report is the end-of-run summary a simulation produces once every
// agent loop has stopped and every player has been liquidated to
// fundVal. Grounded on simulation.rs's calc_performance_results and
// its four helpers (calc_rmsd, calc_price_volatility,
// calc_social_welfare, calc_total_profit).
type Report struct {
	FundVal        math.LegacyDec
	TotalGas       math.LegacyDec
	AvgGas         math.LegacyDec
	TotalTax       math.LegacyDec
	MakerProfit    math.LegacyDec
	InvestorProfit math.LegacyDec
	MinerProfit    math.LegacyDec
	DeadWeight     math.LegacyDec
	Volatility     math.LegacyDec
	RMSD           math.LegacyDec
}

// CSV renders the report as the single summary row simulation.rs's
// log_results! macro writes at shutdown.
func (r Report) CSV() string {
	return fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,",
		r.FundVal, r.TotalGas, r.AvgGas, r.TotalTax,
		r.MakerProfit, r.InvestorProfit, r.MinerProfit,
		r.DeadWeight, r.Volatility, r.RMSD)
}

// Shutdown liquidates every player's inventory to fundVal and computes
// the final performance report. Called exactly once, after Runner.Stop
// has returned and no agent loop can mutate the house any further.
func (s *Simulation) Shutdown(fundVal math.LegacyDec) Report {
	s.house.Liquidate(fundVal, makerTypeOf)
	report := s.calcPerformanceResults(fundVal)
	s.reportFinalMetrics(report)
	return report
}

// reportFinalMetrics publishes the one-shot end-of-run gauges: player
// counts by type and cumulative profit by maker sub-type.
func (s *Simulation) reportFinalMetrics(report Report) {
	c := metrics.GetCollector()
	counts := map[player.TraderT]int{}
	for _, p := range s.house.Players() {
		counts[p.GetPlayerType()]++
	}
	for t, n := range counts {
		c.PlayerCount.WithLabelValues(t.String()).Set(float64(n))
	}

	profits := s.house.MakerProfits()
	for idx, profit := range profits {
		f, _ := profit.Float64()
		c.MakerProfit.WithLabelValues(player.MakerT(idx).String()).Set(f)
	}
}

func (s *Simulation) calcPerformanceResults(fundVal math.LegacyDec) Report {
	volatility := s.hist.CalcPriceVolatility()
	rmsd := s.hist.CalcRMSD(fundVal)
	makerProfit, investorProfit, minerProfit := s.calcTotalProfit()
	totalGas, avgGas, totalTax, deadWeight := s.calcSocialWelfare(makerProfit, minerProfit)

	return Report{
		FundVal:        fundVal,
		TotalGas:       totalGas,
		AvgGas:         avgGas,
		TotalTax:       totalTax,
		MakerProfit:    makerProfit,
		InvestorProfit: investorProfit,
		MinerProfit:    minerProfit,
		DeadWeight:     deadWeight,
		Volatility:     volatility,
		RMSD:           rmsd,
	}
}

// calcTotalProfit sums (final balance - initial balance) per trader
// type across every registered player. Grounded on simulation.rs's
// calc_total_profit.
func (s *Simulation) calcTotalProfit() (makerProfit, investorProfit, minerProfit math.LegacyDec) {
	makerProfit = math.LegacyZeroDec()
	investorProfit = math.LegacyZeroDec()
	minerProfit = math.LegacyZeroDec()

	for id, p := range s.house.Players() {
		init, ok := s.initial[id]
		if !ok {
			continue
		}
		profit := p.GetBal().Sub(init.bal)
		switch p.GetPlayerType() {
		case player.TraderMaker:
			makerProfit = makerProfit.Add(profit)
		case player.TraderInvestor:
			investorProfit = investorProfit.Add(profit)
		case player.TraderMiner:
			minerProfit = minerProfit.Add(profit)
		}
	}
	return makerProfit, investorProfit, minerProfit
}

// calcSocialWelfare averages every non-zero recorded per-block gas
// total, reports the cumulative maker-inventory tax, and computes
// dead-weight loss as total gas plus maker profit plus miner profit
// (the tax is already folded into maker/miner balances, so it is not
// added again here). Grounded on simulation.rs's calc_social_welfare.
func (s *Simulation) calcSocialWelfare(makerProfit, minerProfit math.LegacyDec) (totalGas, avgGas, totalTax, deadWeight math.LegacyDec) {
	totalGas = math.LegacyZeroDec()
	var num int64
	for _, g := range s.house.GasFees() {
		if g.IsZero() {
			continue
		}
		totalGas = totalGas.Add(g)
		num++
	}
	if num > 0 {
		avgGas = totalGas.QuoInt64(num)
	} else {
		avgGas = math.LegacyZeroDec()
	}

	totalTax = s.house.TotalTax()
	deadWeight = totalGas.Add(makerProfit).Add(minerProfit)
	return totalGas, avgGas, totalTax, deadWeight
}
