package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/dist"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("couldn't write temp file: %v", err)
	}
	return path
}

func TestParseConstants(t *testing.T) {
	content := "num_investors,num_makers,num_blocks,block_size,batch_interval,maker_prop_delay,maker_enter_prob,maker_inv_tax,front_run_perc,flow_order_offset,market_type\n" +
		"10,5,1000,50,100,20,0.3,0.02,0.05,0.5,CDA\n"
	path := writeTempFile(t, "constants.csv", content)

	c, err := ParseConstants(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.NumInvestors != 10 || c.NumMakers != 5 {
		t.Errorf("expected 10 investors / 5 makers, got %d / %d", c.NumInvestors, c.NumMakers)
	}
	if c.NumBlocks != 1000 {
		t.Errorf("expected 1000 blocks, got %d", c.NumBlocks)
	}
	if c.MarketType != auction.CDA {
		t.Errorf("expected CDA market type, got %v", c.MarketType)
	}
	if c.MakerEnterProb != 0.3 {
		t.Errorf("expected maker_enter_prob 0.3, got %v", c.MakerEnterProb)
	}
}

func TestParseConstantsUnknownMarketType(t *testing.T) {
	content := "num_investors,num_makers,num_blocks,block_size,batch_interval,maker_prop_delay,maker_enter_prob,maker_inv_tax,front_run_perc,flow_order_offset,market_type\n" +
		"1,1,1,1,1,1,0.1,0.1,0.1,0.1,NOT_A_MARKET\n"
	path := writeTempFile(t, "constants.csv", content)

	if _, err := ParseConstants(path); err == nil {
		t.Fatal("expected an error for an unrecognized market_type")
	}
}

func TestParseConstantsMissingColumnErrors(t *testing.T) {
	content := "num_investors,num_makers\n1,1\n"
	path := writeTempFile(t, "constants.csv", content)

	if _, err := ParseConstants(path); err == nil {
		t.Fatal("expected an error for a header missing required columns")
	}
}

func TestParseDistributions(t *testing.T) {
	content := "reason,v1,v2,scalar,dist_type\n" +
		"InvestorBalance,1000,0,1,Constant\n" +
		"BidsCenter,95,5,1,Normal\n"
	path := writeTempFile(t, "dists.csv", content)

	rows, err := ParseDistributions(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Reason != dist.InvestorBalance || rows[0].Type != dist.Constant {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Reason != dist.BidsCenter || rows[1].Type != dist.Normal {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
}
