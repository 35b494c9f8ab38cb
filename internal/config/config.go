// Package config parses the two CSV input files that configure a
// simulation run: the single-row Constants file and the
// one-row-per-role Distributions file. No third-party CSV or serde
// library appears anywhere in the retrieval pack, so parsing stays on
// the standard library's encoding/csv (see DESIGN.md); the simlog
// output sinks are likewise built on the standard library.
package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/dist"
)

// Constants holds the single-row configuration describing the shape of
// a simulation run.
type Constants struct {
	NumInvestors     int
	NumMakers        int
	NumBlocks        uint64
	BlockSize        int
	BatchIntervalMS  int64
	MakerPropDelayMS int64
	MakerEnterProb   float64
	MakerInvTax      float64
	FrontRunPerc     float64
	FlowOrderOffset  float64
	MarketType       auction.MarketType
}

var constsColumns = []string{
	"num_investors", "num_makers", "num_blocks", "block_size",
	"batch_interval", "maker_prop_delay", "maker_enter_prob",
	"maker_inv_tax", "front_run_perc", "flow_order_offset", "market_type",
}

// ParseConstants reads the single-row Constants CSV at path.
func ParseConstants(path string) (Constants, error) {
	f, err := os.Open(path)
	if err != nil {
		return Constants{}, fmt.Errorf("config: opening constants file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return Constants{}, fmt.Errorf("config: reading constants header: %w", err)
	}
	idx, err := columnIndex(header, constsColumns)
	if err != nil {
		return Constants{}, fmt.Errorf("config: constants file: %w", err)
	}
	row, err := r.Read()
	if err != nil {
		return Constants{}, fmt.Errorf("config: reading constants row: %w", err)
	}

	marketTypeStr := strings.TrimSpace(row[idx["market_type"]])
	marketType, err := parseMarketType(marketTypeStr)
	if err != nil {
		return Constants{}, fmt.Errorf("config: constants file: %w", err)
	}

	c := Constants{MarketType: marketType}
	if c.NumInvestors, err = atoiField(row, idx, "num_investors"); err != nil {
		return Constants{}, err
	}
	if c.NumMakers, err = atoiField(row, idx, "num_makers"); err != nil {
		return Constants{}, err
	}
	numBlocks, err := atoiField(row, idx, "num_blocks")
	if err != nil {
		return Constants{}, err
	}
	c.NumBlocks = uint64(numBlocks)
	if c.BlockSize, err = atoiField(row, idx, "block_size"); err != nil {
		return Constants{}, err
	}
	batchInterval, err := atoiField(row, idx, "batch_interval")
	if err != nil {
		return Constants{}, err
	}
	c.BatchIntervalMS = int64(batchInterval)
	makerPropDelay, err := atoiField(row, idx, "maker_prop_delay")
	if err != nil {
		return Constants{}, err
	}
	c.MakerPropDelayMS = int64(makerPropDelay)
	if c.MakerEnterProb, err = floatField(row, idx, "maker_enter_prob"); err != nil {
		return Constants{}, err
	}
	if c.MakerInvTax, err = floatField(row, idx, "maker_inv_tax"); err != nil {
		return Constants{}, err
	}
	if c.FrontRunPerc, err = floatField(row, idx, "front_run_perc"); err != nil {
		return Constants{}, err
	}
	if c.FlowOrderOffset, err = floatField(row, idx, "flow_order_offset"); err != nil {
		return Constants{}, err
	}
	return c, nil
}

func parseMarketType(s string) (auction.MarketType, error) {
	switch s {
	case "CDA":
		return auction.CDA, nil
	case "FBA":
		return auction.FBA, nil
	case "KLF":
		return auction.KLF, nil
	default:
		return 0, fmt.Errorf("unknown market_type %q", s)
	}
}

var distColumns = []string{"reason", "v1", "v2", "scalar", "dist_type"}

// ParseDistributions reads the multi-row Distributions CSV at path.
func ParseDistributions(path string) ([]dist.Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening distributions file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("config: reading distributions header: %w", err)
	}
	idx, err := columnIndex(header, distColumns)
	if err != nil {
		return nil, fmt.Errorf("config: distributions file: %w", err)
	}

	var rows []dist.Distribution
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("config: reading distributions row: %w", err)
		}
		v1, err := strconv.ParseFloat(strings.TrimSpace(row[idx["v1"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("config: distributions v1: %w", err)
		}
		v2, err := strconv.ParseFloat(strings.TrimSpace(row[idx["v2"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("config: distributions v2: %w", err)
		}
		scalar, err := strconv.ParseFloat(strings.TrimSpace(row[idx["scalar"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("config: distributions scalar: %w", err)
		}
		distType, err := dist.ParseType(strings.TrimSpace(row[idx["dist_type"]]))
		if err != nil {
			return nil, fmt.Errorf("config: distributions dist_type: %w", err)
		}
		rows = append(rows, dist.Distribution{
			Reason: dist.Reason(strings.TrimSpace(row[idx["reason"]])),
			Type:   distType,
			V1:     v1,
			V2:     v2,
			Scalar: scalar,
		})
	}
	return rows, nil
}

func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return idx, nil
}

func atoiField(row []string, idx map[string]int, col string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(row[idx[col]]))
	if err != nil {
		return 0, fmt.Errorf("config: field %q: %w", col, err)
	}
	return v, nil
}

func floatField(row []string, idx map[string]int, col string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx[col]]), 64)
	if err != nil {
		return 0, fmt.Errorf("config: field %q: %w", col, err)
	}
	return v, nil
}
