// Package cmd implements the mktsimd command tree. Grounded on
// cmd/perpdexd/cmd/root.go's NewRootCmd shape (cobra.Command tree,
// PersistentPreRunE, stdout/stderr wiring), stripped of everything
// that only makes sense for a cosmos-sdk chain binary (client.Context,
// keyring, genesis/tx/query subcommands).
package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/spf13/cobra"

	"github.com/openalpha/mktsim/internal/config"
	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/sim"
	"github.com/openalpha/mktsim/internal/simlog"
	"github.com/openalpha/mktsim/metrics"
)

// NewRootCmd creates the mktsimd root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mktsimd",
		Short: "mktsimd runs a discrete-event market microstructure simulation",
		Long: `mktsimd drives a headless simulation of investors, market makers, and a
block-producing miner trading across a CDA, FBA, or KLF auction, reading
its run parameters and behavioural distributions from two CSV files.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
			return nil
		},
	}

	rootCmd.AddCommand(NewRunCmd(), NewVersionCmd())
	return rootCmd
}

// Version is the build-time version string, set via -ldflags in
// release builds; left as "dev" for local builds.
var Version = "dev"

// NewVersionCmd prints the binary's version.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mktsimd version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}

// runFlags holds NewRunCmd's parsed flag values.
type runFlags struct {
	constantsPath     string
	distributionsPath string
	seed              int64
	metricsAddr       string
	playerLogPath     string
	bookLogPath       string
	summaryLogPath    string
}

// NewRunCmd builds the "run" subcommand: parse config, wire a
// Simulation, start its three agent loops, serve /metrics, and block
// until the run's block budget is exhausted or an interrupt arrives.
func NewRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.constantsPath, "constants", "", "path to the constants CSV file (required)")
	cmd.Flags().StringVar(&f.distributionsPath, "distributions", "", "path to the distributions CSV file (required)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "PRNG seed for the distribution set")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9110", "address to serve /metrics and /healthz on")
	cmd.Flags().StringVar(&f.playerLogPath, "player-log", "", "path to write the player-state audit log (disabled if empty)")
	cmd.Flags().StringVar(&f.bookLogPath, "book-log", "", "path to write the per-block order-book snapshot log (disabled if empty)")
	cmd.Flags().StringVar(&f.summaryLogPath, "summary-log", "", "path to write the final summary row (disabled if empty, always printed to stdout)")
	_ = cmd.MarkFlagRequired("constants")
	_ = cmd.MarkFlagRequired("distributions")

	return cmd
}

func runSimulation(cmd *cobra.Command, f runFlags) error {
	logger := log.NewLogger(cmd.ErrOrStderr())

	consts, err := config.ParseConstants(f.constantsPath)
	if err != nil {
		return fmt.Errorf("mktsimd: %w", err)
	}
	rows, err := config.ParseDistributions(f.distributionsPath)
	if err != nil {
		return fmt.Errorf("mktsimd: %w", err)
	}
	dists := dist.NewSet(f.seed, rows)

	simulation, err := sim.New(logger, dists, consts)
	if err != nil {
		return fmt.Errorf("mktsimd: couldn't build simulation: %w", err)
	}

	playerAudit, bookSnapshot, err := openSinks(f)
	if err != nil {
		return fmt.Errorf("mktsimd: %w", err)
	}
	if playerAudit != nil {
		defer playerAudit.Close()
	}
	if bookSnapshot != nil {
		defer bookSnapshot.Close()
	}
	simulation.AttachSinks(playerAudit, bookSnapshot)

	srv := &http.Server{Addr: f.metricsAddr, Handler: metricsMux()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("mktsimd: metrics server stopped", "err", err)
		}
	}()
	defer srv.Close()

	runner := sim.NewRunner(simulation)
	runner.Start()
	logger.Info("mktsimd: simulation started", "num_blocks", consts.NumBlocks, "market_type", consts.MarketType.String())

	waitForCompletionOrSignal(simulation, consts.NumBlocks)
	runner.Stop()

	fundVal, err := dists.Sample(dist.AsksCenter)
	if err != nil {
		logger.Warn("mktsimd: couldn't sample shutdown fund value, liquidating at zero", "err", err)
		fundVal = math.LegacyZeroDec()
	}
	report := simulation.Shutdown(fundVal.Abs())

	fmt.Fprintln(cmd.OutOrStdout(), simlog.SummaryHeader)
	fmt.Fprintln(cmd.OutOrStdout(), report.CSV())
	if f.summaryLogPath != "" {
		sink, err := simlog.Open(f.summaryLogPath)
		if err != nil {
			return fmt.Errorf("mktsimd: %w", err)
		}
		defer sink.Close()
		if err := sink.WriteRow(simlog.SummaryHeader); err != nil {
			return err
		}
		if err := sink.WriteRow(report.CSV()); err != nil {
			return err
		}
	}
	return nil
}

func openSinks(f runFlags) (*simlog.Sink, *simlog.Sink, error) {
	var playerAudit, bookSnapshot *simlog.Sink
	if f.playerLogPath != "" {
		sink, err := simlog.Open(f.playerLogPath)
		if err != nil {
			return nil, nil, err
		}
		if err := sink.WriteRow(simlog.PlayerAuditHeader); err != nil {
			return nil, nil, err
		}
		playerAudit = sink
	}
	if f.bookLogPath != "" {
		sink, err := simlog.Open(f.bookLogPath)
		if err != nil {
			return nil, nil, err
		}
		if err := sink.WriteRow(simlog.BookSnapshotHeader); err != nil {
			return nil, nil, err
		}
		bookSnapshot = sink
	}
	return playerAudit, bookSnapshot, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// waitForCompletionOrSignal blocks until the simulation's block
// counter exceeds numBlocks or the process receives SIGINT/SIGTERM,
// whichever comes first.
func waitForCompletionOrSignal(simulation *sim.Simulation, numBlocks uint64) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			return
		case <-ticker.C:
			if simulation.BlockNum().Read() > numBlocks {
				return
			}
		}
	}
}
