package main

import (
	"os"

	"cosmossdk.io/log"

	"github.com/openalpha/mktsim/cmd/mktsimd/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log.NewLogger(os.Stderr).Error("mktsimd: failure running command", "err", err)
		os.Exit(1)
	}
}
