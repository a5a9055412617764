// byggctl is the operator and terminal client for Byggarportalen.
package main

import (
	"fmt"
	"os"

	"byggarportalen/internal/logging"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "byggctl",
	Short:         "Byggarportalen command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd(), useraddCmd(), chatCmd(), membersCmd())
}

// newLogger builds a logger from LOG_* variables, quiet unless LOG_FILE is set when interactive
func newLogger(interactive bool) (*zap.SugaredLogger, error) {
	var cfg logging.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse log config: %w", err)
	}
	if interactive && cfg.File == "" {
		return zap.NewNop().Sugar(), nil
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
