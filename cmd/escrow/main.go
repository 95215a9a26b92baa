// Package main provides the escrow command: it operates a voting escrow
// registry kept in a SQL database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"vote-escrow/internal/address"
	"vote-escrow/internal/config"
	"vote-escrow/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const programName = "escrow"

type globalFlags struct {
	debug  bool
	caller string
}

// app is what every subcommand needs, built once before it runs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

type appKey struct{}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}

// caller is the identity the command acts as.
func (a *app) caller() (address.Address, error) {
	if a.cfg.Caller == "" {
		return "", errors.New("no caller: set CALLER or pass --caller")
	}
	c, err := address.Parse(a.cfg.Caller)
	if err != nil {
		return "", fmt.Errorf("caller: %w", err)
	}
	return c, nil
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Fee-weighted plurality voting escrow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&flags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVarP(&flags.caller, "caller", "c", "", "address to act as (overrides CALLER)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Try to load .env from CWD if present; otherwise use environment as-is
		if _, statErr := os.Stat(".env"); statErr == nil {
			_ = godotenv.Load(".env")
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flags.debug {
			cfg.Debug = true
		}
		if flags.caller != "" {
			cfg.Caller = flags.caller
		}
		a := &app{cfg: cfg, logger: logger.NewWithWriter(cfg.Debug, cmd.ErrOrStderr())}
		a.logger.Debug("config loaded", "component", programName, "config", cfg.DebugString())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(context.WithValue(ctx, appKey{}, a))
		return nil
	}

	rootCmd.AddCommand(
		deployCommand(),
		createRoundCommand(),
		voteCommand(),
		finalizeCommand(),
		withdrawCommand(),
		infoCommand(),
		listCommand(),
		balanceCommand(),
		newAddressCommand(),
		watchCommand(),
	)
	return rootCmd
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
