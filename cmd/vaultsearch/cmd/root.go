// Package cmd provides the CLI commands for vaultsearch.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultsearch/internal/logging"
)

var (
	vaultDir       string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vaultsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultsearch",
		Short: "Hybrid lexical + semantic search over a note vault",
		Long: `Vaultsearch retrieves ranked note fragments from a vault of
plain-text notes, combining keyword matching with embedding-based
semantic similarity, and keeps the semantic index synchronized as
notes change.

Run 'vaultsearch index' once, then 'vaultsearch search <query>'.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&vaultDir, "vault", ".", "Vault root directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.vaultsearch/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newInitCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging is best-effort for CLI runs; fall back to the default
		// handler rather than refusing to work.
		slog.Warn("log_setup_failed", slog.String("error", err.Error()))
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
