package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

func newWatchCmd() *cobra.Command {
	var offline bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the semantic index synchronized with vault changes",
		Long: `Watch monitors the vault for note changes and reindexes affected
documents as they settle. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, offline, debounce)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic static embeddings (no model server)")
	cmd.Flags().DurationVar(&debounce, "debounce", vault.DefaultDebounceWindow, "Event coalescing window")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, offline bool, debounce time.Duration) error {
	a, err := newApp(ctx, offline, nil)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Catch up on anything changed while not watching.
	if _, err := a.manager.IndexVaultIncremental(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial sync failed: %w", err)
	}

	watcher := vault.NewWatcher(a.vault, debounce)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Start(ctx)
	}()
	defer watcher.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s\n", a.cfg.Vault.Path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("watcher failed: %w", err)
			}
			return nil
		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-watcher.Batches():
			if !ok {
				return nil
			}
			for _, change := range batch {
				if err := a.manager.ReindexDocument(ctx, change.Path); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					slog.Warn("watch_reindex_failed",
						slog.String("path", change.Path),
						slog.String("error", err.Error()))
					continue
				}
				fmt.Fprintf(out, "%s %s\n", change.Kind, change.Path)
			}
		}
	}
}
