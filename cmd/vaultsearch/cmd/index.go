package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type indexOptions struct {
	full    bool
	offline bool
	quiet   bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the semantic index",
		Long: `Index embeds the vault's note chunks into the persistent semantic
index. By default only new, modified, and removed notes are processed;
--full rebuilds everything.

Examples:
  vaultsearch index
  vaultsearch index --full
  vaultsearch index --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "Rebuild the whole index instead of an incremental update")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use deterministic static embeddings (no model server)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	out := cmd.OutOrStdout()

	progress := func(completed, total int) {
		if !opts.quiet {
			fmt.Fprintf(out, "\rindexed %d/%d documents", completed, total)
		}
	}

	a, err := newApp(ctx, opts.offline, progress)
	if err != nil {
		return err
	}
	defer a.close()

	// Ctrl-C cancels cooperatively between batches; records already
	// written stay valid.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var chunks int
	if opts.full {
		chunks, err = a.manager.IndexVault(ctx)
	} else {
		chunks, err = a.manager.IndexVaultIncremental(ctx)
	}
	if !opts.quiet {
		fmt.Fprintln(out)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(out, "indexing cancelled after %s, %d chunks persisted\n",
				time.Since(start).Round(time.Millisecond), chunks)
			return nil
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Fprintf(out, "indexed %d chunks in %s\n", chunks, time.Since(start).Round(time.Millisecond))
	return nil
}
