package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault and semantic index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic static embeddings (no model server)")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, offline bool) error {
	a, err := newApp(ctx, offline, nil)
	if err != nil {
		return err
	}
	defer a.close()

	docs, err := a.vault.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if err := a.manager.Open(ctx); err != nil {
		return err
	}
	stats := a.manager.Stats()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "vault:       %s\n", a.cfg.Vault.Path)
	fmt.Fprintf(out, "documents:   %d\n", len(docs))
	fmt.Fprintf(out, "index:       %s (%s)\n", a.cfg.Vault.IndexPath, stats.State)
	fmt.Fprintf(out, "chunks:      %d across %d documents\n", stats.Records, stats.Documents)
	fmt.Fprintf(out, "embeddings:  %s, %d dimensions\n", a.provider.ModelName(), stats.Dimensions)
	fmt.Fprintf(out, "rate limit:  %d requests/minute\n", a.limiter.RequestsPerMinute())
	return nil
}
