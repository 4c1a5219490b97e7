package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultsearch/internal/search"
)

type searchCmdOptions struct {
	limit          int
	semanticWeight float64
	lexicalOnly    bool
	fullIndex      bool
	noBoosts       bool
	offline        bool
	format         string
}

func newSearchCmd() *cobra.Command {
	opts := searchCmdOptions{semanticWeight: -1}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the vault",
		Long: `Search runs the hybrid retrieval pipeline: query expansion, a
candidate keyword scan, concurrent lexical and semantic search, and
rank fusion.

Examples:
  vaultsearch search "quarterly planning notes"
  vaultsearch search "#project/alpha update" --limit 5
  vaultsearch search "error budget" --lexical-only
  vaultsearch search "retro" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64VarP(&opts.semanticWeight, "semantic-weight", "w", -1, "Semantic share of fusion in [0,1] (default from config)")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Skip semantic search entirely")
	cmd.Flags().BoolVar(&opts.fullIndex, "full-index", false, "Search the whole semantic index instead of candidate documents")
	cmd.Flags().BoolVar(&opts.noBoosts, "no-boosts", false, "Disable folder and link-graph boosts")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use deterministic static embeddings (no model server)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchCmdOptions) error {
	a, err := newApp(ctx, opts.offline, nil)
	if err != nil {
		return err
	}
	defer a.close()

	searchOpts := a.searchOptions()
	if opts.limit > 0 {
		searchOpts.MaxResults = opts.limit
	}
	if opts.semanticWeight >= 0 {
		searchOpts.SemanticWeight = opts.semanticWeight
	}
	if opts.lexicalOnly {
		searchOpts.DisableSemantic = true
	}
	if opts.fullIndex {
		searchOpts.SemanticMode = search.SemanticFull
	}
	if opts.noBoosts {
		searchOpts.DisableLexicalBoosts = true
	}

	results := a.retriever.Retrieve(ctx, query, searchOpts)

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. %-50s %.3f [%s]", i+1, r.ID, r.Score, r.Engine)
		if r.Explanation != "" {
			fmt.Fprintf(out, " (%s)", r.Explanation)
		}
		fmt.Fprintln(out)
	}
	return nil
}
