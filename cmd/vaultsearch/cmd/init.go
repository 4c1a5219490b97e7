package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultsearch/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file into the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	vaultPath, err := filepath.Abs(vaultDir)
	if err != nil {
		return fmt.Errorf("resolve vault path: %w", err)
	}
	if info, err := os.Stat(vaultPath); err != nil || !info.IsDir() {
		return fmt.Errorf("vault directory not found: %s", vaultPath)
	}

	path := filepath.Join(vaultPath, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default(vaultPath)
	if err := cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
