package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/brushlink/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration brushlink would run with, after merging defaults,
the config file, BRUSHLINK_* environment variables and flags, as YAML.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return cfg.WriteYAML(cmd.OutOrStdout())
}
