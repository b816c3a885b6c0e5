package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/brushlink/pkg/config"
)

// configureLogger loads the effective config and builds the logger from it.
// --log-level and --log-format override the config file.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(cmd.ErrOrStderr()), nil
}
