package main

import (
	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/daemon"
	"github.com/ipsix/plugscan/internal/logging"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rescan scheduler and the HTTP API until signalled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			// The daemon logs to stdout like any long-running service.
			logger, err := logging.NewWithOptions(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})
			if err != nil {
				return err
			}
			app, err := root.build(cfg, logger, daemon.BuildOptions{})
			if err != nil {
				return err
			}
			return daemon.New(app).Run(cmd.Context())
		},
	}
}
