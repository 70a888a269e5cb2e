package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/daemon"
)

func newClearCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every cataloged plugin so the next scan probes all files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(func(app *daemon.App) error {
				before := app.Manager.Snapshot().Len()
				if err := app.Manager.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d plugin(s)\n", before)
				return nil
			})
		},
	}
}
