package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/daemon"
)

func newPathsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show the folders each protocol is scanned in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(func(app *daemon.App) error {
				out := cmd.OutOrStdout()
				for _, protocol := range app.Registry.Protocols() {
					fmt.Fprintf(out, "%s:\n", protocol)
					paths := app.Paths.SearchPaths(protocol)
					if len(paths) == 0 {
						fmt.Fprintln(out, "  (none)")
						continue
					}
					for _, p := range paths {
						fmt.Fprintf(out, "  %s\n", p)
					}
				}
				return nil
			})
		},
	}
}
