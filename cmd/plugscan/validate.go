package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print any problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Config OK")
			if !show {
				return nil
			}
			raw, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = out.Write(raw)
			return err
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the effective config with secrets redacted")
	return cmd
}
