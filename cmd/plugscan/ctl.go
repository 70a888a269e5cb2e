package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/cli"
	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/plugin"
)

type ctlFlags struct {
	addr    string
	token   string
	timeout time.Duration
}

func (f *ctlFlags) client() *cli.Client {
	token := f.token
	if token == "" {
		token = os.Getenv(config.EnvAPIToken)
	}
	return cli.NewClient(f.addr, token)
}

func (f *ctlFlags) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, f.timeout)
}

// newCtlCmd talks to a running `plugscan serve` over its HTTP API.
func newCtlCmd() *cobra.Command {
	flags := &ctlFlags{}

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running plugscan daemon",
	}

	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "http://127.0.0.1:8789", "Daemon API base URL")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "API token (default $"+config.EnvAPIToken+")")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "Request timeout")

	cmd.AddCommand(newCtlStatusCmd(flags))
	cmd.AddCommand(newCtlPluginsCmd(flags))
	cmd.AddCommand(newCtlScanCmd(flags))
	cmd.AddCommand(newCtlCancelCmd(flags))
	cmd.AddCommand(newCtlHistoryCmd(flags))

	return cmd
}

func newCtlStatusCmd(flags *ctlFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's scan state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.requestContext(cmd.Context())
			defer cancel()
			status, err := flags.client().Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:   %s\n", status.State)
			if status.Current != "" {
				fmt.Fprintf(out, "current: %s\n", status.Current)
			}
			fmt.Fprintf(out, "plugins: %d\n", status.Plugins)
			return nil
		},
	}
}

func newCtlPluginsCmd(flags *ctlFlags) *cobra.Command {
	var (
		protocol    string
		instruments bool
	)
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the daemon's catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := plugin.ProtocolDummy
			if protocol != "" {
				parsed, err := plugin.ParseProtocol(protocol)
				if err != nil {
					return err
				}
				p = parsed
			}
			ctx, cancel := flags.requestContext(cmd.Context())
			defer cancel()
			descs, err := flags.client().Plugins(ctx, p, instruments)
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), descs)
		},
	}
	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "Only show plugins of this protocol")
	cmd.Flags().BoolVar(&instruments, "instruments", false, "Only show instruments")
	return cmd
}

func newCtlScanCmd(flags *ctlFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Ask the daemon to start a scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.requestContext(cmd.Context())
			defer cancel()
			if err := flags.client().Scan(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan started")
			return nil
		},
	}
}

func newCtlCancelCmd(flags *ctlFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the daemon to stop the running scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.requestContext(cmd.Context())
			defer cancel()
			if err := flags.client().Cancel(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cancel requested")
			return nil
		},
	}
}

func newCtlHistoryCmd(flags *ctlFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent scan sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.requestContext(cmd.Context())
			defer cancel()
			records, err := flags.client().History(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATE\tDURATION\tPROBED\tNEW\tFAILED\tTOTAL")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					r.StartedAt.Local().Format(time.DateTime),
					r.State,
					r.Duration.Round(time.Millisecond),
					r.Attempted,
					r.NewPlugins,
					len(r.Failed),
					r.Total,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of sessions to show")
	return cmd
}
