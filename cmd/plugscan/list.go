package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/daemon"
	"github.com/ipsix/plugscan/internal/plugin"
)

type listOptions struct {
	protocol    string
	category    string
	instruments bool
	json        bool
}

func newListCmd(root *rootFlags) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(func(app *daemon.App) error {
				descs, err := filterDescriptors(app, opts)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), descs)
				}
				return writeTable(cmd.OutOrStdout(), descs)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.protocol, "protocol", "p", "", "Only show plugins of this protocol")
	cmd.Flags().StringVar(&opts.category, "category", "", "Only show plugins in this category")
	cmd.Flags().BoolVar(&opts.instruments, "instruments", false, "Only show instruments")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output JSON")

	return cmd
}

func filterDescriptors(app *daemon.App, opts *listOptions) ([]plugin.Descriptor, error) {
	snap := app.Manager.Snapshot()
	descs := snap.Descriptors()

	if opts.protocol != "" {
		p, err := plugin.ParseProtocol(opts.protocol)
		if err != nil {
			return nil, err
		}
		descs = snap.ByProtocol(p)
	}

	out := make([]plugin.Descriptor, 0, len(descs))
	for _, d := range descs {
		if opts.category != "" && d.Category != plugin.ParseCategory(opts.category) {
			continue
		}
		if opts.instruments && !d.IsInstrument() {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, descs []plugin.Descriptor) error {
	if len(descs) == 0 {
		_, err := fmt.Fprintln(w, "No plugins in catalog. Run `plugscan scan` first.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tNAME\tAUTHOR\tCATEGORY\tIO\tLOCATION")
	for _, d := range descs {
		location := d.URI
		if location == "" {
			location = d.Path
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Protocol,
			d.Name,
			dash(d.Author),
			d.Category,
			fmt.Sprintf("%d/%d", d.AudioIns, d.AudioOuts),
			location,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d plugin(s)\n", len(descs))
	return err
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func newShowCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key|uri>",
		Short: "Print one catalog entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(func(app *daemon.App) error {
				snap := app.Manager.Snapshot()
				desc, ok := snap.Find(args[0])
				if !ok {
					desc, ok = snap.FindByURI(args[0])
				}
				if !ok {
					return fmt.Errorf("plugin %q not found in catalog", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), desc)
			})
		},
	}
}
