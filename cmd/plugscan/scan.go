package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ipsix/plugscan/internal/daemon"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/tui"
)

type scanOptions struct {
	skip           bool
	protocols      []string
	timeout        string
	nonInteractive bool
}

func newScanCmd(root *rootFlags) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan plugin folders and update the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.nonInteractive {
				opts.nonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))
			}
			return runScan(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.skip, "skip", false, "Finish immediately without scanning")
	cmd.Flags().StringSliceVarP(&opts.protocols, "protocol", "p", nil, "Only scan these protocols (repeatable)")
	cmd.Flags().StringVar(&opts.timeout, "timeout", "", "Per-plugin worker timeout, e.g. 8s")
	cmd.Flags().BoolVar(&opts.nonInteractive, "plain", false, "Log progress instead of drawing it")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootFlags, opts *scanOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.skip {
		cfg.Scan.Skip = true
	}
	if len(opts.protocols) > 0 {
		cfg.Scan.Protocols = opts.protocols
	}
	if opts.timeout != "" {
		cfg.Worker.Timeout = opts.timeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		app     *daemon.App
		program *tea.Program
		done    chan error
	)
	observers := []discovery.Observer{}
	if opts.nonInteractive {
		logger, err := root.logger(cfg)
		if err != nil {
			return err
		}
		observers = append(observers, discovery.ObserverFuncs{
			OnScanning: func(name string) {
				logger.Info("scanning", logging.Field{Key: "plugin", Value: name})
			},
		})
	} else {
		program = tea.NewProgram(tui.NewModel(func() {
			if app != nil {
				app.Manager.Cancel()
			}
		}), tea.WithOutput(cmd.OutOrStdout()), tea.WithContext(ctx))
		observers = append(observers, tui.NewObserver(program))
	}

	app, err = root.openApp(cfg, daemon.BuildOptions{Observers: observers})
	if err != nil {
		return err
	}
	defer app.Close()

	if program != nil {
		done = make(chan error, 1)
		go func() {
			_, err := program.Run()
			done <- err
		}()
	}

	if err := app.Manager.BeginScan(ctx); err != nil {
		return err
	}
	waitErr := app.Manager.Wait(context.Background())

	if program != nil {
		if err := <-done; err != nil && ctx.Err() == nil {
			return err
		}
	}
	if waitErr != nil {
		return waitErr
	}

	summary, ok := app.Manager.LastSummary()
	if !ok {
		return fmt.Errorf("scan finished without a summary")
	}
	if program == nil || ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout(), tui.SummaryView(summary))
	}
	return nil
}
