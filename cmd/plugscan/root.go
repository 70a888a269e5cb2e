package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/daemon"
	"github.com/ipsix/plugscan/internal/logging"
)

type rootFlags struct {
	configPath string
	logLevel   string
	// build is swapped in tests to inject an in-process worker.
	build func(cfg config.Config, logger *logging.Logger, opts daemon.BuildOptions) (*daemon.App, error)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootFlags{build: daemon.Build})
}

func newRootCmdWith(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "plugscan",
		Short:         "Discover audio plugins without loading them into this process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", flags.configPath, "Path to config file (default "+config.DefaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", flags.logLevel, "Override log level (debug|info|warn|error)")

	cmd.AddCommand(newScanCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newPathsCmd(flags))
	cmd.AddCommand(newClearCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newCtlCmd())
	cmd.AddCommand(newValidateCmd(flags))

	return cmd
}

func (f *rootFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// logger writes to stderr so command output on stdout stays clean.
func (f *rootFlags) logger(cfg config.Config) (*logging.Logger, error) {
	return logging.NewWithOptions(logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		Writer: os.Stderr,
	})
}

func (f *rootFlags) openApp(cfg config.Config, opts daemon.BuildOptions) (*daemon.App, error) {
	logger, err := f.logger(cfg)
	if err != nil {
		return nil, err
	}
	return f.build(cfg, logger, opts)
}

// withApp loads config, builds the app and closes it after fn.
func (f *rootFlags) withApp(fn func(app *daemon.App) error) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	app, err := f.openApp(cfg, daemon.BuildOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
