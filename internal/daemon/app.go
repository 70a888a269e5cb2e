package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/ipsix/plugscan/internal/alerting"
	"github.com/ipsix/plugscan/internal/catalog"
	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/coordinator"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/formats"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/scanner"
	"github.com/ipsix/plugscan/internal/state"
	"github.com/ipsix/plugscan/internal/storage"
	"github.com/ipsix/plugscan/internal/worker"
)

// App is every component a scan needs, built from one config.
type App struct {
	Config   config.Config
	Logger   *logging.Logger
	Registry *scanner.Registry
	Paths    formats.PathsProvider
	Scanner  *scanner.OutOfProcessScanner
	Catalog  catalog.Store
	Manager  *discovery.Manager
	Tracker  *state.Tracker
	// History and DB are nil unless storage.db_path is set.
	History *storage.HistoryStore
	DB      *storage.BadgerStore
}

// BuildOptions lets callers inject collaborators, mostly for tests.
type BuildOptions struct {
	Launcher  coordinator.Launcher
	Paths     formats.PathsProvider
	Observers []discovery.Observer
}

func Build(cfg config.Config, logger *logging.Logger, opts BuildOptions) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Tracker: state.NewTracker(50)}

	enabled, err := cfg.Scan.EnabledProtocols()
	if err != nil {
		return nil, err
	}
	app.Registry, err = scanner.NewDefaultRegistry(enabled)
	if err != nil {
		return nil, err
	}

	app.Paths = opts.Paths
	if app.Paths == nil {
		configured, err := cfg.Scan.SearchPaths()
		if err != nil {
			return nil, err
		}
		app.Paths = formats.NewConfigPaths(configured, cfg.Scan.TestMode)
	}

	ignore, err := formats.CompileIgnore(cfg.Scan.Ignore)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DBPath != "" {
		dbPath := config.ExpandPath(cfg.Storage.DBPath)
		if err := os.MkdirAll(dbPath, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		app.DB, err = storage.NewBadgerStoreWithKey(dbPath, cfg.Storage.EncryptionKeyBase64)
		if err != nil {
			return nil, err
		}
		app.History = storage.NewHistoryStore(app.DB)
	}

	switch cfg.Catalog.Backend {
	case "badger":
		if app.DB == nil {
			return nil, app.closeWith(fmt.Errorf("catalog backend badger needs storage.db_path"))
		}
		app.Catalog = catalog.NewBadgerStore(app.DB)
	default:
		path := config.ExpandPath(cfg.Catalog.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, app.closeWith(fmt.Errorf("create catalog dir: %w", err))
		}
		app.Catalog = catalog.NewFileStore(path)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = coordinator.ExecLauncher{Logger: logger, Env: workerEnv(cfg)}
	}
	app.Scanner = scanner.New(scanner.Options{
		WorkerPath:     cfg.Worker.Path,
		Timeout:        cfg.Worker.TimeoutDuration(),
		TimeoutRetries: cfg.Worker.TimeoutRetries,
		ExpectedSHA256: cfg.Worker.ExpectedSHA256,
		Launcher:       launcher,
		Logger:         logger,
	})

	observers := []discovery.Observer{app.Tracker}
	if app.History != nil {
		observers = append(observers, discovery.NewHistoryObserver(app.History, logger))
	}
	if cfg.Notify.Enabled {
		engine, err := alerting.NewFromConfig(cfg.Notify, logger)
		if err != nil {
			return nil, app.closeWith(err)
		}
		observers = append(observers, alerting.NewObserver(engine))
	}
	observers = append(observers, opts.Observers...)

	app.Manager, err = discovery.NewManager(discovery.Options{
		Registry:  app.Registry,
		Paths:     app.Paths,
		Scanner:   app.Scanner,
		Store:     app.Catalog,
		Ignore:    ignore,
		SkipScan:  cfg.Scan.Skip,
		Logger:    logger,
		Observers: observers,
	})
	if err != nil {
		return nil, app.closeWith(err)
	}
	return app, nil
}

// Close stops any workers and closes storage.
func (a *App) Close() error {
	var result *multierror.Error
	if a.Scanner != nil {
		if err := a.Scanner.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		a.DB = nil
	}
	return result.ErrorOrNil()
}

func (a *App) closeWith(err error) error {
	if cerr := a.Close(); cerr != nil {
		return multierror.Append(err, cerr)
	}
	return err
}

func workerEnv(cfg config.Config) []string {
	env := []string{config.EnvLogLevel + "=" + cfg.Log.Level}
	if cfg.Worker.DiscoveryTool != "" {
		env = append(env, worker.DiscoveryToolEnv+"="+config.ExpandPath(cfg.Worker.DiscoveryTool))
	}
	return env
}
