// Package daemon assembles the scan components and runs them as a
// long-lived service: HTTP API, scheduled rescans, history retention.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipsix/plugscan/internal/api"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/scheduler"
)

const (
	rescanJob       = "rescan"
	pruneHistoryJob = "prune-history"
)

type Runner struct {
	app    *App
	logger *logging.Logger
	sched  *scheduler.Scheduler
	api    *api.Server
}

func New(app *App) *Runner {
	return &Runner{
		app:    app,
		logger: app.Logger,
		sched:  scheduler.New(app.Logger),
		api:    api.New(app.Config.API, app.Logger, app.Manager, app.Tracker, app.History),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.addJobs(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	r.logger.Info("daemon started",
		logging.Field{Key: "plugins", Value: r.app.Manager.Snapshot().Len()},
		logging.Field{Key: "api", Value: r.app.Config.API.Enabled})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.handleSignals(sigCh, cancel, func() { r.rescan(gctx) })
		return nil
	})
	g.Go(func() error {
		return r.api.Start(gctx)
	})
	g.Go(func() error {
		r.sched.Start(gctx)
		<-gctx.Done()
		r.sched.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks handleSignals.
		signal.Stop(sigCh)
		close(sigCh)
		return nil
	})

	err := g.Wait()
	if shutdownErr := r.shutdown(r.app.Config.Log.ShutdownTimeoutDuration()); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func (r *Runner) addJobs() error {
	cfg := r.app.Config
	if cfg.Schedule.Rescan != "" || cfg.Schedule.RunOnStart {
		schedule := cfg.Schedule.Rescan
		if schedule == "" {
			// Run once at start, then effectively never.
			schedule = "@yearly"
		}
		if err := r.sched.AddJob(scheduler.JobConfig{
			Name:       rescanJob,
			Schedule:   schedule,
			RunOnStart: cfg.Schedule.RunOnStart,
			Task:       r.scanAndWait,
		}); err != nil {
			return err
		}
	}
	if r.app.History != nil && cfg.Storage.RetentionDays > 0 {
		if err := r.sched.AddJob(scheduler.JobConfig{
			Name:       pruneHistoryJob,
			Schedule:   "@every 1h",
			RunOnStart: true,
			Task:       r.pruneHistory,
		}); err != nil {
			return err
		}
	}
	return nil
}

// scanAndWait runs one scan to completion. A scan already running counts as
// success; the deadline cancels the scan.
func (r *Runner) scanAndWait(ctx context.Context) error {
	m := r.app.Manager
	if err := m.BeginScan(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, discovery.ErrScanInProgress) {
			r.logger.Info("rescan skipped, scan already running")
			return nil
		}
		return err
	}
	if err := m.Wait(ctx); err != nil {
		m.Cancel()
		return err
	}
	return nil
}

func (r *Runner) rescan(ctx context.Context) {
	if err := r.app.Manager.BeginScan(ctx); err != nil {
		r.logger.Warn("rescan request ignored", logging.Field{Key: "error", Value: err})
		return
	}
	r.logger.Info("rescan started")
}

func (r *Runner) pruneHistory(_ context.Context) error {
	cutoff := time.Now().Add(-r.app.Config.Storage.Retention())
	removed, err := r.app.History.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		r.logger.Info("scan history pruned", logging.Field{Key: "removed", Value: removed})
	}
	return nil
}

// handleSignals returns when sigCh is closed or a shutdown signal arrives.
func (r *Runner) handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, rescan func()) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			r.logger.Info("rescan requested by signal")
			if rescan != nil {
				rescan()
			}
		case syscall.SIGINT, syscall.SIGTERM:
			r.logger.Warn("shutdown signal received", logging.Field{Key: "signal", Value: sig.String()})
			cancel()
			return
		default:
			r.logger.Warn("unexpected signal received", logging.Field{Key: "signal", Value: sig.String()})
		}
	}
}

func (r *Runner) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r.logger.Info("shutdown starting", logging.Field{Key: "timeout", Value: timeout.String()})
	r.app.Manager.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.app.Manager.Wait(ctx); err != nil {
		r.logger.Warn("scan did not stop before the shutdown timeout")
	}
	err := r.app.Close()
	r.logger.Info("shutdown complete")
	return err
}
