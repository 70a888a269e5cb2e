// Package scheduler runs recurring jobs such as periodic plugin rescans.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ipsix/plugscan/internal/logging"
)

// Task is the work a job performs on each tick.
type Task func(ctx context.Context) error

type JobConfig struct {
	Name string
	// Schedule is a cron expression, a descriptor such as @hourly or
	// "@every 6h", or a bare duration.
	Schedule     string
	Timeout      time.Duration
	AllowOverlap bool
	RunOnStart   bool
	Task         Task
}

type Scheduler struct {
	logger *logging.Logger
	mu     sync.Mutex
	jobs   map[string]*job
	wg     sync.WaitGroup
}

func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

func (s *Scheduler) AddJob(cfg JobConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if cfg.Task == nil {
		return fmt.Errorf("job %q has no task", cfg.Name)
	}
	schedule, err := parseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[cfg.Name]; exists {
		return fmt.Errorf("job %q already exists", cfg.Name)
	}

	s.jobs[cfg.Name] = &job{
		cfg:      cfg,
		schedule: schedule,
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.stop != nil {
			continue
		}
		j.stop = make(chan struct{})
		s.wg.Add(1)
		go func(j *job, stop <-chan struct{}) {
			defer s.wg.Done()
			s.runJob(ctx, j, stop)
		}(j, j.stop)
	}
}

// Stop halts every job and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.stop != nil {
			close(j.stop)
			j.stop = nil
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Next reports when the named job fires next.
func (s *Scheduler) Next(name string, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return j.schedule.Next(from), true
}

func (s *Scheduler) runJob(ctx context.Context, j *job, stop <-chan struct{}) {
	if j.cfg.RunOnStart {
		s.executeJob(ctx, j)
	}

	for {
		wait := time.Until(j.schedule.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.executeJob(ctx, j)
		}
	}
}

func (s *Scheduler) executeJob(ctx context.Context, j *job) {
	if !j.cfg.AllowOverlap {
		if !j.running.CompareAndSwap(false, true) {
			s.logger.Warn("job skipped due to overlap", logging.Field{Key: "job", Value: j.cfg.Name})
			return
		}
		defer j.running.Store(false)
	}

	runCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic recovered",
				logging.Field{Key: "job", Value: j.cfg.Name},
				logging.Field{Key: "panic", Value: r},
				logging.Field{Key: "stack", Value: string(debug.Stack())},
			)
		}
	}()

	err := j.cfg.Task(runCtx)
	duration := time.Since(started)

	if err != nil {
		s.logger.Error("job failed",
			logging.Field{Key: "job", Value: j.cfg.Name},
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "duration", Value: duration.String()},
		)
		return
	}

	s.logger.Info("job completed",
		logging.Field{Key: "job", Value: j.cfg.Name},
		logging.Field{Key: "duration", Value: duration.String()},
	)
}

type job struct {
	cfg      JobConfig
	schedule cron.Schedule
	stop     chan struct{}
	running  atomic.Bool
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if interval, err := time.ParseDuration(expr); err == nil {
		if interval <= 0 {
			return nil, fmt.Errorf("schedule interval must be positive")
		}
		return constantDelay(interval), nil
	}
	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("unsupported schedule %q", expr)
		}
		return constantDelay(interval), nil
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("unsupported schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// constantDelay keeps sub-second intervals, which cron.Every rounds up.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
