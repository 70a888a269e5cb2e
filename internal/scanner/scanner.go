// Package scanner turns "what plugins does this file hold?" into round trips
// with an isolated worker process, relaunching the worker whenever it dies.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ipsix/plugscan/internal/coordinator"
	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

const (
	DefaultTimeout    = 8 * time.Second
	MaxTimeoutRetries = 3
)

// Outcome is the result of probing one candidate.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeEmpty
	OutcomeTimeout
	OutcomeConnectionLost
	OutcomeLaunchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeConnectionLost:
		return "connection_lost"
	case OutcomeLaunchFailed:
		return "launch_failed"
	default:
		return "unknown"
	}
}

// OK reports whether the worker answered, with or without plugins.
func (o Outcome) OK() bool {
	return o == OutcomeFound || o == OutcomeEmpty
}

type Options struct {
	WorkerPath     string
	Timeout        time.Duration
	TimeoutRetries int
	ExpectedSHA256 string
	Arch           plugin.Arch
	Launcher       coordinator.Launcher
	Logger         *logging.Logger
}

// OutOfProcessScanner keeps at most one worker per protocol.
type OutOfProcessScanner struct {
	opts   Options
	logger *logging.Logger

	mu           sync.Mutex
	coordinators map[plugin.Protocol]*coordinator.Coordinator
}

func New(opts Options) *OutOfProcessScanner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TimeoutRetries < 0 {
		opts.TimeoutRetries = 0
	}
	if opts.TimeoutRetries > MaxTimeoutRetries {
		opts.TimeoutRetries = MaxTimeoutRetries
	}
	if opts.Arch == "" {
		opts.Arch = plugin.Arch64
	}
	return &OutOfProcessScanner{
		opts:         opts,
		logger:       opts.Logger,
		coordinators: make(map[plugin.Protocol]*coordinator.Coordinator),
	}
}

// FindPluginTypesFor probes one candidate. It blocks for at most the
// configured timeout per attempt. A hung worker is killed before the next
// attempt so later candidates never wait on it; a crashed worker is replaced
// on the next call and the crashing candidate is not retried.
func (s *OutOfProcessScanner) FindPluginTypesFor(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, Outcome) {
	attempts := 1 + s.opts.TimeoutRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := s.coordinatorFor(ctx, protocol)
		if err != nil {
			s.logger.Warn("worker launch failed",
				logging.Field{Key: "protocol", Value: protocol},
				logging.Field{Key: "error", Value: err})
			return nil, OutcomeLaunchFailed
		}

		if err := c.SendRequest(ipc.ScanRequest{Protocol: protocol, Target: target}); err != nil {
			s.logger.Warn("send to worker failed", logging.Field{Key: "target", Value: target}, logging.Field{Key: "error", Value: err})
			s.discard(protocol, c, false)
			return nil, OutcomeConnectionLost
		}

		resp := c.GetResponse(s.opts.Timeout)
		switch resp.State {
		case ipc.StateGotResult:
			descs := s.stamp(resp.Descriptors, protocol, target)
			if len(descs) == 0 {
				return nil, OutcomeEmpty
			}
			return descs, OutcomeFound
		case ipc.StateConnectionLost:
			s.logger.Warn("worker lost while scanning", logging.Field{Key: "target", Value: target})
			s.discard(protocol, c, false)
			return nil, OutcomeConnectionLost
		default:
			s.logger.Warn("worker timed out",
				logging.Field{Key: "target", Value: target},
				logging.Field{Key: "timeout", Value: s.opts.Timeout},
				logging.Field{Key: "attempt", Value: attempt})
			s.discard(protocol, c, true)
			if ctx.Err() != nil {
				return nil, OutcomeTimeout
			}
		}
	}
	return nil, OutcomeTimeout
}

func (s *OutOfProcessScanner) stamp(descs []plugin.Descriptor, protocol plugin.Protocol, target string) []plugin.Descriptor {
	out := descs[:0]
	for _, d := range descs {
		d.Protocol = protocol
		if d.Path == "" {
			d.Path = target
		}
		if d.Arch == "" {
			d.Arch = s.opts.Arch
		}
		if err := d.Validate(); err != nil {
			s.logger.Debug("dropping descriptor", logging.Field{Key: "error", Value: err})
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *OutOfProcessScanner) coordinatorFor(ctx context.Context, protocol plugin.Protocol) (*coordinator.Coordinator, error) {
	s.mu.Lock()
	c, ok := s.coordinators[protocol]
	s.mu.Unlock()
	if ok && !c.ConnectionLost() {
		return c, nil
	}
	if ok {
		s.discard(protocol, c, false)
	}

	workerPath, err := coordinator.ResolveWorkerPath(s.opts.WorkerPath)
	if err != nil {
		return nil, err
	}
	c = coordinator.New(coordinator.Options{
		Launcher:       s.opts.Launcher,
		Logger:         s.logger,
		Arch:           s.opts.Arch,
		ExpectedSHA256: s.opts.ExpectedSHA256,
	})
	if err := c.Launch(ctx, workerPath, protocol.Token()); err != nil {
		_ = c.Close()
		return nil, err
	}

	s.mu.Lock()
	s.coordinators[protocol] = c
	s.mu.Unlock()
	return c, nil
}

func (s *OutOfProcessScanner) discard(protocol plugin.Protocol, c *coordinator.Coordinator, kill bool) {
	s.mu.Lock()
	if s.coordinators[protocol] == c {
		delete(s.coordinators, protocol)
	}
	s.mu.Unlock()

	var err error
	if kill {
		err = c.Kill()
	} else {
		err = c.Close()
	}
	if err != nil {
		s.logger.Debug("closing worker", logging.Field{Key: "error", Value: err})
	}
}

// Close shuts down every live worker.
func (s *OutOfProcessScanner) Close() error {
	s.mu.Lock()
	live := s.coordinators
	s.coordinators = make(map[plugin.Protocol]*coordinator.Coordinator)
	s.mu.Unlock()

	var result *multierror.Error
	for _, c := range live {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
