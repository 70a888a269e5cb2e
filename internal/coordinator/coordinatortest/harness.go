// Package coordinatortest runs the real worker serve loop in-process over
// pipes, with probers scripted per target.
package coordinatortest

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ipsix/plugscan/internal/coordinator"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/worker"
)

var errKilled = errors.New("worker killed")

// Action scripts how the worker reacts to one target.
type Action struct {
	Descriptors []plugin.Descriptor
	Err         error
	// Hang blocks the probe until the worker is killed.
	Hang bool
	// Crash drops the connection as if the plugin took the process down.
	Crash bool
}

// Launcher starts in-process workers. Targets without a script yield no
// plugins.
type Launcher struct {
	mu       sync.Mutex
	script   map[string]Action
	launches atomic.Int64
	probes   atomic.Int64
	failNext atomic.Bool
}

func NewLauncher(script map[string]Action) *Launcher {
	if script == nil {
		script = make(map[string]Action)
	}
	return &Launcher{script: script}
}

func (l *Launcher) Set(target string, action Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script[target] = action
}

// FailNextLaunch makes the next Start return an error.
func (l *Launcher) FailNextLaunch() {
	l.failNext.Store(true)
}

func (l *Launcher) Launches() int { return int(l.launches.Load()) }

// Probes counts requests that reached a worker.
func (l *Launcher) Probes() int { return int(l.probes.Load()) }

func (l *Launcher) action(target string) Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.script[target]
}

func (l *Launcher) Start(_ context.Context, cmd coordinator.Command) (*coordinator.Process, error) {
	if l.failNext.Swap(false) {
		return nil, errors.New("scripted launch failure")
	}
	if len(cmd.Args) < 1 {
		return nil, errors.New("missing coordinator id")
	}
	l.launches.Add(1)

	// stdin is an OS pipe so requests written to a busy worker are
	// buffered the way they are for a real child process.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	kill := func() error {
		once.Do(func() {
			cancel()
			stdinR.Close()
			stdoutW.Close()
		})
		return nil
	}

	prober := worker.ProberFunc(func(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error) {
		l.probes.Add(1)
		act := l.action(target)
		switch {
		case act.Crash:
			_ = kill()
			return nil, errKilled
		case act.Hang:
			<-ctx.Done()
			return nil, ctx.Err()
		}
		out := make([]plugin.Descriptor, len(act.Descriptors))
		copy(out, act.Descriptors)
		for i := range out {
			if out[i].Protocol == plugin.ProtocolDummy {
				out[i].Protocol = protocol
			}
		}
		return out, act.Err
	})

	done := make(chan error, 1)
	go func() {
		err := worker.Serve(ctx, stdinR, stdoutW, cmd.Args[0], prober, logging.Nop())
		stdoutW.Close()
		stdinR.Close()
		done <- err
	}()

	var waitOnce sync.Once
	var waitErr error
	return &coordinator.Process{
		Stdin:  stdinW,
		Stdout: stdoutR,
		Kill:   kill,
		Wait: func() error {
			waitOnce.Do(func() { waitErr = <-done })
			return waitErr
		},
	}, nil
}
