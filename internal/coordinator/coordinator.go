// Package coordinator owns one discovery worker process and the
// request/response mailbox used to talk to it.
package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

var (
	ErrNotLaunched      = errors.New("worker not launched")
	ErrAlreadyLaunched  = errors.New("worker already launched")
	ErrRequestInFlight  = errors.New("a request is already in flight")
	ErrConnectionLost   = errors.New("connection to worker lost")
	ErrCoordinatorClose = errors.New("coordinator closed")
)

const closeGrace = 2 * time.Second

type Options struct {
	Launcher       Launcher
	Logger         *logging.Logger
	Arch           plugin.Arch
	ExpectedSHA256 string
}

type Coordinator struct {
	id       string
	launcher Launcher
	logger   *logging.Logger
	arch     plugin.Arch
	checksum string

	proc       *Process
	writer     *ipc.Writer
	readerDone chan struct{}
	stderrDone chan struct{}

	mu             sync.Mutex
	cond           *sync.Cond
	launched       bool
	closed         bool
	nextID         uint64
	pendingID      uint64
	gotResult      bool
	connectionLost bool
	descriptors    []plugin.Descriptor
}

func New(opts Options) *Coordinator {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = ExecLauncher{Logger: opts.Logger}
	}
	arch := opts.Arch
	if arch == "" {
		arch = plugin.Arch64
	}
	id := uuid.NewString()
	c := &Coordinator{
		id:       id,
		launcher: launcher,
		logger:   opts.Logger.With(logging.Field{Key: "coordinator", Value: id}),
		arch:     arch,
		checksum: opts.ExpectedSHA256,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Coordinator) ID() string {
	return c.id
}

// Launch starts the worker for one protocol. A failed launch is final for
// this coordinator.
func (c *Coordinator) Launch(ctx context.Context, executable, protocolToken string) error {
	c.mu.Lock()
	if c.launched {
		c.mu.Unlock()
		return ErrAlreadyLaunched
	}
	c.launched = true
	c.mu.Unlock()

	fail := func(err error) error {
		c.handleConnectionLost()
		return err
	}
	if err := VerifyExecutable(executable, c.checksum); err != nil {
		return fail(err)
	}
	proc, err := c.launcher.Start(ctx, Command{
		Path: executable,
		Args: []string{c.id, protocolToken, string(c.arch)},
	})
	if err != nil {
		return fail(fmt.Errorf("launch worker: %w", err))
	}

	c.proc = proc
	c.writer = ipc.NewWriter(proc.Stdin)
	c.readerDone = make(chan struct{})
	c.stderrDone = make(chan struct{})
	go c.readLoop(proc.Stdout)
	go c.streamStderr(proc.Stderr)

	c.logger.Debug("worker launched",
		logging.Field{Key: "path", Value: executable},
		logging.Field{Key: "protocol", Value: protocolToken})
	return nil
}

// SendRequest writes one scan request. Only one request may be outstanding;
// the next one is accepted after GetResponse has returned.
func (c *Coordinator) SendRequest(req ipc.ScanRequest) error {
	c.mu.Lock()
	switch {
	case !c.launched || c.writer == nil:
		c.mu.Unlock()
		return ErrNotLaunched
	case c.closed:
		c.mu.Unlock()
		return ErrCoordinatorClose
	case c.connectionLost:
		c.mu.Unlock()
		return ErrConnectionLost
	case c.pendingID != 0:
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	c.nextID++
	id := c.nextID
	c.pendingID = id
	c.gotResult = false
	c.descriptors = nil
	c.mu.Unlock()

	err := c.writer.Write(ipc.Envelope{
		Coordinator: c.id,
		ID:          id,
		Kind:        ipc.KindScan,
		Protocol:    req.Protocol.Token(),
		Target:      req.Target,
	})
	if err != nil {
		c.handleConnectionLost()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// GetResponse blocks until the worker answers, the connection drops, or the
// timeout elapses. It never blocks longer than timeout.
func (c *Coordinator) GetResponse(timeout time.Duration) ipc.ScanResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := timeout <= 0
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		expired = true
		c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer timer.Stop()

	for !c.gotResult && !c.connectionLost && !expired {
		c.cond.Wait()
	}

	// Whatever happened, the outstanding request is settled. A late answer
	// carries the old id and is dropped.
	c.pendingID = 0
	switch {
	case c.gotResult:
		descs := c.descriptors
		c.gotResult = false
		c.descriptors = nil
		return ipc.ScanResponse{State: ipc.StateGotResult, Descriptors: descs}
	case c.connectionLost:
		return ipc.ScanResponse{State: ipc.StateConnectionLost}
	default:
		return ipc.ScanResponse{State: ipc.StateTimeout}
	}
}

func (c *Coordinator) ConnectionLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionLost
}

// Close asks the worker to quit, kills it if it does not, and reaps it.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		c.handleConnectionLost()
		return nil
	}

	var result *multierror.Error
	_ = c.writer.Write(ipc.Envelope{Coordinator: c.id, Kind: ipc.KindQuit})
	if err := proc.Stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		result = multierror.Append(result, fmt.Errorf("close worker stdin: %w", err))
	}

	select {
	case <-c.readerDone:
	case <-time.After(closeGrace):
		c.logger.Warn("worker did not quit, killing it")
		if err := proc.Kill(); err != nil {
			result = multierror.Append(result, fmt.Errorf("kill worker: %w", err))
		}
		<-c.readerDone
	}
	<-c.stderrDone
	// The exit status of a worker we told to quit or killed is not interesting.
	_ = proc.Wait()

	c.handleConnectionLost()
	return result.ErrorOrNil()
}

// Kill stops the worker immediately; used when a request hangs.
func (c *Coordinator) Kill() error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill worker: %w", err)
	}
	return c.Close()
}

func (c *Coordinator) readLoop(stdout io.Reader) {
	defer close(c.readerDone)
	defer c.handleConnectionLost()

	reader := ipc.NewReader(stdout)
	for {
		env, err := reader.Next()
		if err != nil {
			var decodeErr *ipc.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("ignoring malformed worker message", logging.Field{Key: "error", Value: err})
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("worker stream closed", logging.Field{Key: "error", Value: err})
			}
			return
		}
		if env.Coordinator != c.id {
			c.logger.Warn("ignoring message for another coordinator", logging.Field{Key: "from", Value: env.Coordinator})
			continue
		}
		switch env.Kind {
		case ipc.KindHello:
			c.logger.Debug("worker ready")
		case ipc.KindResult:
			c.handleMessageFromWorker(env)
		default:
			c.logger.Debug("ignoring worker message", logging.Field{Key: "kind", Value: string(env.Kind)})
		}
	}
}

// handleMessageFromWorker stores the descriptors of a result and wakes the
// waiter. A payload that cannot be parsed counts as an empty result.
func (c *Coordinator) handleMessageFromWorker(env ipc.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling worker message", logging.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	descs, err := ipc.ParsePayload(env.Payload)
	if err != nil && !errors.Is(err, ipc.ErrNoPlugins) {
		c.logger.Debug("worker found no plugins", logging.Field{Key: "reason", Value: err})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingID == 0 || env.ID != c.pendingID || c.gotResult {
		c.logger.Debug("dropping stale worker result", logging.Field{Key: "id", Value: int(env.ID)})
		return
	}
	c.descriptors = descs
	c.gotResult = true
	c.cond.Broadcast()
}

func (c *Coordinator) handleConnectionLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectionLost {
		return
	}
	c.connectionLost = true
	c.cond.Broadcast()
}

func (c *Coordinator) streamStderr(stderr io.Reader) {
	defer close(c.stderrDone)
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debug(scanner.Text(), logging.Field{Key: "stream", Value: "worker"})
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("streaming worker logs failed", logging.Field{Key: "error", Value: err})
	}
}
