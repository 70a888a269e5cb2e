package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ipsix/plugscan/internal/logging"
)

// Command is what a Launcher starts.
type Command struct {
	Path string
	Args []string
}

// Process is a running worker. Stderr may be nil.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Kill   func() error
	Wait   func() error
}

type Launcher interface {
	Start(ctx context.Context, cmd Command) (*Process, error)
}

// ExecLauncher runs the worker as a child process.
type ExecLauncher struct {
	Logger *logging.Logger
	// WaitDelay bounds how long Wait blocks on pipes after the process exits.
	WaitDelay time.Duration
	// Env is appended to the parent environment.
	Env []string
}

func (l ExecLauncher) Start(ctx context.Context, command Command) (*Process, error) {
	if err := checkExecutable(command.Path); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, filepath.Clean(command.Path), command.Args...) //nolint:gosec // worker path comes from config
	cmd.Cancel = func() error {
		l.Logger.Debug("killing worker because the parent context is cancelled", logging.Field{Key: "path", Value: command.Path})
		return cmd.Process.Kill()
	}
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", command.Path, err)
	}

	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Kill: func() error {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			return nil
		},
		Wait: cmd.Wait,
	}, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("worker executable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("worker executable %s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("worker executable %s is not executable", path)
	}
	return nil
}
