package coordinator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const (
	WorkerPathEnv  = "PLUGSCAN_WORKER_PATH"
	WorkerBaseName = "plugscan-worker"
)

// ResolveWorkerPath picks the worker executable: the environment override,
// then the configured path, then plugscan-worker next to the running binary,
// then $PATH.
func ResolveWorkerPath(configured string) (string, error) {
	if env, ok := os.LookupEnv(WorkerPathEnv); ok && env != "" {
		return env, nil
	}
	if configured != "" {
		return configured, nil
	}

	name := WorkerBaseName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if found, err := exec.LookPath(name); err == nil {
		return found, nil
	}
	return "", fmt.Errorf("worker executable %s not found; set %s", name, WorkerPathEnv)
}
