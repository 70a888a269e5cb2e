package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ipsix/plugscan/internal/ipc"
	"github.com/ipsix/plugscan/internal/plugin"
)

const DiscoveryToolEnv = "PLUGSCAN_DISCOVERY_TOOL"

var ErrNoDiscoveryTool = errors.New("no discovery tool configured")

// ToolProber runs an external discovery tool as `<tool> <protocol> <target>`
// and parses its text output.
type ToolProber struct {
	Path    string
	Timeout time.Duration
	Arch    plugin.Arch
}

func (p *ToolProber) Probe(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error) {
	if p.Path == "" {
		return nil, fmt.Errorf("%s: %w", protocol, ErrNoDiscoveryTool)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path, protocol.Token(), target) //nolint:gosec // tool path comes from config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("discovery tool on %s: %w", target, ctx.Err())
	}

	descs, err := ipc.ParsePayload(stdout.String())
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("discovery tool on %s: %w (%s)", target, runErr, firstLine(stderr.String()))
		}
		if errors.Is(err, ipc.ErrNoPlugins) {
			return nil, nil
		}
		return nil, err
	}
	for i := range descs {
		descs[i].Protocol = protocol
		if descs[i].Arch == "" {
			descs[i].Arch = p.Arch
		}
	}
	return descs, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
