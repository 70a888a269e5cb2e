package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ipsix/plugscan/internal/plugin"
)

type Prober interface {
	Probe(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error)
}

type ProberFunc func(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error)

func (f ProberFunc) Probe(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error) {
	return f(ctx, protocol, target)
}

// Mux routes a probe to the prober registered for its protocol.
type Mux struct {
	probers map[plugin.Protocol]Prober
}

func NewMux() *Mux {
	return &Mux{probers: make(map[plugin.Protocol]Prober)}
}

func (m *Mux) Handle(protocol plugin.Protocol, prober Prober) {
	m.probers[protocol] = prober
}

func (m *Mux) Probe(ctx context.Context, protocol plugin.Protocol, target string) ([]plugin.Descriptor, error) {
	prober, ok := m.probers[protocol]
	if !ok {
		return nil, fmt.Errorf("no prober for %s", protocol)
	}
	return prober.Probe(ctx, protocol, target)
}

type Options struct {
	// DiscoveryTool handles the binary formats. Without it those are
	// reported as unsupported.
	DiscoveryTool string
	ToolTimeout   time.Duration
	Arch          plugin.Arch
}

// NewDefaultMux wires the built-in probers plus the external discovery tool.
func NewDefaultMux(opts Options) *Mux {
	mux := NewMux()
	mux.Handle(plugin.ProtocolLV2, ProberFunc(ProbeLV2))
	mux.Handle(plugin.ProtocolJSFX, ProberFunc(ProbeJSFX))
	mux.Handle(plugin.ProtocolSFZ, ProberFunc(ProbeSFZ))
	mux.Handle(plugin.ProtocolSF2, ProberFunc(ProbeSF2))

	tool := &ToolProber{Path: opts.DiscoveryTool, Timeout: opts.ToolTimeout, Arch: opts.Arch}
	for _, protocol := range []plugin.Protocol{
		plugin.ProtocolLADSPA, plugin.ProtocolDSSI, plugin.ProtocolVST,
		plugin.ProtocolVST3, plugin.ProtocolAU, plugin.ProtocolCLAP,
	} {
		mux.Handle(protocol, tool)
	}
	return mux
}
