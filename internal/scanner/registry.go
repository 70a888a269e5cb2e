package scanner

import (
	"fmt"
	"sync"

	"github.com/ipsix/plugscan/internal/formats"
	"github.com/ipsix/plugscan/internal/plugin"
)

// Registry holds one Format per protocol, in registration order.
type Registry struct {
	mu      sync.RWMutex
	formats map[plugin.Protocol]formats.Format
	order   []plugin.Protocol
}

func NewRegistry() *Registry {
	return &Registry{
		formats: make(map[plugin.Protocol]formats.Format),
	}
}

// NewDefaultRegistry registers the built-in formats that are supported on
// this OS. A non-empty enabled list restricts them further.
func NewDefaultRegistry(enabled []plugin.Protocol) (*Registry, error) {
	allowed := make(map[plugin.Protocol]bool, len(enabled))
	for _, p := range enabled {
		allowed[p] = true
	}
	r := NewRegistry()
	for _, f := range formats.Builtin() {
		if !f.Supported() {
			continue
		}
		if len(allowed) > 0 && !allowed[f.Protocol()] {
			continue
		}
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(f formats.Format) error {
	if f == nil {
		return fmt.Errorf("format is nil")
	}
	protocol := f.Protocol()
	if !protocol.Valid() {
		return fmt.Errorf("format protocol %s is not scannable", protocol)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formats[protocol]; exists {
		return fmt.Errorf("format %s already registered", protocol)
	}
	r.formats[protocol] = f
	r.order = append(r.order, protocol)
	return nil
}

func (r *Registry) Get(protocol plugin.Protocol) (formats.Format, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formats[protocol]
	if !ok {
		return nil, fmt.Errorf("format %s not registered", protocol)
	}
	return f, nil
}

// List returns the formats in registration order, which is scan order.
func (r *Registry) List() []formats.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]formats.Format, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.formats[p])
	}
	return out
}

func (r *Registry) Protocols() []plugin.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]plugin.Protocol(nil), r.order...)
}
