package catalog

import (
	"sort"

	"github.com/ipsix/plugscan/internal/plugin"
)

// Snapshot is a read-only view of the catalog at one point in time. It is
// safe to share between goroutines.
type Snapshot struct {
	descriptors []plugin.Descriptor
	byKey       map[string]int
	files       []FileRecord
}

func newSnapshot(descs []plugin.Descriptor, files []FileRecord) *Snapshot {
	byKey := make(map[string]int, len(descs))
	for i, d := range descs {
		byKey[d.Key()] = i
	}
	return &Snapshot{descriptors: descs, byKey: byKey, files: files}
}

// Empty is the snapshot of an empty catalog.
func Empty() *Snapshot {
	return newSnapshot(nil, nil)
}

func (s *Snapshot) Len() int {
	return len(s.descriptors)
}

// Descriptors returns a copy sorted by name.
func (s *Snapshot) Descriptors() []plugin.Descriptor {
	return append([]plugin.Descriptor(nil), s.descriptors...)
}

func (s *Snapshot) Files() []FileRecord {
	return append([]FileRecord(nil), s.files...)
}

func (s *Snapshot) Find(key string) (plugin.Descriptor, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return plugin.Descriptor{}, false
	}
	return s.descriptors[i], true
}

func (s *Snapshot) FindByURI(uri string) (plugin.Descriptor, bool) {
	for _, d := range s.descriptors {
		if d.URI == uri {
			return d, true
		}
	}
	return plugin.Descriptor{}, false
}

func (s *Snapshot) ByProtocol(protocol plugin.Protocol) []plugin.Descriptor {
	var out []plugin.Descriptor
	for _, d := range s.descriptors {
		if d.Protocol == protocol {
			out = append(out, d)
		}
	}
	return out
}

func (s *Snapshot) ByCategory(category plugin.Category) []plugin.Descriptor {
	var out []plugin.Descriptor
	for _, d := range s.descriptors {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

func (s *Snapshot) Instruments() []plugin.Descriptor {
	var out []plugin.Descriptor
	for _, d := range s.descriptors {
		if d.IsInstrument() {
			out = append(out, d)
		}
	}
	return out
}

// PickInstrument returns a default instrument, preferring LV2 ones.
func (s *Snapshot) PickInstrument() (plugin.Descriptor, bool) {
	var fallback *plugin.Descriptor
	for i, d := range s.descriptors {
		if !d.IsInstrument() {
			continue
		}
		if d.Protocol == plugin.ProtocolLV2 {
			return d, true
		}
		if fallback == nil {
			fallback = &s.descriptors[i]
		}
	}
	if fallback == nil {
		return plugin.Descriptor{}, false
	}
	return *fallback, true
}

// Categories lists the distinct category names, sorted.
func (s *Snapshot) Categories() []string {
	return distinct(s.descriptors, func(d plugin.Descriptor) string { return d.Category.String() })
}

// Authors lists the distinct non-empty authors, sorted.
func (s *Snapshot) Authors() []string {
	return distinct(s.descriptors, func(d plugin.Descriptor) string { return d.Author })
}

func distinct(descs []plugin.Descriptor, field func(plugin.Descriptor) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, d := range descs {
		v := field(d)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Catalog returns a mutable copy.
func (s *Snapshot) Catalog() *Catalog {
	return Restore(s.descriptors, s.files)
}
