// Package catalog is the known-plugin list: descriptors deduplicated by
// identity key, plus a record of every file that was probed so unchanged
// files are not probed again.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ipsix/plugscan/internal/plugin"
)

// FileRecord remembers what probing one candidate produced.
type FileRecord struct {
	Path     string          `json:"path"`
	Protocol plugin.Protocol `json:"protocol"`
	ModTime  int64           `json:"mod_time_ns"`
	Size     int64           `json:"size"`
	// Blacklisted files probed cleanly but hold no plugins; they are skipped
	// until they change.
	Blacklisted bool     `json:"blacklisted,omitempty"`
	Keys        []string `json:"keys,omitempty"`
	// Descriptors is what this file reported, one per key. It lets a shared
	// key fall back to another file when this one goes away.
	Descriptors []plugin.Descriptor `json:"descriptors,omitempty"`
}

func (r FileRecord) contributed(key string) (plugin.Descriptor, bool) {
	for _, d := range r.Descriptors {
		if d.Key() == key {
			return d, true
		}
	}
	return plugin.Descriptor{}, false
}

func (r FileRecord) clone() FileRecord {
	r.Keys = append([]string(nil), r.Keys...)
	r.Descriptors = append([]plugin.Descriptor(nil), r.Descriptors...)
	return r
}

func (r FileRecord) ID() string {
	return FileID(r.Protocol, r.Path)
}

// Unchanged reports whether the file on disk still matches the record.
func (r FileRecord) Unchanged(modTime, size int64) bool {
	return r.ModTime == modTime && r.Size == size
}

// FileID keys a file per protocol; one shared object can be a LADSPA and a
// DSSI candidate at the same time.
func FileID(protocol plugin.Protocol, path string) string {
	return protocol.String() + ":" + path
}

// Catalog is mutated by a single writer. Readers use Snapshot.
type Catalog struct {
	descriptors map[string]plugin.Descriptor
	files       map[string]FileRecord
	// refs counts the file records listing each key. A descriptor is dropped
	// when its last file goes away.
	refs map[string]int
}

func New() *Catalog {
	return &Catalog{
		descriptors: make(map[string]plugin.Descriptor),
		files:       make(map[string]FileRecord),
		refs:        make(map[string]int),
	}
}

// Insert adds d unless a descriptor with the same key exists. The first
// descriptor for a key wins.
func (c *Catalog) Insert(d plugin.Descriptor) (bool, error) {
	if d.Protocol == plugin.ProtocolDummy {
		return false, fmt.Errorf("refusing %q: dummy protocol", d.Name)
	}
	if err := d.Validate(); err != nil {
		return false, err
	}
	key := d.Key()
	if _, exists := c.descriptors[key]; exists {
		return false, nil
	}
	c.descriptors[key] = d
	return true, nil
}

// RecordFile stores the outcome of probing a file, replacing whatever the
// previous probe of the same file contributed. It returns how many
// descriptors were new to the catalog.
func (c *Catalog) RecordFile(rec FileRecord, descs []plugin.Descriptor) int {
	c.RemoveFile(rec.Protocol, rec.Path)

	added := 0
	keys := make([]string, 0, len(descs))
	own := make([]plugin.Descriptor, 0, len(descs))
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		ok, err := c.Insert(d)
		if err != nil {
			continue
		}
		if ok {
			added++
		}
		key := d.Key()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
			own = append(own, d)
			c.refs[key]++
		}
	}
	rec.Keys = keys
	rec.Descriptors = own
	rec.Blacklisted = len(keys) == 0
	c.files[rec.ID()] = rec
	return added
}

// RemoveFile forgets a file record and every descriptor only it provided.
// A key other files still report is handed to the first of them if the
// stored descriptor came from the removed file.
func (c *Catalog) RemoveFile(protocol plugin.Protocol, path string) int {
	id := FileID(protocol, path)
	rec, ok := c.files[id]
	if !ok {
		return 0
	}
	delete(c.files, id)

	removed := 0
	for _, key := range rec.Keys {
		c.refs[key]--
		if c.refs[key] > 0 {
			c.repoint(key, rec)
			continue
		}
		delete(c.refs, key)
		if _, ok := c.descriptors[key]; ok {
			delete(c.descriptors, key)
			removed++
		}
	}
	return removed
}

func (c *Catalog) repoint(key string, gone FileRecord) {
	stored, ok := c.descriptors[key]
	if !ok {
		return
	}
	if own, ok := gone.contributed(key); !ok || own != stored {
		return
	}
	for _, rec := range c.Files(plugin.ProtocolDummy) {
		if d, ok := rec.contributed(key); ok {
			c.descriptors[key] = d
			return
		}
	}
}

func (c *Catalog) File(protocol plugin.Protocol, path string) (FileRecord, bool) {
	rec, ok := c.files[FileID(protocol, path)]
	return rec, ok
}

// Files returns records for one protocol, or all of them for Dummy.
func (c *Catalog) Files(protocol plugin.Protocol) []FileRecord {
	out := make([]FileRecord, 0, len(c.files))
	for _, rec := range c.files {
		if protocol == plugin.ProtocolDummy || rec.Protocol == protocol {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (c *Catalog) Len() int {
	return len(c.descriptors)
}

func (c *Catalog) Clear() {
	c.descriptors = make(map[string]plugin.Descriptor)
	c.files = make(map[string]FileRecord)
	c.refs = make(map[string]int)
}

// Snapshot copies the catalog into an immutable, sorted value.
func (c *Catalog) Snapshot() *Snapshot {
	descs := make([]plugin.Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		descs = append(descs, d)
	}
	sortDescriptors(descs)

	files := c.Files(plugin.ProtocolDummy)
	for i := range files {
		files[i] = files[i].clone()
	}
	return newSnapshot(descs, files)
}

// Restore rebuilds a catalog from persisted state. Duplicate keys keep the
// first descriptor.
func Restore(descs []plugin.Descriptor, files []FileRecord) *Catalog {
	c := New()
	for _, d := range descs {
		_, _ = c.Insert(d)
	}
	for _, rec := range files {
		if !rec.Protocol.Valid() || rec.Path == "" {
			continue
		}
		rec = rec.clone()
		c.files[rec.ID()] = rec
		for _, key := range rec.Keys {
			c.refs[key]++
		}
	}
	return c
}

func sortDescriptors(descs []plugin.Descriptor) {
	sort.SliceStable(descs, func(i, j int) bool {
		a, b := strings.ToLower(descs[i].Name), strings.ToLower(descs[j].Name)
		if a != b {
			return a < b
		}
		return descs[i].Key() < descs[j].Key()
	})
}
