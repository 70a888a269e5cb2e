// Package state keeps the in-memory view of scan progress that the API and
// the CLI report from.
package state

import (
	"sync"
	"time"

	"github.com/ipsix/plugscan/internal/discovery"
)

// Progress is what a status endpoint reports about the running session.
type Progress struct {
	Scanning  bool      `json:"scanning"`
	Current   string    `json:"current,omitempty"`
	Probed    int       `json:"probed"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Tracker observes scans and remembers the most recent summaries.
type Tracker struct {
	mu       sync.RWMutex
	progress Progress
	history  []discovery.Summary
	limit    int
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 50
	}
	return &Tracker{limit: limit}
}

func (t *Tracker) CurrentlyScanningPluginChanged(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Scanning = true
	t.progress.Current = name
	t.progress.Probed++
	t.progress.UpdatedAt = time.Now().UTC()
}

func (t *Tracker) ScanningFinished(summary discovery.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = Progress{UpdatedAt: time.Now().UTC()}
	t.history = append(t.history, summary)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}
}

func (t *Tracker) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Latest returns the newest summary.
func (t *Tracker) Latest() (discovery.Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return discovery.Summary{}, false
	}
	return t.history[len(t.history)-1], true
}

// History returns summaries newest first.
func (t *Tracker) History() []discovery.Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]discovery.Summary, 0, len(t.history))
	for i := len(t.history) - 1; i >= 0; i-- {
		out = append(out, t.history[i])
	}
	return out
}
