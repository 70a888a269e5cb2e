package discovery

import (
	"time"

	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/storage"
)

type State int32

const (
	StateIdle State = iota
	StateScanning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Summary describes one finished scan session.
type Summary struct {
	ID             string            `json:"id"`
	State          State             `json:"state"`
	Skipped        bool              `json:"skipped,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Protocols      []plugin.Protocol `json:"protocols,omitempty"`
	Attempted      int               `json:"attempted"`
	CacheHits      int               `json:"cache_hits"`
	NewPlugins     int               `json:"new_plugins"`
	Blacklisted    int               `json:"blacklisted"`
	Timeouts       int               `json:"timeouts"`
	ConnectionLost int               `json:"connection_lost"`
	LaunchFailed   int               `json:"launch_failed"`
	Pruned         int               `json:"pruned"`
	Total          int               `json:"total"`
	// Failed lists candidates that timed out or took the worker down.
	Failed    []string `json:"failed,omitempty"`
	SaveError string   `json:"save_error,omitempty"`
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s Summary) Record() storage.ScanRecord {
	protocols := make([]string, 0, len(s.Protocols))
	for _, p := range s.Protocols {
		protocols = append(protocols, p.String())
	}
	return storage.ScanRecord{
		ID:             s.ID,
		State:          s.State.String(),
		Skipped:        s.Skipped,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		Duration:       s.Duration(),
		Protocols:      protocols,
		Attempted:      s.Attempted,
		CacheHits:      s.CacheHits,
		NewPlugins:     s.NewPlugins,
		Blacklisted:    s.Blacklisted,
		Timeouts:       s.Timeouts,
		ConnectionLost: s.ConnectionLost,
		LaunchFailed:   s.LaunchFailed,
		Pruned:         s.Pruned,
		Total:          s.Total,
		Failed:         append([]string(nil), s.Failed...),
	}
}
