package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const historyBucket = "history"

// ScanRecord is the persisted summary of one finished scan session.
type ScanRecord struct {
	ID             string        `json:"id"`
	State          string        `json:"state"`
	Skipped        bool          `json:"skipped,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
	Protocols      []string      `json:"protocols,omitempty"`
	Attempted      int           `json:"attempted"`
	CacheHits      int           `json:"cache_hits"`
	NewPlugins     int           `json:"new_plugins"`
	Blacklisted    int           `json:"blacklisted"`
	Timeouts       int           `json:"timeouts"`
	ConnectionLost int           `json:"connection_lost"`
	LaunchFailed   int           `json:"launch_failed"`
	Pruned         int           `json:"pruned"`
	Total          int           `json:"total"`
	Failed         []string      `json:"failed,omitempty"`
}

type HistoryStore struct {
	store Store
}

func NewHistoryStore(store Store) *HistoryStore {
	return &HistoryStore{store: store}
}

func (h *HistoryStore) Save(rec ScanRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = randSuffix()
	}
	// Zero-padded nanoseconds keep badger's key order chronological.
	key := fmt.Sprintf("%020d-%s", rec.FinishedAt.UnixNano(), rec.ID)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode scan record: %w", err)
	}
	return h.store.Put(historyBucket, key, raw)
}

// List returns records newest first; limit <= 0 means all.
func (h *HistoryStore) List(limit int) ([]ScanRecord, error) {
	records := []ScanRecord{}
	err := h.store.ForEach(historyBucket, func(_, value []byte) error {
		var rec ScanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode scan record: %w", err)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []ScanRecord{}, nil
		}
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Latest returns ErrNotFound when no scan has been recorded.
func (h *HistoryStore) Latest() (ScanRecord, error) {
	records, err := h.List(1)
	if err != nil {
		return ScanRecord{}, err
	}
	if len(records) == 0 {
		return ScanRecord{}, ErrNotFound
	}
	return records[0], nil
}

func (h *HistoryStore) PruneOlderThan(cutoff time.Time) (int, error) {
	var stale []string
	err := h.store.ForEach(historyBucket, func(key, value []byte) error {
		var rec ScanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		if !rec.FinishedAt.IsZero() && rec.FinishedAt.Before(cutoff) {
			stale = append(stale, string(key))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := h.store.Delete(historyBucket, key); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func randSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0000"
	}
	return hex.EncodeToString(buf)
}
