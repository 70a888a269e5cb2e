package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryStoreSaveListPrune(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	history := NewHistoryStore(store)
	if _, err := history.Latest(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty history, got %v", err)
	}

	now := time.Now().UTC()
	if err := history.Save(ScanRecord{State: "completed", NewPlugins: 3, FinishedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := history.Save(ScanRecord{State: "cancelled", FinishedAt: now}); err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := history.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].State != "cancelled" {
		t.Fatalf("expected newest first, got %s", list[0].State)
	}

	latest, err := history.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.State != "cancelled" || latest.ID == "" {
		t.Fatalf("unexpected latest record %+v", latest)
	}

	pruned, err := history.PruneOlderThan(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned record, got %d", pruned)
	}
	list, err = history.List(10)
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 record after prune, got %d", len(list))
	}
}
