package state

import (
	"testing"

	"github.com/ipsix/plugscan/internal/discovery"
)

func TestTrackerProgress(t *testing.T) {
	tr := NewTracker(2)
	tr.CurrentlyScanningPluginChanged("Surge XT")
	tr.CurrentlyScanningPluginChanged("Vital")

	p := tr.Progress()
	if !p.Scanning || p.Current != "Vital" || p.Probed != 2 {
		t.Fatalf("unexpected progress %+v", p)
	}

	tr.ScanningFinished(discovery.Summary{ID: "a"})
	if p := tr.Progress(); p.Scanning || p.Probed != 0 {
		t.Fatalf("expected progress reset after finish, got %+v", p)
	}
}

func TestTrackerHistoryLimit(t *testing.T) {
	tr := NewTracker(2)
	if _, ok := tr.Latest(); ok {
		t.Fatalf("expected no latest summary")
	}
	for _, id := range []string{"a", "b", "c"} {
		tr.ScanningFinished(discovery.Summary{ID: id})
	}
	history := tr.History()
	if len(history) != 2 || history[0].ID != "c" || history[1].ID != "b" {
		t.Fatalf("unexpected history %+v", history)
	}
	if latest, _ := tr.Latest(); latest.ID != "c" {
		t.Fatalf("expected latest c, got %s", latest.ID)
	}
}
