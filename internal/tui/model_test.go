package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/discovery"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(Model)
	require.True(t, ok)
	return next, cmd
}

func TestModelInitReturnsTick(t *testing.T) {
	require.NotNil(t, NewModel(nil).Init())
}

func TestModelTracksScanning(t *testing.T) {
	m := NewModel(nil)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		m, _ = update(t, m, ScanningMsg{Name: name})
	}
	require.Equal(t, 7, m.Probed())
	require.Equal(t, "g", m.current)
	require.Equal(t, []string{"b", "c", "d", "e", "f"}, m.recent)
	require.Contains(t, m.View(), "7 probed")
}

func TestModelFinishQuits(t *testing.T) {
	m := NewModel(nil)
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m, cmd := update(t, m, FinishedMsg{Summary: discovery.Summary{
		State:      discovery.StateCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Total:      42,
		NewPlugins: 2,
		Timeouts:   1,
		Failed:     []string{"/vst3/slow.vst3"},
	}})
	require.True(t, m.IsFinished())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	view := m.View()
	require.Contains(t, view, "42 plugins in catalog, 2 new")
	require.Contains(t, view, "/vst3/slow.vst3")
}

func TestCtrlCCancelsOnce(t *testing.T) {
	calls := 0
	m := NewModel(func() { calls++ })
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.True(t, m.Cancelled())
	require.Equal(t, 1, calls)
	require.Contains(t, m.View(), "cancelling")
}

type sendRecorder struct {
	msgs []tea.Msg
}

func (s *sendRecorder) Send(msg tea.Msg) { s.msgs = append(s.msgs, msg) }

func TestObserverForwards(t *testing.T) {
	rec := &sendRecorder{}
	var obs discovery.Observer = NewObserver(rec)
	obs.CurrentlyScanningPluginChanged("Vital")
	obs.ScanningFinished(discovery.Summary{ID: "s"})
	require.Equal(t, []tea.Msg{ScanningMsg{Name: "Vital"}, FinishedMsg{Summary: discovery.Summary{ID: "s"}}}, rec.msgs)
}

func TestSummaryViewSkipped(t *testing.T) {
	view := SummaryView(discovery.Summary{State: discovery.StateCompleted, Skipped: true})
	require.Contains(t, view, "skipped")
}
