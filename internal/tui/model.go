// Package tui renders scan progress in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ipsix/plugscan/internal/discovery"
)

// ScanningMsg reports the candidate now being probed.
type ScanningMsg struct {
	Name string
}

// FinishedMsg carries the session summary and ends the program.
type FinishedMsg struct {
	Summary discovery.Summary
}

const recentLimit = 5

// Model is the bubbletea state of a foreground scan.
type Model struct {
	spinner  spinner.Model
	current  string
	recent   []string
	probed   int
	summary  *discovery.Summary
	finished bool
	// cancelled is set by Ctrl-C; the scan stops at the next candidate.
	cancelled bool
	onCancel  func()
}

// NewModel builds the model. onCancel runs once when the user presses Ctrl-C.
func NewModel(onCancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle
	return Model{spinner: s, onCancel: onCancel}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Probed() int { return m.probed }

func (m Model) IsFinished() bool { return m.finished }

func (m Model) Cancelled() bool { return m.cancelled }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ScanningMsg:
		if m.current != "" {
			m.recent = append(m.recent, m.current)
			if len(m.recent) > recentLimit {
				m.recent = m.recent[len(m.recent)-recentLimit:]
			}
		}
		m.current = msg.Name
		m.probed++
		return m, nil
	case FinishedMsg:
		summary := msg.Summary
		m.summary = &summary
		m.current = ""
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.cancelled {
			m.cancelled = true
			if m.onCancel != nil {
				m.onCancel()
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	sections := []string{titleStyle.Render("plugscan")}

	if m.summary != nil {
		sections = append(sections, SummaryView(*m.summary))
		return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
	}

	var lines []string
	for _, name := range m.recent {
		lines = append(lines, fmt.Sprintf(" %s %s", doneStyle.Render("✓"), name))
	}
	if m.current != "" {
		lines = append(lines, fmt.Sprintf(" %s %s", m.spinner.View(), m.current))
	} else {
		lines = append(lines, fmt.Sprintf(" %s looking for plugins", m.spinner.View()))
	}
	sections = append(sections, strings.Join(lines, "\n"))

	status := fmt.Sprintf("%d probed", m.probed)
	if m.cancelled {
		status += ", cancelling after the current plugin"
	}
	sections = append(sections, "", mutedStyle.Render(status))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// SummaryView renders a finished session; it is also used when stdout is not
// a terminal.
func SummaryView(s discovery.Summary) string {
	var b strings.Builder
	state := doneStyle.Render(s.State.String())
	if s.State == discovery.StateCancelled {
		state = warnStyle.Render(s.State.String())
	}
	if s.Skipped {
		state = mutedStyle.Render("skipped")
	}
	fmt.Fprintf(&b, "Scan %s in %s\n", state, s.Duration().Round(10*time.Millisecond))
	fmt.Fprintf(&b, "  %d plugins in catalog, %d new\n", s.Total, s.NewPlugins)
	fmt.Fprintf(&b, "  %d probed, %d unchanged, %d without plugins\n", s.Attempted, s.CacheHits, s.Blacklisted)
	if s.Pruned > 0 {
		fmt.Fprintf(&b, "  %d removed files forgotten\n", s.Pruned)
	}
	if failed := s.Timeouts + s.ConnectionLost + s.LaunchFailed; failed > 0 {
		fmt.Fprintf(&b, "  %s\n", failStyle.Render(fmt.Sprintf("%d failed: %d timed out, %d crashed, %d could not launch",
			failed, s.Timeouts, s.ConnectionLost, s.LaunchFailed)))
		for _, path := range s.Failed {
			fmt.Fprintf(&b, "    %s\n", path)
		}
	}
	if s.SaveError != "" {
		fmt.Fprintf(&b, "  %s\n", failStyle.Render("catalog not saved: "+s.SaveError))
	}
	return strings.TrimRight(b.String(), "\n")
}
