package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ipsix/plugscan/internal/discovery"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards scan events to a running program.
type Observer struct {
	program Sender
}

func NewObserver(program Sender) *Observer {
	return &Observer{program: program}
}

func (o *Observer) CurrentlyScanningPluginChanged(name string) {
	o.program.Send(ScanningMsg{Name: name})
}

func (o *Observer) ScanningFinished(summary discovery.Summary) {
	o.program.Send(FinishedMsg{Summary: summary})
}
