// Package plugin holds the catalog record for a discovered plugin and the
// enums it is classified by.
package plugin

import (
	"fmt"
	"strings"
)

type Arch string

const (
	Arch64 Arch = "native"
	Arch32 Arch = "win32"
)

// Descriptor describes one plugin found during discovery.
type Descriptor struct {
	Name        string   `json:"name"`
	Author      string   `json:"author,omitempty"`
	Category    Category `json:"category"`
	Protocol    Protocol `json:"protocol"`
	URI         string   `json:"uri,omitempty"`
	Path        string   `json:"path,omitempty"`
	UniqueID    int64    `json:"unique_id,omitempty"`
	Arch        Arch     `json:"arch,omitempty"`
	AudioIns    int      `json:"audio_ins"`
	AudioOuts   int      `json:"audio_outs"`
	MidiIns     int      `json:"midi_ins"`
	MidiOuts    int      `json:"midi_outs"`
	ControlIns  int      `json:"control_ins"`
	ControlOuts int      `json:"control_outs"`
	CVIns       int      `json:"cv_ins"`
	CVOuts      int      `json:"cv_outs"`
	HasCustomUI bool     `json:"has_custom_ui,omitempty"`
}

// Key is the identity of a plugin across scans. Two descriptors with the same
// key are the same plugin even if they were found in different files.
func (d Descriptor) Key() string {
	if d.URI != "" {
		return d.Protocol.String() + ":" + d.URI
	}
	return fmt.Sprintf("%s:%s#%d:%s", d.Protocol, d.Path, d.UniqueID, d.Name)
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor name is required")
	}
	if !d.Protocol.Valid() {
		return fmt.Errorf("descriptor %q has invalid protocol %s", d.Name, d.Protocol)
	}
	return nil
}

func (d Descriptor) IsInstrument() bool {
	if d.MidiIns == 0 || d.AudioOuts == 0 {
		return false
	}
	if d.Category == CategoryInstrument {
		return true
	}
	// Some plugins don't declare a category; a MIDI-in, audio-out plugin with
	// no audio inputs is treated as an instrument.
	return d.Category == CategoryNone && d.AudioIns == 0
}

func (d Descriptor) IsEffect() bool {
	switch d.Category {
	case CategoryNone:
		return d.AudioIns > 0 && d.AudioOuts > 0
	case CategoryInstrument, CategoryMIDI:
		return false
	default:
		return true
	}
}

func (d Descriptor) IsModulator() bool {
	if d.CVOuts == 0 {
		return false
	}
	switch d.Category {
	case CategoryNone, CategoryEnvelope, CategoryGenerator, CategoryConstant,
		CategoryOscillator, CategoryModulator, CategoryUtility, CategoryConverter,
		CategoryFunction:
		return true
	}
	return false
}

func (d Descriptor) IsMidiModifier() bool {
	if d.Category == CategoryMIDI {
		return true
	}
	return d.Category == CategoryNone && d.MidiIns > 0 && d.MidiOuts > 0 && d.Protocol != ProtocolVST
}
