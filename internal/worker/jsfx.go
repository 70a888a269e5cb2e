package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ipsix/plugscan/internal/plugin"
)

var (
	errNotJSFX  = errors.New("not a JSFX effect: missing desc line")
	jsfxSlider  = regexp.MustCompile(`^slider\d+:`)
	jsfxSection = regexp.MustCompile(`^@(\w+)`)
)

// ProbeJSFX reads the header of a JSFX source file.
func ProbeJSFX(_ context.Context, _ plugin.Protocol, path string) ([]plugin.Descriptor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsfx: %w", err)
	}
	defer file.Close()

	desc := plugin.Descriptor{
		Protocol: plugin.ProtocolJSFX,
		Path:     path,
		URI:      "jsfx:" + filepath.ToSlash(path),
		Arch:     plugin.Arch64,
	}
	var (
		ins, outs     int
		sawIn, sawOut bool
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "desc:"):
			if desc.Name == "" {
				desc.Name = strings.TrimSpace(strings.TrimPrefix(line, "desc:"))
			}
		case strings.HasPrefix(line, "author:"):
			desc.Author = strings.TrimSpace(strings.TrimPrefix(line, "author:"))
		case strings.HasPrefix(line, "tags:"):
			desc.Category = categoryFromTags(strings.TrimPrefix(line, "tags:"))
		case strings.HasPrefix(line, "in_pin:"):
			sawIn = true
			if !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, "in_pin:")), "none") {
				ins++
			}
		case strings.HasPrefix(line, "out_pin:"):
			sawOut = true
			if !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, "out_pin:")), "none") {
				outs++
			}
		case jsfxSlider.MatchString(line):
			desc.ControlIns++
		case strings.Contains(line, "midirecv"):
			desc.MidiIns = 1
		case strings.Contains(line, "midisend"):
			desc.MidiOuts = 1
		default:
			if m := jsfxSection.FindStringSubmatch(line); m != nil && m[1] == "gfx" {
				desc.HasCustomUI = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsfx: %w", err)
	}
	if desc.Name == "" {
		return nil, errNotJSFX
	}

	// Effects without pin declarations default to stereo.
	if !sawIn {
		ins = 2
	}
	if !sawOut {
		outs = 2
	}
	desc.AudioIns, desc.AudioOuts = ins, outs
	if desc.Category == plugin.CategoryNone && desc.MidiIns > 0 && desc.AudioIns == 0 {
		desc.Category = plugin.CategoryInstrument
	}
	return []plugin.Descriptor{desc}, nil
}

func categoryFromTags(tags string) plugin.Category {
	for _, tag := range strings.Fields(tags) {
		tag = strings.ToLower(tag)
		if tag == "synth" || tag == "synthesis" || tag == "instrument" {
			return plugin.CategoryInstrument
		}
		if cat := plugin.CategoryFromString(strings.ToUpper(tag[:1]) + tag[1:]); cat != plugin.CategoryNone {
			return cat
		}
	}
	return plugin.CategoryNone
}
