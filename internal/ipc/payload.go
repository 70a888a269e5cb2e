package ipc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ipsix/plugscan/internal/plugin"
)

const (
	payloadPrefix = "carla-discovery::"
	blockInit     = "carla-discovery::init::-----------"
	blockEnd      = "carla-discovery::end::------------"
)

// Hint bits shared with the external discovery tool.
const (
	HintIsBridge    = 0x001
	HintIsRTSafe    = 0x002
	HintIsSynth     = 0x004
	HintHasCustomUI = 0x008
)

// ErrNoPlugins is returned by ParsePayload for an empty payload.
var ErrNoPlugins = errors.New("no plugins in payload")

// WorkerError is an error reported by the worker inside the payload.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker reported: " + e.Message
}

// EncodePayload renders descriptors as discovery text blocks.
func EncodePayload(descs []plugin.Descriptor) string {
	var b strings.Builder
	for _, d := range descs {
		hints := 0
		if d.Category == plugin.CategoryInstrument {
			hints |= HintIsSynth
		}
		if d.HasCustomUI {
			hints |= HintHasCustomUI
		}
		b.WriteString(blockInit + "\n")
		writeKV(&b, "name", d.Name)
		writeKV(&b, "maker", d.Author)
		writeKV(&b, "label", d.URI)
		writeKV(&b, "path", d.Path)
		writeKV(&b, "arch", string(d.Arch))
		writeKV(&b, "category", d.Category.DiscoveryToken())
		writeKV(&b, "uniqueId", strconv.FormatInt(d.UniqueID, 10))
		writeKV(&b, "hints", strconv.Itoa(hints))
		writeKV(&b, "audio.ins", strconv.Itoa(d.AudioIns))
		writeKV(&b, "audio.outs", strconv.Itoa(d.AudioOuts))
		writeKV(&b, "midi.ins", strconv.Itoa(d.MidiIns))
		writeKV(&b, "midi.outs", strconv.Itoa(d.MidiOuts))
		writeKV(&b, "cv.ins", strconv.Itoa(d.CVIns))
		writeKV(&b, "cv.outs", strconv.Itoa(d.CVOuts))
		writeKV(&b, "parameters.ins", strconv.Itoa(d.ControlIns))
		writeKV(&b, "parameters.outs", strconv.Itoa(d.ControlOuts))
		b.WriteString(blockEnd + "\n")
	}
	return b.String()
}

// EncodeError renders a worker-side failure.
func EncodeError(err error) string {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return payloadPrefix + "error::" + msg + "\n"
}

func writeKV(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	value = strings.ReplaceAll(value, "\n", " ")
	fmt.Fprintf(b, "%s%s::%s\n", payloadPrefix, key, value)
}

// ParsePayload extracts descriptors from discovery text. An error means the
// payload carried nothing usable; callers treat that as "no plugin found".
// Blocks without a name are skipped, unknown keys and non-discovery lines are
// ignored.
func ParsePayload(payload string) ([]plugin.Descriptor, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrNoPlugins
	}

	var (
		out     []plugin.Descriptor
		cur     *plugin.Descriptor
		hints   int
		hasCat  bool
		skipped int
	)
	finish := func() {
		if cur == nil {
			return
		}
		if cur.Name == "" {
			skipped++
		} else {
			if !hasCat && hints&HintIsSynth != 0 {
				cur.Category = plugin.CategoryInstrument
			}
			cur.HasCustomUI = hints&HintHasCustomUI != 0
			out = append(out, *cur)
		}
		cur, hints, hasCat = nil, 0, false
	}

	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, payloadPrefix) {
			continue
		}
		switch {
		case strings.HasPrefix(line, blockInit[:len(payloadPrefix)+len("init::")]):
			finish()
			cur = &plugin.Descriptor{}
			continue
		case strings.HasPrefix(line, blockEnd[:len(payloadPrefix)+len("end::")]):
			finish()
			continue
		}

		key, value, ok := strings.Cut(strings.TrimPrefix(line, payloadPrefix), "::")
		if !ok {
			continue
		}
		if key == "error" {
			return nil, &WorkerError{Message: value}
		}
		if cur == nil {
			continue
		}
		switch key {
		case "name":
			cur.Name = value
		case "maker":
			cur.Author = value
		case "label":
			cur.URI = value
		case "path":
			cur.Path = value
		case "arch":
			cur.Arch = plugin.Arch(value)
		case "category":
			cur.Category = plugin.ParseCategory(value)
			hasCat = true
		case "uniqueId":
			cur.UniqueID, _ = strconv.ParseInt(value, 10, 64)
		case "hints":
			hints = atoi(value)
		case "audio.ins":
			cur.AudioIns = atoi(value)
		case "audio.outs":
			cur.AudioOuts = atoi(value)
		case "midi.ins":
			cur.MidiIns = atoi(value)
		case "midi.outs":
			cur.MidiOuts = atoi(value)
		case "cv.ins":
			cur.CVIns = atoi(value)
		case "cv.outs":
			cur.CVOuts = atoi(value)
		case "parameters.ins":
			cur.ControlIns = atoi(value)
		case "parameters.outs":
			cur.ControlOuts = atoi(value)
		}
	}
	finish()

	if len(out) == 0 {
		if skipped > 0 {
			return nil, fmt.Errorf("%d plugin blocks without a name", skipped)
		}
		return nil, ErrNoPlugins
	}
	return out, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
