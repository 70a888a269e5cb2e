package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipsix/plugscan/internal/plugin"
)

var errNotSoundFont = errors.New("not a soundfont")

// ProbeSFZ accepts any SFZ file that declares at least one region.
func ProbeSFZ(_ context.Context, _ plugin.Protocol, path string) ([]plugin.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sfz: %w", err)
	}
	if !bytes.Contains(raw, []byte("<region>")) {
		return nil, nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []plugin.Descriptor{sampleInstrument(plugin.ProtocolSFZ, path, name, 0)}, nil
}

// ProbeSF2 lists the presets of an SF2/SF3 bank, one descriptor each.
func ProbeSF2(_ context.Context, _ plugin.Protocol, path string) ([]plugin.Descriptor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open soundfont: %w", err)
	}
	defer file.Close()

	presets, err := readPresets(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]plugin.Descriptor, 0, len(presets))
	for _, p := range presets {
		out = append(out, sampleInstrument(plugin.ProtocolSF2, path, p.name, int64(p.bank)<<16|int64(p.preset)))
	}
	return out, nil
}

func sampleInstrument(protocol plugin.Protocol, path, name string, id int64) plugin.Descriptor {
	return plugin.Descriptor{
		Name:      name,
		Category:  plugin.CategoryInstrument,
		Protocol:  protocol,
		Path:      path,
		UniqueID:  id,
		Arch:      plugin.Arch64,
		MidiIns:   1,
		AudioOuts: 2,
	}
}

type sf2Preset struct {
	name   string
	preset uint16
	bank   uint16
}

const phdrRecordSize = 38

// readPresets walks the RIFF tree to the pdta/phdr chunk. The last record is
// the EOP terminator and is not a preset.
func readPresets(r io.Reader) ([]sf2Preset, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errNotSoundFont
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "sfbk" {
		return nil, errNotSoundFont
	}

	for {
		id, size, err := readChunkHeader(r)
		if err != nil {
			return nil, fmt.Errorf("no preset table: %w", err)
		}
		if id != "LIST" {
			if err := skip(r, size); err != nil {
				return nil, err
			}
			continue
		}
		var kind [4]byte
		if _, err := io.ReadFull(r, kind[:]); err != nil {
			return nil, err
		}
		if string(kind[:]) != "pdta" {
			if err := skip(r, size-4); err != nil {
				return nil, err
			}
			continue
		}
		return readPdta(io.LimitReader(r, int64(size-4)))
	}
}

func readPdta(r io.Reader) ([]sf2Preset, error) {
	for {
		id, size, err := readChunkHeader(r)
		if err != nil {
			return nil, fmt.Errorf("no phdr chunk: %w", err)
		}
		if id != "phdr" {
			if err := skip(r, size); err != nil {
				return nil, err
			}
			continue
		}
		if size%phdrRecordSize != 0 || size < phdrRecordSize {
			return nil, fmt.Errorf("malformed phdr chunk of %d bytes", size)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		count := int(size/phdrRecordSize) - 1
		presets := make([]sf2Preset, 0, count)
		for i := 0; i < count; i++ {
			rec := buf[i*phdrRecordSize : (i+1)*phdrRecordSize]
			name := string(bytes.TrimRight(rec[:20], "\x00 "))
			presets = append(presets, sf2Preset{
				name:   name,
				preset: binary.LittleEndian.Uint16(rec[20:22]),
				bank:   binary.LittleEndian.Uint16(rec[22:24]),
			})
		}
		return presets, nil
	}
}

func readChunkHeader(r io.Reader) (string, uint32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", 0, err
	}
	return string(hdr[:4]), binary.LittleEndian.Uint32(hdr[4:]), nil
}

// skip discards a chunk body including its pad byte.
func skip(r io.Reader, size uint32) error {
	n := int64(size)
	if size%2 == 1 {
		n++
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
