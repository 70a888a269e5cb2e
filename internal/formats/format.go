// Package formats knows, per plugin protocol, what a candidate looks like on
// disk and where to look for candidates.
package formats

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ipsix/plugscan/internal/plugin"
)

type Format interface {
	Protocol() plugin.Protocol
	// Candidates returns every file or bundle under root that may hold
	// plugins of this format, in lexical walk order. A missing root yields
	// no candidates.
	Candidates(root string, ignore []glob.Glob) ([]string, error)
	// Supported reports whether the format can be scanned on this OS.
	Supported() bool
}

type patternFormat struct {
	protocol plugin.Protocol
	patterns []glob.Glob
	// bundles are directories that are candidates themselves and are not
	// descended into.
	bundles       []glob.Glob
	extensionless bool
	goos          []string
}

func newFormat(protocol plugin.Protocol, files, bundles []string, extensionless bool, goos ...string) *patternFormat {
	return &patternFormat{
		protocol:      protocol,
		patterns:      mustCompile(files),
		bundles:       mustCompile(bundles),
		extensionless: extensionless,
		goos:          goos,
	}
}

func mustCompile(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, glob.MustCompile(p))
	}
	return out
}

// Builtin returns one format per scannable protocol in scan order.
func Builtin() []Format {
	return []Format{
		newFormat(plugin.ProtocolLV2, nil, []string{"*.lv2"}, false),
		newFormat(plugin.ProtocolDSSI, []string{"*.{so,dylib,dll}"}, nil, false, "linux", "freebsd"),
		newFormat(plugin.ProtocolLADSPA, []string{"*.{so,dylib,dll}"}, nil, false),
		newFormat(plugin.ProtocolVST, []string{"*.{so,dll}"}, []string{"*.vst"}, false),
		newFormat(plugin.ProtocolVST3, []string{"*.vst3"}, []string{"*.vst3"}, false),
		newFormat(plugin.ProtocolAU, nil, []string{"*.component"}, false, "darwin"),
		newFormat(plugin.ProtocolSFZ, []string{"*.sfz"}, nil, false),
		newFormat(plugin.ProtocolSF2, []string{"*.{sf2,sf3}"}, nil, false),
		newFormat(plugin.ProtocolCLAP, []string{"*.clap"}, []string{"*.clap"}, false),
		newFormat(plugin.ProtocolJSFX, []string{"*.jsfx"}, nil, true),
	}
}

func (f *patternFormat) Protocol() plugin.Protocol {
	return f.protocol
}

func (f *patternFormat) Supported() bool {
	if len(f.goos) == 0 {
		return true
	}
	for _, goos := range f.goos {
		if goos == runtime.GOOS {
			return true
		}
	}
	return false
}

func (f *patternFormat) Candidates(root string, ignore []glob.Glob) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			// Unreadable subtrees are skipped, the rest of the root is not.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		name := d.Name()
		if Ignored(path, ignore) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if matchAny(f.bundles, strings.ToLower(name)) {
				out = append(out, path)
				return fs.SkipDir
			}
			if strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if matchAny(f.patterns, strings.ToLower(name)) || (f.extensionless && filepath.Ext(name) == "") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

// Ignored reports whether path matches any ignore pattern, either by base
// name or in full.
func Ignored(path string, ignore []glob.Glob) bool {
	base := filepath.Base(path)
	slashed := filepath.ToSlash(path)
	for _, g := range ignore {
		if g.Match(base) || g.Match(slashed) {
			return true
		}
	}
	return false
}

// CompileIgnore compiles ignore patterns; '/' separates path segments.
func CompileIgnore(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
