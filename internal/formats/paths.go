package formats

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/ipsix/plugscan/internal/plugin"
)

type PathsProvider interface {
	SearchPaths(protocol plugin.Protocol) []string
}

// ConfigPaths resolves search paths from configuration, falling back to the
// conventional per-OS locations. In test mode only the <PROTOCOL>_PATH
// environment variables are consulted.
type ConfigPaths struct {
	Configured map[plugin.Protocol][]string
	TestMode   bool
	GOOS       string
	LookupEnv  func(string) (string, bool)
}

func NewConfigPaths(configured map[plugin.Protocol][]string, testMode bool) *ConfigPaths {
	return &ConfigPaths{
		Configured: configured,
		TestMode:   testMode,
		GOOS:       runtime.GOOS,
		LookupEnv:  os.LookupEnv,
	}
}

// EnvVar is the variable consulted in test mode, e.g. LV2_PATH.
func EnvVar(protocol plugin.Protocol) string {
	return strings.ToUpper(protocol.Token()) + "_PATH"
}

func (p *ConfigPaths) SearchPaths(protocol plugin.Protocol) []string {
	var raw []string
	switch {
	case p.TestMode:
		raw = []string{"${" + EnvVar(protocol) + "}"}
	case len(p.Configured[protocol]) > 0:
		raw = p.Configured[protocol]
	default:
		raw = DefaultPaths(protocol, p.goos())
	}
	return p.expand(raw)
}

func (p *ConfigPaths) goos() string {
	if p.GOOS == "" {
		return runtime.GOOS
	}
	return p.GOOS
}

// expand substitutes ${VAR}, splits on the list separator (a variable may
// hold several directories), expands ~ and drops duplicates.
func (p *ConfigPaths) expand(raw []string) []string {
	lookup := p.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	mapping := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	seen := make(map[string]struct{})
	var out []string
	for _, entry := range raw {
		for _, part := range filepath.SplitList(os.Expand(entry, mapping)) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if expanded, err := homedir.Expand(part); err == nil {
				part = expanded
			}
			part = filepath.Clean(part)
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

// DefaultPaths are used when nothing is configured for a protocol.
func DefaultPaths(protocol plugin.Protocol, goos string) []string {
	switch goos {
	case "windows":
		return windowsDefaults[protocol]
	case "darwin":
		return darwinDefaults[protocol]
	default:
		return unixDefaults[protocol]
	}
}

var unixDefaults = map[plugin.Protocol][]string{
	plugin.ProtocolLV2:    {"~/.lv2", "/usr/lib/lv2", "/usr/local/lib/lv2", "/usr/lib64/lv2", "/usr/local/lib64/lv2"},
	plugin.ProtocolVST:    {"~/.vst", "/usr/lib/vst", "/usr/local/lib/vst", "/usr/lib64/vst", "/usr/local/lib64/vst"},
	plugin.ProtocolVST3:   {"~/.vst3", "/usr/lib/vst3", "/usr/local/lib/vst3", "/usr/lib64/vst3", "/usr/local/lib64/vst3"},
	plugin.ProtocolDSSI:   {"~/.dssi", "/usr/lib/dssi", "/usr/local/lib/dssi", "/usr/lib64/dssi", "/usr/local/lib64/dssi"},
	plugin.ProtocolLADSPA: {"/usr/lib/ladspa", "/usr/local/lib/ladspa", "/usr/lib64/ladspa", "/usr/local/lib64/ladspa"},
	plugin.ProtocolCLAP:   {"~/.clap", "/usr/lib/clap", "/usr/local/lib/clap", "/usr/lib64/clap", "/usr/local/lib64/clap"},
}

var darwinDefaults = map[plugin.Protocol][]string{
	plugin.ProtocolLV2:  {"/Library/Audio/Plug-ins/LV2"},
	plugin.ProtocolVST:  {"/Library/Audio/Plug-ins/VST"},
	plugin.ProtocolVST3: {"/Library/Audio/Plug-ins/VST3"},
	plugin.ProtocolCLAP: {"/Library/Audio/Plug-ins/CLAP"},
	plugin.ProtocolAU:   {"/Library/Audio/Plug-ins/Components", "~/Library/Audio/Plug-ins/Components"},
}

var windowsDefaults = map[plugin.Protocol][]string{
	plugin.ProtocolLV2: {`C:\Program Files\Common Files\LV2`},
	plugin.ProtocolVST: {
		`C:\Program Files\Common Files\VST2`,
		`C:\Program Files\VSTPlugins`,
		`C:\Program Files\Steinberg\VSTPlugins`,
		`C:\Program Files\Common Files\Steinberg\VST2`,
	},
	plugin.ProtocolVST3: {`C:\Program Files\Common Files\VST3`},
	plugin.ProtocolCLAP: {`C:\Program Files\Common Files\CLAP`, `C:\Program Files (x86)\Common Files\CLAP`},
}

// FindPluginFromRelPath returns the first search path under which rel exists.
func FindPluginFromRelPath(provider PathsProvider, protocol plugin.Protocol, rel string) (string, bool) {
	for _, root := range provider.SearchPaths(protocol) {
		full := filepath.Join(root, rel)
		if _, err := os.Stat(full); err == nil {
			return full, true
		}
	}
	return "", false
}

// StaticPaths serves a fixed set of paths; handy for tests and one-off scans.
type StaticPaths map[plugin.Protocol][]string

func (s StaticPaths) SearchPaths(protocol plugin.Protocol) []string {
	return s[protocol]
}
