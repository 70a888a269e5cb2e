package formats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/plugin"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func byProtocol(t *testing.T, protocol plugin.Protocol) Format {
	t.Helper()
	for _, f := range Builtin() {
		if f.Protocol() == protocol {
			return f
		}
	}
	t.Fatalf("no format for %s", protocol)
	return nil
}

func TestBuiltinCoversScanOrder(t *testing.T) {
	var got []plugin.Protocol
	for _, f := range Builtin() {
		got = append(got, f.Protocol())
	}
	assert.Equal(t, plugin.ScanOrder, got)
}

func TestLV2BundlesAreNotDescended(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.lv2", "manifest.ttl"))
	touch(t, filepath.Join(root, "b.lv2", "nested.lv2", "manifest.ttl"))
	touch(t, filepath.Join(root, "a.lv2", "manifest.ttl"))
	touch(t, filepath.Join(root, "vendor", "c.lv2", "manifest.ttl"))
	touch(t, filepath.Join(root, "README"))

	got, err := byProtocol(t, plugin.ProtocolLV2).Candidates(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.lv2"),
		filepath.Join(root, "b.lv2"),
		filepath.Join(root, "vendor", "c.lv2"),
	}, got)
}

func TestFileCandidatesAndIgnore(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "amp.so"))
	touch(t, filepath.Join(root, "Reverb.DLL"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".hidden.so"))
	touch(t, filepath.Join(root, "broken", "crashy.so"))

	ignore, err := CompileIgnore([]string{"crashy*"})
	require.NoError(t, err)

	got, err := byProtocol(t, plugin.ProtocolLADSPA).Candidates(root, ignore)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "Reverb.DLL"), filepath.Join(root, "amp.so")}, got)
}

func TestJSFXAcceptsExtensionless(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Delay", "delay"))
	touch(t, filepath.Join(root, "Delay", "chorus.jsfx"))
	touch(t, filepath.Join(root, "Delay", "chorus.jsfx-inc"))

	got, err := byProtocol(t, plugin.ProtocolJSFX).Candidates(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "Delay", "chorus.jsfx"),
		filepath.Join(root, "Delay", "delay"),
	}, got)
}

func TestMissingRootHasNoCandidates(t *testing.T) {
	got, err := byProtocol(t, plugin.ProtocolSFZ).Candidates(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfigPathsExpansion(t *testing.T) {
	env := map[string]string{
		"LV2_PATH": "/opt/lv2" + string(os.PathListSeparator) + "/usr/lib/lv2",
		"EXTRA":    "/srv/plugins",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	p := &ConfigPaths{
		Configured: map[plugin.Protocol][]string{
			plugin.ProtocolLV2: {"${LV2_PATH}", "${EXTRA}/lv2", "/usr/lib/lv2"},
		},
		GOOS:      "linux",
		LookupEnv: lookup,
	}
	assert.Equal(t, []string{"/opt/lv2", "/usr/lib/lv2", "/srv/plugins/lv2"}, p.SearchPaths(plugin.ProtocolLV2))

	// Nothing configured: OS defaults.
	assert.Contains(t, p.SearchPaths(plugin.ProtocolLADSPA), "/usr/lib/ladspa")
	assert.Empty(t, p.SearchPaths(plugin.ProtocolSFZ))

	p.TestMode = true
	assert.Equal(t, []string{"/opt/lv2", "/usr/lib/lv2"}, p.SearchPaths(plugin.ProtocolLV2))
	assert.Empty(t, p.SearchPaths(plugin.ProtocolVST3), "unset variable")
}

func TestFindPluginFromRelPath(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(second, "eg-amp.lv2", "manifest.ttl"))
	provider := StaticPaths{plugin.ProtocolLV2: {first, second}}

	got, ok := FindPluginFromRelPath(provider, plugin.ProtocolLV2, "eg-amp.lv2")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(second, "eg-amp.lv2"), got)

	_, ok = FindPluginFromRelPath(provider, plugin.ProtocolLV2, "missing.lv2")
	assert.False(t, ok)
}
