package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/plugscan/internal/coordinator/coordinatortest"
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
)

func newScanner(t *testing.T, l *coordinatortest.Launcher, retries int) *OutOfProcessScanner {
	t.Helper()
	s := New(Options{
		WorkerPath:     "plugscan-worker",
		Timeout:        100 * time.Millisecond,
		TimeoutRetries: retries,
		Launcher:       l,
		Logger:         logging.Nop(),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFindPluginTypesFor(t *testing.T) {
	l := coordinatortest.NewLauncher(map[string]coordinatortest.Action{
		"/vst3/synth.vst3": {Descriptors: []plugin.Descriptor{
			{Name: "Synth", UniqueID: 7},
			{Name: ""},
		}},
	})
	s := newScanner(t, l, 0)
	ctx := context.Background()

	descs, outcome := s.FindPluginTypesFor(ctx, plugin.ProtocolVST3, "/vst3/synth.vst3")
	require.Equal(t, OutcomeFound, outcome)
	require.True(t, outcome.OK())
	require.Len(t, descs, 1, "nameless descriptors are dropped")
	assert.Equal(t, plugin.ProtocolVST3, descs[0].Protocol)
	assert.Equal(t, "/vst3/synth.vst3", descs[0].Path)
	assert.Equal(t, plugin.Arch64, descs[0].Arch)

	descs, outcome = s.FindPluginTypesFor(ctx, plugin.ProtocolVST3, "/vst3/nothing.vst3")
	assert.Equal(t, OutcomeEmpty, outcome)
	assert.True(t, outcome.OK())
	assert.Empty(t, descs)

	// The same worker serves both candidates.
	assert.Equal(t, 1, l.Launches())
}

func TestConnectionLostRelaunchesOnNextCall(t *testing.T) {
	l := coordinatortest.NewLauncher(map[string]coordinatortest.Action{
		"/clap/crash.clap": {Crash: true},
		"/clap/fine.clap":  {Descriptors: []plugin.Descriptor{{Name: "Fine"}}},
	})
	s := newScanner(t, l, 2)
	ctx := context.Background()

	_, outcome := s.FindPluginTypesFor(ctx, plugin.ProtocolCLAP, "/clap/crash.clap")
	assert.Equal(t, OutcomeConnectionLost, outcome)
	assert.False(t, outcome.OK())
	assert.Equal(t, 1, l.Probes(), "crashing candidates are not retried")

	descs, outcome := s.FindPluginTypesFor(ctx, plugin.ProtocolCLAP, "/clap/fine.clap")
	require.Equal(t, OutcomeFound, outcome)
	assert.Equal(t, "Fine", descs[0].Name)
	assert.Equal(t, 2, l.Launches())
}

func TestTimeoutKillsWorkerAndRetries(t *testing.T) {
	l := coordinatortest.NewLauncher(map[string]coordinatortest.Action{
		"/lv2/hang.lv2": {Hang: true},
		"/lv2/ok.lv2":   {Descriptors: []plugin.Descriptor{{Name: "Ok", URI: "urn:ok"}}},
	})
	s := newScanner(t, l, 1)
	ctx := context.Background()

	start := time.Now()
	_, outcome := s.FindPluginTypesFor(ctx, plugin.ProtocolLV2, "/lv2/hang.lv2")
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, l.Probes(), "one retry")
	assert.Equal(t, 2, l.Launches(), "hung worker replaced before the retry")

	descs, outcome := s.FindPluginTypesFor(ctx, plugin.ProtocolLV2, "/lv2/ok.lv2")
	require.Equal(t, OutcomeFound, outcome)
	assert.Equal(t, "urn:ok", descs[0].URI)
	assert.Equal(t, 3, l.Launches())
}

func TestLaunchFailure(t *testing.T) {
	l := coordinatortest.NewLauncher(nil)
	l.FailNextLaunch()
	s := newScanner(t, l, 0)

	_, outcome := s.FindPluginTypesFor(context.Background(), plugin.ProtocolSFZ, "/sfz/a.sfz")
	assert.Equal(t, OutcomeLaunchFailed, outcome)

	_, outcome = s.FindPluginTypesFor(context.Background(), plugin.ProtocolSFZ, "/sfz/a.sfz")
	assert.Equal(t, OutcomeEmpty, outcome, "next call gets a fresh worker")
}

func TestRetriesAreClamped(t *testing.T) {
	s := New(Options{TimeoutRetries: 10})
	assert.Equal(t, MaxTimeoutRetries, s.opts.TimeoutRetries)
	assert.Equal(t, DefaultTimeout, s.opts.Timeout)
}

func TestRegistry(t *testing.T) {
	r, err := NewDefaultRegistry([]plugin.Protocol{plugin.ProtocolJSFX, plugin.ProtocolLV2})
	require.NoError(t, err)
	assert.Equal(t, []plugin.Protocol{plugin.ProtocolLV2, plugin.ProtocolJSFX}, r.Protocols())

	f, err := r.Get(plugin.ProtocolLV2)
	require.NoError(t, err)
	assert.Equal(t, plugin.ProtocolLV2, f.Protocol())
	assert.Error(t, r.Register(f), "duplicate protocol")

	_, err = r.Get(plugin.ProtocolVST)
	assert.Error(t, err)
	assert.Len(t, r.List(), 2)
}
