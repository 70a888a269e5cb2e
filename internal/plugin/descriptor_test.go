package plugin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	for _, p := range ScanOrder {
		got, err := ParseProtocol(p.Token())
		require.NoError(t, err)
		assert.Equal(t, p, got)

		got, err = ParseProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseProtocol("aax")
	require.Error(t, err)
}

func TestDescriptorKey(t *testing.T) {
	lv2 := Descriptor{Name: "Amp", Protocol: ProtocolLV2, URI: "http://lv2plug.in/plugins/eg-amp", Path: "/a/amp.lv2"}
	other := lv2
	other.Path = "/b/amp.lv2"
	assert.Equal(t, lv2.Key(), other.Key(), "same URI in two bundles is the same plugin")

	vst := Descriptor{Name: "Comp", Protocol: ProtocolVST, Path: "/vst/comp.so", UniqueID: 42}
	shell := vst
	shell.Name = "Comp Stereo"
	assert.NotEqual(t, vst.Key(), shell.Key())
}

func TestCategoryFromString(t *testing.T) {
	cases := map[string]Category{
		"ReverbPlugin":          CategoryReverb,
		"SimulatorReverbPlugin": CategorySimulatorReverb,
		"InstrumentPlugin":      CategoryInstrument,
		"ParaEQPlugin":          CategoryParaEQ,
		"Plugin":                CategoryNone,
		"Analyzer":              CategoryAnalyzer,
	}
	for in, want := range cases {
		assert.Equal(t, want, CategoryFromString(in), in)
	}
	assert.Equal(t, CategoryInstrument, CategoryFromDiscovery("synth"))
	assert.Equal(t, CategoryNone, CategoryFromDiscovery("other"))
}

func TestCategoryJSONRoundTrip(t *testing.T) {
	for cat := range categoryNames {
		raw, err := json.Marshal(cat)
		require.NoError(t, err)
		var back Category
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, cat, back, string(raw))
	}
}

func TestClassification(t *testing.T) {
	synth := Descriptor{Name: "Synth", Protocol: ProtocolLV2, Category: CategoryInstrument, MidiIns: 1, AudioOuts: 2}
	assert.True(t, synth.IsInstrument())
	assert.False(t, synth.IsEffect())

	reverb := Descriptor{Name: "Verb", Protocol: ProtocolLV2, Category: CategoryReverb, AudioIns: 2, AudioOuts: 2}
	assert.True(t, reverb.IsEffect())
	assert.False(t, reverb.IsInstrument())

	arp := Descriptor{Name: "Arp", Protocol: ProtocolLV2, MidiIns: 1, MidiOuts: 1}
	assert.True(t, arp.IsMidiModifier())
	arp.Protocol = ProtocolVST
	assert.False(t, arp.IsMidiModifier())

	lfo := Descriptor{Name: "LFO", Protocol: ProtocolLV2, Category: CategoryOscillator, CVOuts: 1}
	assert.True(t, lfo.IsModulator())
}

func TestValidate(t *testing.T) {
	require.Error(t, Descriptor{Protocol: ProtocolLV2}.Validate())
	require.Error(t, Descriptor{Name: "x"}.Validate())
	require.NoError(t, Descriptor{Name: "x", Protocol: ProtocolCLAP}.Validate())
}
