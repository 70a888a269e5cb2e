package plugin

import (
	"encoding/json"
	"strings"
)

type Category int

const (
	CategoryNone Category = iota
	CategoryDelay
	CategoryReverb
	CategoryDistortion
	CategoryWaveshaper
	CategoryDynamics
	CategoryAmplifier
	CategoryCompressor
	CategoryEnvelope
	CategoryExpander
	CategoryGate
	CategoryLimiter
	CategoryFilter
	CategoryAllpassFilter
	CategoryBandpassFilter
	CategoryCombFilter
	CategoryEQ
	CategoryMultiEQ
	CategoryParaEQ
	CategoryHighpassFilter
	CategoryLowpassFilter
	CategoryGenerator
	CategoryConstant
	CategoryInstrument
	CategoryOscillator
	CategoryMIDI
	CategoryModulator
	CategoryChorus
	CategoryFlanger
	CategoryPhaser
	CategorySimulator
	CategorySimulatorReverb
	CategorySpatial
	CategorySpectral
	CategoryPitch
	CategoryUtility
	CategoryAnalyzer
	CategoryConverter
	CategoryFunction
	CategoryMixer
)

var categoryNames = map[Category]string{
	CategoryNone:            "Plugin",
	CategoryDelay:           "Delay",
	CategoryReverb:          "Reverb",
	CategoryDistortion:      "Distortion",
	CategoryWaveshaper:      "Waveshaper",
	CategoryDynamics:        "Dynamics",
	CategoryAmplifier:       "Amplifier",
	CategoryCompressor:      "Compressor",
	CategoryEnvelope:        "Envelope",
	CategoryExpander:        "Expander",
	CategoryGate:            "Gate",
	CategoryLimiter:         "Limiter",
	CategoryFilter:          "Filter",
	CategoryAllpassFilter:   "Allpass Filter",
	CategoryBandpassFilter:  "Bandpass Filter",
	CategoryCombFilter:      "Comb Filter",
	CategoryEQ:              "Equaliser",
	CategoryMultiEQ:         "Multiband EQ",
	CategoryParaEQ:          "Parametric EQ",
	CategoryHighpassFilter:  "Highpass Filter",
	CategoryLowpassFilter:   "Lowpass Filter",
	CategoryGenerator:       "Generator",
	CategoryConstant:        "Constant",
	CategoryInstrument:      "Instrument",
	CategoryOscillator:      "Oscillator",
	CategoryMIDI:            "MIDI",
	CategoryModulator:       "Modulator",
	CategoryChorus:          "Chorus",
	CategoryFlanger:         "Flanger",
	CategoryPhaser:          "Phaser",
	CategorySimulator:       "Simulator",
	CategorySimulatorReverb: "Simulator Reverb",
	CategorySpatial:         "Spatial",
	CategorySpectral:        "Spectral",
	CategoryPitch:           "Pitch",
	CategoryUtility:         "Utility",
	CategoryAnalyzer:        "Analyser",
	CategoryConverter:       "Converter",
	CategoryFunction:        "Function",
	CategoryMixer:           "Mixer",
}

// Substring rules are applied in order and the last match wins, so
// "SimulatorReverb" beats "Simulator" and "Reverb".
var categoryTerms = []struct {
	term string
	cat  Category
}{
	{"Delay", CategoryDelay},
	{"Reverb", CategoryReverb},
	{"Distortion", CategoryDistortion},
	{"Waveshaper", CategoryWaveshaper},
	{"Dynamics", CategoryDynamics},
	{"Amplifier", CategoryAmplifier},
	{"Compressor", CategoryCompressor},
	{"Envelope", CategoryEnvelope},
	{"Expander", CategoryExpander},
	{"Gate", CategoryGate},
	{"Limiter", CategoryLimiter},
	{"Filter", CategoryFilter},
	{"Allpass", CategoryAllpassFilter},
	{"Bandpass", CategoryBandpassFilter},
	{"Comb", CategoryCombFilter},
	{"Equaliser", CategoryEQ},
	{"Equalizer", CategoryEQ},
	{"Multiband", CategoryMultiEQ},
	{"Para", CategoryParaEQ},
	{"Highpass", CategoryHighpassFilter},
	{"Lowpass", CategoryLowpassFilter},
	{"Generator", CategoryGenerator},
	{"Constant", CategoryConstant},
	{"Instrument", CategoryInstrument},
	{"Oscillator", CategoryOscillator},
	{"MIDI", CategoryMIDI},
	{"Modulator", CategoryModulator},
	{"Chorus", CategoryChorus},
	{"Flanger", CategoryFlanger},
	{"Phaser", CategoryPhaser},
	{"Simulator", CategorySimulator},
	{"SimulatorReverb", CategorySimulatorReverb},
	{"Spatial", CategorySpatial},
	{"Spectral", CategorySpectral},
	{"Pitch", CategoryPitch},
	{"Utility", CategoryUtility},
	{"Analyser", CategoryAnalyzer},
	{"Analyzer", CategoryAnalyzer},
	{"Converter", CategoryConverter},
	{"Function", CategoryFunction},
	{"Mixer", CategoryMixer},
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryNone]
}

// CategoryFromString classifies free-form category text such as an LV2 class
// name ("ReverbPlugin") or a JSFX tag line.
func CategoryFromString(s string) Category {
	cat := CategoryNone
	for _, rule := range categoryTerms {
		if strings.Contains(s, rule.term) {
			cat = rule.cat
		}
	}
	return cat
}

// CategoryFromDiscovery maps the short category tokens emitted by the
// discovery tool.
func CategoryFromDiscovery(token string) Category {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "synth":
		return CategoryInstrument
	case "delay":
		return CategoryDelay
	case "eq":
		return CategoryEQ
	case "filter":
		return CategoryFilter
	case "distortion":
		return CategoryDistortion
	case "dynamics":
		return CategoryDynamics
	case "modulator":
		return CategoryModulator
	case "utility":
		return CategoryUtility
	default:
		return CategoryNone
	}
}

// DiscoveryToken is the inverse of CategoryFromDiscovery for categories that
// have a token, and the display name otherwise.
func (c Category) DiscoveryToken() string {
	switch c {
	case CategoryInstrument:
		return "synth"
	case CategoryDelay:
		return "delay"
	case CategoryEQ:
		return "eq"
	case CategoryFilter:
		return "filter"
	case CategoryDistortion:
		return "distortion"
	case CategoryDynamics:
		return "dynamics"
	case CategoryModulator:
		return "modulator"
	case CategoryUtility:
		return "utility"
	default:
		return c.String()
	}
}

// ParseCategory resolves either a discovery token or a display name.
func ParseCategory(s string) Category {
	if cat := CategoryFromDiscovery(s); cat != CategoryNone {
		return cat
	}
	for cat, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return cat
		}
	}
	return CategoryFromString(s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	*c = ParseCategory(s)
	return nil
}
