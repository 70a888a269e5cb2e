package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol is a plugin standard. The zero value is Dummy, which is never
// stored in a catalog.
type Protocol int

const (
	ProtocolDummy Protocol = iota
	ProtocolLV2
	ProtocolDSSI
	ProtocolLADSPA
	ProtocolVST
	ProtocolVST3
	ProtocolAU
	ProtocolSFZ
	ProtocolSF2
	ProtocolCLAP
	ProtocolJSFX
)

var protocolNames = [...]string{
	"Dummy", "LV2", "DSSI", "LADSPA", "VST", "VST3",
	"AU", "SFZ", "SF2", "CLAP", "JSFX",
}

// ScanOrder is the order protocols are scanned in.
var ScanOrder = []Protocol{
	ProtocolLV2, ProtocolDSSI, ProtocolLADSPA, ProtocolVST, ProtocolVST3,
	ProtocolAU, ProtocolSFZ, ProtocolSF2, ProtocolCLAP, ProtocolJSFX,
}

func (p Protocol) String() string {
	if p < 0 || int(p) >= len(protocolNames) {
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
	return protocolNames[p]
}

// Token is the lower-case form passed to the worker on its command line.
func (p Protocol) Token() string {
	return strings.ToLower(p.String())
}

func (p Protocol) Valid() bool {
	return p > ProtocolDummy && int(p) < len(protocolNames)
}

// ParseProtocol accepts both the display name ("VST3") and the token ("vst3").
func ParseProtocol(s string) (Protocol, error) {
	s = strings.TrimSpace(s)
	for i, name := range protocolNames {
		if strings.EqualFold(name, s) {
			return Protocol(i), nil
		}
	}
	return ProtocolDummy, fmt.Errorf("unknown plugin protocol %q", s)
}

func (p Protocol) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Protocol) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	parsed, err := ParseProtocol(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(raw []byte) error {
	parsed, err := ParseProtocol(string(raw))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
