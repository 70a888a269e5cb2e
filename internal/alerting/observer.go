package alerting

import (
	"fmt"

	"github.com/ipsix/plugscan/internal/discovery"
)

// Observer raises alerts from finished scan sessions.
type Observer struct {
	engine *Engine
}

func NewObserver(engine *Engine) *Observer {
	return &Observer{engine: engine}
}

func (o *Observer) CurrentlyScanningPluginChanged(string) {}

func (o *Observer) ScanningFinished(s discovery.Summary) {
	for _, alert := range Alerts(s) {
		o.engine.Send(alert)
	}
}

// Alerts lists what in a summary deserves attention. Skipped sessions raise
// nothing.
func Alerts(s discovery.Summary) []Alert {
	if s.Skipped {
		return nil
	}
	var out []Alert
	if s.LaunchFailed > 0 {
		out = append(out, Alert{
			Severity:  SeverityError,
			SessionID: s.ID,
			Reason:    fmt.Sprintf("scan worker could not be launched for %d candidates", s.LaunchFailed),
		})
	}
	if s.SaveError != "" {
		out = append(out, Alert{
			Severity:  SeverityError,
			SessionID: s.ID,
			Reason:    "saving the plugin catalog failed: " + s.SaveError,
		})
	}
	for _, path := range s.Failed {
		out = append(out, Alert{
			Severity:  SeverityWarning,
			SessionID: s.ID,
			Subject:   path,
			Reason:    "plugin timed out or crashed the scan worker",
		})
	}
	if s.NewPlugins > 0 {
		out = append(out, Alert{
			Severity:  SeverityInfo,
			SessionID: s.ID,
			Reason:    fmt.Sprintf("%d new plugins found, %d in catalog", s.NewPlugins, s.Total),
		})
	}
	return out
}
