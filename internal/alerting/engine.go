// Package alerting turns scan outcomes that need attention into alerts and
// delivers them to the configured channels.
package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ipsix/plugscan/internal/logging"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	SessionID string    `json:"session_id,omitempty"`
	// Subject is the candidate path the alert is about, if any.
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason"`
}

type Channel interface {
	Name() string
	Send(alert Alert) error
}

// Engine fans alerts out to channels. An alert with the same ID as one sent
// within the throttle window is dropped.
type Engine struct {
	logger   *logging.Logger
	channels []Channel
	throttle time.Duration
	now      func() time.Time
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func New(logger *logging.Logger, throttle time.Duration) *Engine {
	if throttle <= 0 {
		throttle = time.Hour
	}
	return &Engine{
		logger:   logger,
		throttle: throttle,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

func (e *Engine) Register(channel Channel) {
	e.channels = append(e.channels, channel)
}

func (e *Engine) Send(alert Alert) {
	if alert.ID == "" {
		alert.ID = fingerprint(alert)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.now().UTC()
	}

	if e.isThrottled(alert.ID) {
		e.logger.Debug("alert throttled", logging.Field{Key: "alert_id", Value: alert.ID})
		return
	}

	for _, ch := range e.channels {
		if err := ch.Send(alert); err != nil {
			e.logger.Error("alert delivery failed",
				logging.Field{Key: "channel", Value: ch.Name()},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

func (e *Engine) isThrottled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	last, ok := e.lastSeen[id]
	if ok && now.Sub(last) < e.throttle {
		return true
	}
	e.lastSeen[id] = now
	return false
}

// fingerprint leaves out the session so the same failure on every rescan
// collapses into one alert per window.
func fingerprint(alert Alert) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", alert.Severity, alert.Subject, alert.Reason)
	return hex.EncodeToString(h.Sum(nil))
}

func severityAllowed(allow []string, sev Severity) bool {
	if len(allow) == 0 {
		return true
	}
	for _, v := range allow {
		if Severity(strings.ToLower(v)) == sev {
			return true
		}
	}
	return false
}
