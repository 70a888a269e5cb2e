package alerting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/discovery"
	"github.com/ipsix/plugscan/internal/logging"
)

type recordingChannel struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	if r.fail {
		return errTest
	}
	return nil
}

var errTest = &testError{}

type testError struct{}

func (t *testError) Error() string { return "test error" }

func TestDedupWithinWindow(t *testing.T) {
	engine := New(logging.Nop(), time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ch := &recordingChannel{}
	engine.Register(ch)

	alert := Alert{Severity: SeverityWarning, Subject: "/clap/bad.clap", Reason: "crashed"}
	engine.Send(alert)
	alert.SessionID = "another-session"
	engine.Send(alert)
	if len(ch.alerts) != 1 {
		t.Fatalf("expected duplicate alert to be throttled, got %d", len(ch.alerts))
	}

	now = now.Add(2 * time.Minute)
	engine.Send(alert)
	if len(ch.alerts) != 2 {
		t.Fatalf("expected alert after the window, got %d", len(ch.alerts))
	}
	if ch.alerts[0].ID == "" || ch.alerts[0].Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp to be filled in")
	}
}

func TestFailingChannelDoesNotStopOthers(t *testing.T) {
	engine := New(logging.Nop(), time.Minute)
	bad := &recordingChannel{fail: true}
	good := &recordingChannel{}
	engine.Register(bad)
	engine.Register(good)

	engine.Send(Alert{Severity: SeverityError, Reason: "x"})
	if len(good.alerts) != 1 {
		t.Fatalf("expected second channel to receive the alert")
	}
}

func TestWebhookChannel(t *testing.T) {
	var got atomic.Value
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.Store(payload)
		agent.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, []string{"error"})
	if err := ch.Send(Alert{Severity: SeverityInfo, Reason: "filtered"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Load() != nil {
		t.Fatalf("expected info alert to be filtered")
	}
	if err := ch.Send(Alert{Severity: SeverityError, Reason: "worker crashed", Subject: "/clap/bad.clap"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload, _ := got.Load().(webhookPayload)
	if payload.Alert.Reason != "worker crashed" || payload.Source != "plugscan" {
		t.Fatalf("unexpected webhook payload %+v", payload)
	}
	if payload.Text != "[error] worker crashed: /clap/bad.clap" {
		t.Fatalf("unexpected webhook text %q", payload.Text)
	}
	if agent.Load() != "plugscan-notify" {
		t.Fatalf("unexpected user agent %v", agent.Load())
	}
}

func TestWebhookChannelReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL, nil).Send(Alert{ID: "a1", Severity: SeverityError, Reason: "save failed"})
	if err == nil {
		t.Fatalf("expected an error for a 404 reply")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no such hook") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBuildChannels(t *testing.T) {
	channels, err := BuildChannels(config.NotifyConfig{Channels: []config.NotifyChannelConfig{
		{Type: "log", Enabled: true},
		{Type: "webhook", Enabled: false},
		{Type: "webhook", Enabled: true, URL: "http://127.0.0.1:1/hook"},
	}}, logging.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if _, err := BuildChannels(config.NotifyConfig{Channels: []config.NotifyChannelConfig{{Type: "pager", Enabled: true}}}, logging.Nop()); err == nil {
		t.Fatalf("expected error for unknown channel type")
	}
}

func TestAlertsFromSummary(t *testing.T) {
	summary := discovery.Summary{
		ID:           "s1",
		State:        discovery.StateCompleted,
		NewPlugins:   2,
		Total:        10,
		LaunchFailed: 1,
		Failed:       []string{"/vst3/a.vst3", "/vst3/b.vst3"},
	}
	alerts := Alerts(summary)
	if len(alerts) != 4 {
		t.Fatalf("expected 4 alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityError || alerts[3].Severity != SeverityInfo {
		t.Fatalf("unexpected alert order: %+v", alerts)
	}

	summary.Skipped = true
	if len(Alerts(summary)) != 0 {
		t.Fatalf("expected skipped sessions to raise nothing")
	}
}

func TestObserverSendsThroughEngine(t *testing.T) {
	engine := New(logging.Nop(), time.Minute)
	ch := &recordingChannel{}
	engine.Register(ch)

	var obs discovery.Observer = NewObserver(engine)
	obs.ScanningFinished(discovery.Summary{ID: "s1", Failed: []string{"/clap/x.clap"}})
	obs.ScanningFinished(discovery.Summary{ID: "s2", Failed: []string{"/clap/x.clap"}})
	if len(ch.alerts) != 1 {
		t.Fatalf("expected repeated failure to be deduplicated, got %d", len(ch.alerts))
	}
}
