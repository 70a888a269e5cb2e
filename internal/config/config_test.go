package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipsix/plugscan/internal/plugin"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
}

func TestValidateAPIRequiresToken(t *testing.T) {
	cfg := Default()
	cfg.API.Enabled = true
	cfg.API.AuthToken = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for missing api.auth_token")
	}
	if !strings.Contains(err.Error(), "api.auth_token") {
		t.Fatalf("expected yaml field name in error, got: %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.API.AuthToken = "secret"
	cfg.Notify.Channels = []NotifyChannelConfig{{Type: "webhook", Enabled: true, URL: "https://hooks.example.com/abc"}}
	redacted := cfg.Redacted()
	if redacted.API.AuthToken == "secret" {
		t.Fatalf("expected auth token to be redacted")
	}
	if redacted.Notify.Channels[0].URL != "REDACTED" {
		t.Fatalf("expected webhook url to be redacted")
	}
	if cfg.Notify.Channels[0].URL == "REDACTED" {
		t.Fatalf("redaction must not touch the original")
	}
}

func TestValidateTimeoutRetries(t *testing.T) {
	cfg := Default()
	cfg.Worker.TimeoutRetries = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for timeout_retries above 3")
	}
	cfg.Worker.TimeoutRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative timeout_retries")
	}
}

func TestValidateProtocols(t *testing.T) {
	cfg := Default()
	cfg.Scan.Protocols = []string{"lv2", "CLAP"}
	cfg.Scan.Paths = map[string][]string{"vst3": {"/opt/vst3"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected protocols to validate, got: %v", err)
	}

	cfg.Scan.Protocols = []string{"dummy"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for dummy protocol")
	}

	cfg = Default()
	cfg.Scan.Paths = map[string][]string{"aax": {"/opt/aax"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown protocol in scan.paths")
	}
}

func TestValidateSchedule(t *testing.T) {
	cfg := Default()
	cfg.Schedule.Rescan = "@every 6h"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected descriptor schedule to validate, got: %v", err)
	}
	cfg.Schedule.Rescan = "0 3 * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected cron schedule to validate, got: %v", err)
	}
	cfg.Schedule.Rescan = "every day"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for bad schedule")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Catalog.Backend = "badger"
	cfg.Notify.Channels = []NotifyChannelConfig{{Type: "webhook", Enabled: true}}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"log.level", "storage.db_path", "notify.channels[0].url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestShutdownTimeoutDuration(t *testing.T) {
	cfg := Default()
	cfg.Log.ShutdownTimeout = "2s"
	if got := cfg.Log.ShutdownTimeoutDuration(); got.String() != "2s" {
		t.Fatalf("expected 2s, got %s", got)
	}
	cfg.Log.ShutdownTimeout = "invalid"
	if got := cfg.Log.ShutdownTimeoutDuration(); got <= 0 {
		t.Fatalf("expected fallback duration, got %s", got)
	}
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
log:
  level: debug
worker:
  timeout: 3s
  timeout_retries: 2
scan:
  protocols: [lv2, jsfx]
  paths:
    lv2: ["/opt/lv2", "~/lv2"]
  ignore: ["*.bak"]
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvSkipScan, "true")
	t.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env log level, got %s", cfg.Log.Level)
	}
	if !cfg.Scan.Skip {
		t.Fatalf("expected skip from env")
	}
	if cfg.Worker.TimeoutDuration().String() != "3s" || cfg.Worker.TimeoutRetries != 2 {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Catalog.Backend != "file" {
		t.Fatalf("expected defaults to survive, got %q", cfg.Catalog.Backend)
	}

	protocols, err := cfg.Scan.EnabledProtocols()
	if err != nil || len(protocols) != 2 || protocols[0] != plugin.ProtocolLV2 {
		t.Fatalf("unexpected protocols %v (%v)", protocols, err)
	}
	paths, err := cfg.Scan.SearchPaths()
	if err != nil || len(paths[plugin.ProtocolLV2]) != 2 {
		t.Fatalf("unexpected paths %v (%v)", paths, err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit config")
	}
}
