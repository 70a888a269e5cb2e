package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ipsix/plugscan/internal/plugin"
)

const (
	DefaultConfigPath = "~/.config/plugscan/config.yaml"

	EnvSkipScan   = "PLUGSCAN_SKIP_SCAN"
	EnvWorkerPath = "PLUGSCAN_WORKER_PATH"
	EnvAPIToken   = "PLUGSCAN_API_TOKEN"
	EnvLogLevel   = "PLUGSCAN_LOG_LEVEL"
)

type Config struct {
	Log      LogConfig      `yaml:"log" json:"log"`
	Worker   WorkerConfig   `yaml:"worker" json:"worker"`
	Scan     ScanConfig     `yaml:"scan" json:"scan"`
	Catalog  CatalogConfig  `yaml:"catalog" json:"catalog"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	API      APIConfig      `yaml:"api" json:"api"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
}

type LogConfig struct {
	Level           string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format          string `yaml:"format" json:"format" validate:"oneof=json text"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"omitempty,duration"`
}

type WorkerConfig struct {
	Path           string `yaml:"path" json:"path"`
	Timeout        string `yaml:"timeout" json:"timeout" validate:"omitempty,duration"`
	TimeoutRetries int    `yaml:"timeout_retries" json:"timeout_retries" validate:"gte=0,lte=3"`
	ExpectedSHA256 string `yaml:"expected_sha256" json:"expected_sha256" validate:"omitempty,len=64,hexadecimal"`
	DiscoveryTool  string `yaml:"discovery_tool" json:"discovery_tool"`
}

type ScanConfig struct {
	Skip      bool                `yaml:"skip" json:"skip"`
	TestMode  bool                `yaml:"test_mode" json:"test_mode"`
	Protocols []string            `yaml:"protocols" json:"protocols" validate:"dive,protocol"`
	Paths     map[string][]string `yaml:"paths" json:"paths" validate:"dive,keys,protocol,endkeys"`
	Ignore    []string            `yaml:"ignore" json:"ignore"`
}

type CatalogConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=file badger"`
	Path    string `yaml:"path" json:"path" validate:"required"`
}

type StorageConfig struct {
	DBPath              string `yaml:"db_path" json:"db_path"`
	RetentionDays       int    `yaml:"retention_days" json:"retention_days" validate:"gte=0"`
	EncryptionKeyBase64 string `yaml:"encryption_key_base64" json:"encryption_key_base64" validate:"omitempty,base64"`
}

type ScheduleConfig struct {
	Rescan     string `yaml:"rescan" json:"rescan" validate:"omitempty,cronspec"`
	RunOnStart bool   `yaml:"run_on_start" json:"run_on_start"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	BindAddr  string `yaml:"bind_addr" json:"bind_addr" validate:"required_if=Enabled true"`
	ReadOnly  bool   `yaml:"read_only" json:"read_only"`
	AuthToken string `yaml:"auth_token" json:"auth_token" validate:"required_if=Enabled true"`
}

type NotifyConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	DedupWindow string                `yaml:"dedup_window" json:"dedup_window" validate:"omitempty,duration"`
	Channels    []NotifyChannelConfig `yaml:"channels" json:"channels" validate:"dive"`
}

type NotifyChannelConfig struct {
	Type     string   `yaml:"type" json:"type" validate:"oneof=log webhook"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Severity []string `yaml:"severity" json:"severity" validate:"dive,oneof=info warning error"`
	URL      string   `yaml:"url" json:"url" validate:"omitempty,url"`
}

func Default() Config {
	return Config{
		Log: LogConfig{
			Level:           "info",
			Format:          "text",
			ShutdownTimeout: "10s",
		},
		Worker: WorkerConfig{
			Timeout:        "8s",
			TimeoutRetries: 1,
		},
		Scan: ScanConfig{
			Paths: map[string][]string{},
		},
		Catalog: CatalogConfig{
			Backend: "file",
			Path:    "~/.local/share/plugscan/catalog.json",
		},
		Storage: StorageConfig{
			RetentionDays: 30,
		},
		API: APIConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1:8789",
			ReadOnly: true,
		},
		Notify: NotifyConfig{
			Enabled:     false,
			DedupWindow: "1h",
			Channels: []NotifyChannelConfig{
				{Type: "log", Enabled: true},
			},
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file at the
// default location is not an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("expand config path: %w", err)
	}

	cfg := Default()

	raw, err := os.ReadFile(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", expanded, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
	cronParser    = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := time.ParseDuration(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("protocol", func(fl validator.FieldLevel) bool {
			p, err := plugin.ParseProtocol(fl.Field().String())
			return err == nil && p.Valid()
		})
		_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
			_, err := cronParser.Parse(fl.Field().String())
			return err == nil
		})
		validateInst = v
	})
	return validateInst
}

func (c Config) Validate() error {
	var result *multierror.Error

	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			result = multierror.Append(result, fmt.Errorf("%s fails %q", fieldName(fe.Namespace()), fe.Tag()))
		}
	}

	if c.Storage.DBPath != "" && !isAbsOrHome(c.Storage.DBPath) {
		result = multierror.Append(result, errors.New("storage.db_path must be an absolute path"))
	}
	if c.Catalog.Backend == "badger" && c.Storage.DBPath == "" {
		result = multierror.Append(result, errors.New("storage.db_path is required when catalog.backend is badger"))
	}
	for i, ch := range c.Notify.Channels {
		if ch.Type == "webhook" && ch.URL == "" {
			result = multierror.Append(result, fmt.Errorf("notify.channels[%d].url is required for webhook channels", i))
		}
	}
	for i, pattern := range c.Scan.Ignore {
		if strings.TrimSpace(pattern) == "" {
			result = multierror.Append(result, fmt.Errorf("scan.ignore[%d] is empty", i))
		}
	}

	return result.ErrorOrNil()
}

func fieldName(namespace string) string {
	_, rest, ok := strings.Cut(namespace, ".")
	if !ok {
		return namespace
	}
	return rest
}

func isAbsOrHome(path string) bool {
	return filepath.IsAbs(path) || strings.HasPrefix(path, "~")
}

func (l LogConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOr(l.ShutdownTimeout, 10*time.Second)
}

func (w WorkerConfig) TimeoutDuration() time.Duration {
	return durationOr(w.Timeout, 0)
}

func (n NotifyConfig) DedupWindowDuration() time.Duration {
	return durationOr(n.DedupWindow, 0)
}

func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// EnabledProtocols parses scan.protocols; empty means every supported one.
func (s ScanConfig) EnabledProtocols() ([]plugin.Protocol, error) {
	out := make([]plugin.Protocol, 0, len(s.Protocols))
	for _, name := range s.Protocols {
		p, err := plugin.ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SearchPaths parses scan.paths into per-protocol lists.
func (s ScanConfig) SearchPaths() (map[plugin.Protocol][]string, error) {
	out := make(map[plugin.Protocol][]string, len(s.Paths))
	for name, paths := range s.Paths {
		p, err := plugin.ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		out[p] = append(out[p], paths...)
	}
	return out, nil
}

// ExpandPath resolves a leading ~ in a configured path.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

func (c Config) Redacted() Config {
	clone := c
	if clone.API.AuthToken != "" {
		clone.API.AuthToken = "REDACTED"
	}
	if clone.Storage.EncryptionKeyBase64 != "" {
		clone.Storage.EncryptionKeyBase64 = "REDACTED"
	}
	if len(clone.Notify.Channels) > 0 {
		channels := make([]NotifyChannelConfig, len(clone.Notify.Channels))
		copy(channels, clone.Notify.Channels)
		for i := range channels {
			if channels[i].URL != "" {
				channels[i].URL = "REDACTED"
			}
		}
		clone.Notify.Channels = channels
	}
	return clone
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv(EnvSkipScan); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Scan.Skip = parsed
		}
	}
	if v, ok := os.LookupEnv(EnvWorkerPath); ok && v != "" {
		cfg.Worker.Path = v
	}
	if v, ok := os.LookupEnv(EnvAPIToken); ok && v != "" {
		cfg.API.AuthToken = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}
