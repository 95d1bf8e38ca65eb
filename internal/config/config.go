// SPDX-License-Identifier: MIT

// Package config loads service settings with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the fully resolved service configuration.
type Settings struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	// TrustedProxies is a CSV of CIDRs allowed to set X-Forwarded-For.
	TrustedProxies string `yaml:"trusted_proxies"`

	Redis     RedisSettings     `yaml:"redis"`
	Providers ProviderSettings  `yaml:"providers"`
	Login     LoginSettings     `yaml:"login"`
	Translate TranslateSettings `yaml:"translate"`
	Activity  ActivitySettings  `yaml:"activity"`
	Telemetry TelemetrySettings `yaml:"telemetry"`

	// EncryptionKey scopes the deployment; when set, the isolation key is
	// derived from it so restarts keep the same namespace.
	EncryptionKey string `yaml:"encryption_key"`
	IsolationKey  string `yaml:"isolation_key"`
}

// RedisSettings configures the shared store. An empty Addr selects the
// filesystem store.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderSettings controls the fan-out surface.
type ProviderSettings struct {
	Enabled []string `yaml:"enabled"`

	// TimeoutMS is the per-provider search budget; clamped to 12000-30000.
	TimeoutMS int  `yaml:"timeout_ms"`
	ExcludeHI bool `yaml:"exclude_hi"`

	OpenSubtitlesAPIKey   string `yaml:"opensubtitles_api_key"`
	OpenSubtitlesUsername string `yaml:"opensubtitles_username"`
	OpenSubtitlesPassword string `yaml:"opensubtitles_password"`
	SubDLAPIKey           string `yaml:"subdl_api_key"`

	WarmupOnStart     bool          `yaml:"warmup_on_start"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

// LoginSettings tunes the distributed login coordinator.
type LoginSettings struct {
	Cooldown     time.Duration `yaml:"cooldown"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// TranslateSettings configures the translation cache and the external
// translator endpoint.
type TranslateSettings struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	BatchSize    int           `yaml:"batch_size"`
	PermanentTTL time.Duration `yaml:"permanent_ttl"`
	BypassTTL    time.Duration `yaml:"bypass_ttl"`
}

// ActivitySettings bounds the SSE bus.
type ActivitySettings struct {
	MaxListeners     int           `yaml:"max_listeners"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	MaxConnectionAge time.Duration `yaml:"max_connection_age"`
}

// TelemetrySettings selects the OTLP trace exporter.
type TelemetrySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"` // "http" or "grpc"
	Endpoint string `yaml:"endpoint"`
}

// DefaultProviders is the out-of-the-box fan-out set.
var DefaultProviders = []string{"opensubtitles-v3", "opensubtitles", "subdl", "subsource"}

// Defaults returns the baseline settings before file and env merging.
func Defaults() Settings {
	return Settings{
		ListenAddr: ":7788",
		DataDir:    "data",
		LogLevel:   "info",
		Providers: ProviderSettings{
			Enabled:           append([]string(nil), DefaultProviders...),
			TimeoutMS:         15000,
			WarmupOnStart:     true,
			KeepAliveInterval: 45 * time.Second,
		},
		Login: LoginSettings{
			Cooldown:     1100 * time.Millisecond,
			TotalTimeout: 45 * time.Second,
		},
		Translate: TranslateSettings{
			BatchSize:    20,
			PermanentTTL: 90 * 24 * time.Hour,
			BypassTTL:    7 * 24 * time.Hour,
		},
		Activity: ActivitySettings{
			MaxListeners:     4,
			Heartbeat:        40 * time.Second,
			MaxConnectionAge: time.Hour,
		},
		Telemetry: TelemetrySettings{Protocol: "http"},
	}
}

// Load resolves settings with precedence ENV > file > defaults.
// path may be empty; then only env and defaults apply.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	s.mergeEnv()
	s.clamp()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) mergeEnv() {
	s.ListenAddr = ParseString("SUBMAKER_LISTEN", s.ListenAddr)
	s.DataDir = ParseString("SUBMAKER_DATA", s.DataDir)
	s.LogLevel = ParseString("LOG_LEVEL", s.LogLevel)
	s.TrustedProxies = ParseString("SUBMAKER_TRUSTED_PROXIES", s.TrustedProxies)

	s.Redis.Addr = ParseString("SUBMAKER_REDIS_ADDR", s.Redis.Addr)
	s.Redis.Password = ParseString("SUBMAKER_REDIS_PASSWORD", s.Redis.Password)
	s.Redis.DB = ParseInt("SUBMAKER_REDIS_DB", s.Redis.DB)

	s.Providers.Enabled = ParseStringSlice("SUBMAKER_PROVIDERS", s.Providers.Enabled)
	s.Providers.TimeoutMS = ParseInt("SUBMAKER_PROVIDER_TIMEOUT_MS", s.Providers.TimeoutMS)
	s.Providers.ExcludeHI = ParseBool("SUBMAKER_EXCLUDE_HI", s.Providers.ExcludeHI)
	s.Providers.OpenSubtitlesAPIKey = ParseString("SUBMAKER_OS_API_KEY", s.Providers.OpenSubtitlesAPIKey)
	s.Providers.OpenSubtitlesUsername = ParseString("SUBMAKER_OS_USERNAME", s.Providers.OpenSubtitlesUsername)
	s.Providers.OpenSubtitlesPassword = ParseString("SUBMAKER_OS_PASSWORD", s.Providers.OpenSubtitlesPassword)
	s.Providers.SubDLAPIKey = ParseString("SUBMAKER_SUBDL_API_KEY", s.Providers.SubDLAPIKey)
	s.Providers.WarmupOnStart = ParseBool("SUBMAKER_WARMUP", s.Providers.WarmupOnStart)
	s.Providers.KeepAliveInterval = ParseDuration("SUBMAKER_KEEPALIVE_INTERVAL", s.Providers.KeepAliveInterval)

	s.Login.Cooldown = ParseDuration("SUBMAKER_LOGIN_COOLDOWN", s.Login.Cooldown)
	s.Login.TotalTimeout = ParseDuration("SUBMAKER_LOGIN_TIMEOUT", s.Login.TotalTimeout)

	s.Translate.APIKey = ParseString("SUBMAKER_AI_API_KEY", s.Translate.APIKey)
	s.Translate.BaseURL = ParseString("SUBMAKER_AI_BASE_URL", s.Translate.BaseURL)
	s.Translate.Model = ParseString("SUBMAKER_AI_MODEL", s.Translate.Model)
	s.Translate.BatchSize = ParseInt("SUBMAKER_AI_BATCH_SIZE", s.Translate.BatchSize)

	s.Telemetry.Enabled = ParseBool("SUBMAKER_OTEL_ENABLED", s.Telemetry.Enabled)
	s.Telemetry.Protocol = ParseString("SUBMAKER_OTEL_PROTOCOL", s.Telemetry.Protocol)
	s.Telemetry.Endpoint = ParseString("SUBMAKER_OTEL_ENDPOINT", s.Telemetry.Endpoint)

	s.EncryptionKey = ParseString("SUBMAKER_ENCRYPTION_KEY", s.EncryptionKey)
	s.IsolationKey = ParseString("SUBMAKER_ISOLATION_KEY", s.IsolationKey)
}

const (
	minProviderTimeoutMS = 12000
	maxProviderTimeoutMS = 30000
)

func (s *Settings) clamp() {
	if s.Providers.TimeoutMS < minProviderTimeoutMS {
		s.Providers.TimeoutMS = minProviderTimeoutMS
	}
	if s.Providers.TimeoutMS > maxProviderTimeoutMS {
		s.Providers.TimeoutMS = maxProviderTimeoutMS
	}
	if s.Activity.MaxListeners <= 0 {
		s.Activity.MaxListeners = 4
	}
	if s.Translate.BatchSize <= 0 {
		s.Translate.BatchSize = 20
	}
}

// Validate rejects configurations the daemon cannot start with.
func (s *Settings) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if s.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if len(s.Providers.Enabled) == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	switch s.Telemetry.Protocol {
	case "", "http", "grpc":
	default:
		return fmt.Errorf("telemetry protocol must be http or grpc, got %q", s.Telemetry.Protocol)
	}
	return nil
}

// ProviderTimeout returns the per-provider search budget.
func (s *Settings) ProviderTimeout() time.Duration {
	return time.Duration(s.Providers.TimeoutMS) * time.Millisecond
}

// OrchestratorBudget is the aggregate fan-out budget: the provider budget
// plus slack for merging.
func (s *Settings) OrchestratorBudget() time.Duration {
	return s.ProviderTimeout() + 2*time.Second
}

// InstanceIDPath is where the persisted instance id lives. It is always
// under the data dir, never the project root.
func (s *Settings) InstanceIDPath() string {
	return filepath.Join(s.DataDir, ".instance-id")
}
