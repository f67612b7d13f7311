// Package daemon loads configuration and wires the FinLy process together.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ConfigFileName is the config file inside the FinLy home directory.
const ConfigFileName = "config.toml"

// Storage backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Analytics AnalyticsConfig `toml:"analytics"`
	LLM       LLMConfig       `toml:"llm"`
	Mail      MailConfig      `toml:"mail"`
	Decision  DecisionConfig  `toml:"decision"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Trust     TrustConfig     `toml:"trust"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
}

// LedgerConfig selects the interaction ledger backend.
type LedgerConfig struct {
	Backend       string `toml:"backend"` // file, sqlite or redis
	Path          string `toml:"path"`    // JSON file; also the local fallback for redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisKey      string `toml:"redis_key"`
}

// AnalyticsConfig selects where analysis history goes.
type AnalyticsConfig struct {
	Backend     string `toml:"backend"` // file, sqlite or postgres
	Path        string `toml:"path"`    // local history file; fallback for the others
	PostgresDSN string `toml:"postgres_dsn"`
	RecentLimit int    `toml:"recent_limit"`
	SaveTimeout string `toml:"save_timeout"`
}

// LLMConfig configures the text-generation endpoint. Each stage samples at
// its own temperature.
type LLMConfig struct {
	BaseURL             string  `toml:"base_url"`
	APIKey              string  `toml:"api_key"`
	Model               string  `toml:"model"`
	Timeout             string  `toml:"timeout"`
	RiskTemperature     float64 `toml:"risk_temperature"`
	DecisionTemperature float64 `toml:"decision_temperature"`
	DraftTemperature    float64 `toml:"draft_temperature"`
}

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	From     string `toml:"from"`
	Password string `toml:"password"`
	Timeout  string `toml:"timeout"`
}

// DecisionConfig selects the proposal source.
type DecisionConfig struct {
	Mode string `toml:"mode"` // rules or llm
}

// DispatchConfig bounds per-target parallelism.
type DispatchConfig struct {
	MaxParallel    int    `toml:"max_parallel"`
	FounderAddress string `toml:"founder_address"`
}

// TrustConfig holds the trust resolver windows.
type TrustConfig struct {
	GracePeriod       string `toml:"grace_period"`
	ProvisionalWindow string `toml:"provisional_window"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// MetricsConfig toggles /metrics and sizes the trace buffer.
type MetricsConfig struct {
	Enabled     bool `toml:"enabled"`
	TraceBuffer int  `toml:"trace_buffer"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			RequestTimeout: "2m",
		},
		Ledger: LedgerConfig{
			Backend:  BackendFile,
			RedisKey: "finly:ledger",
		},
		Analytics: AnalyticsConfig{
			Backend:     BackendFile,
			RecentLimit: 50,
			SaveTimeout: "5s",
		},
		LLM: LLMConfig{
			BaseURL:             "https://api.openai.com/v1",
			Model:               "gpt-4o-mini",
			Timeout:             "20s",
			RiskTemperature:     0.3,
			DecisionTemperature: 0.2,
			DraftTemperature:    0.7,
		},
		Mail: MailConfig{
			Host:    "smtp.gmail.com",
			Port:    587,
			Timeout: "10s",
		},
		Decision: DecisionConfig{Mode: "rules"},
		Dispatch: DispatchConfig{
			MaxParallel:    4,
			FounderAddress: "founder@finly.app",
		},
		Trust: TrustConfig{
			GracePeriod:       "24h",
			ProvisionalWindow: "24h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			TraceBuffer: 1000,
		},
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// Home returns the FinLy data directory: $FINLY_HOME or ~/.finly.
func Home() string {
	if env := os.Getenv("FINLY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".finly")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), ConfigFileName)
}

// LoadConfig reads path over the defaults and applies the environment.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.fillPaths(Home())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the deployment environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SMTP_EMAIL"); v != "" {
		c.Mail.From = v
	}
	if v := getenv("SMTP_PASSWORD"); v != "" {
		c.Mail.Password = v
	}
	if v := getenv("SMTP_HOST"); v != "" {
		c.Mail.Host = v
	}
	if v := getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Mail.Port = port
		}
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("FINLY_POSTGRES_DSN"); v != "" {
		c.Analytics.PostgresDSN = v
		c.Analytics.Backend = BackendPostgres
	}
	if v := getenv("FINLY_REDIS_ADDR"); v != "" {
		c.Ledger.RedisAddr = v
		c.Ledger.Backend = BackendRedis
	}
	if v := getenv("FINLY_DECISION_MODE"); v != "" {
		c.Decision.Mode = strings.ToLower(v)
	}
}

// fillPaths places unset local files under home.
func (c *Config) fillPaths(home string) {
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(home, "ledger.json")
	}
	if c.Analytics.Path == "" {
		c.Analytics.Path = filepath.Join(home, "history.json")
	}
}

// Validate rejects values the wiring cannot act on.
func (c Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendFile, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("ledger.backend %q: want file, sqlite or redis", c.Ledger.Backend)
	}
	if c.Ledger.Backend == BackendRedis && c.Ledger.RedisAddr == "" {
		return errors.New("ledger.redis_addr is required for the redis backend")
	}
	switch c.Analytics.Backend {
	case BackendFile, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("analytics.backend %q: want file, sqlite or postgres", c.Analytics.Backend)
	}
	if c.Analytics.Backend == BackendPostgres && c.Analytics.PostgresDSN == "" {
		return errors.New("analytics.postgres_dsn is required for the postgres backend")
	}
	switch c.Decision.Mode {
	case "rules", "llm":
	default:
		return fmt.Errorf("decision.mode %q: want rules or llm", c.Decision.Mode)
	}
	for name, v := range map[string]string{
		"api.request_timeout":      c.API.RequestTimeout,
		"analytics.save_timeout":   c.Analytics.SaveTimeout,
		"llm.timeout":              c.LLM.Timeout,
		"mail.timeout":             c.Mail.Timeout,
		"trust.grace_period":       c.Trust.GracePeriod,
		"trust.provisional_window": c.Trust.ProvisionalWindow,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration parses s, returning def when s is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
