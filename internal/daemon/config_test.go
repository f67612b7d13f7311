package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finly-network/finly/internal/app/cycle"
	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/ledger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8000)
	}
	if cfg.Ledger.Backend != BackendFile {
		t.Errorf("Ledger.Backend = %q, want %q", cfg.Ledger.Backend, BackendFile)
	}
	if cfg.Analytics.RecentLimit != 50 {
		t.Errorf("Analytics.RecentLimit = %d, want %d", cfg.Analytics.RecentLimit, 50)
	}
	if cfg.Decision.Mode != "rules" {
		t.Errorf("Decision.Mode = %q, want %q", cfg.Decision.Mode, "rules")
	}
	if cfg.Dispatch.MaxParallel != 4 {
		t.Errorf("Dispatch.MaxParallel = %d, want %d", cfg.Dispatch.MaxParallel, 4)
	}
	if cfg.Trust.GracePeriod != "24h" {
		t.Errorf("Trust.GracePeriod = %q, want %q", cfg.Trust.GracePeriod, "24h")
	}

	// per-stage sampling
	if cfg.LLM.RiskTemperature != 0.3 || cfg.LLM.DecisionTemperature != 0.2 || cfg.LLM.DraftTemperature != 0.7 {
		t.Errorf("LLM temperatures = %v/%v/%v, want 0.3/0.2/0.7",
			cfg.LLM.RiskTemperature, cfg.LLM.DecisionTemperature, cfg.LLM.DraftTemperature)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Setenv("FINLY_HOME", t.TempDir())
	t.Setenv("FINLY_REDIS_ADDR", "")
	t.Setenv("FINLY_POSTGRES_DSN", "")
	path := filepath.Join(t.TempDir(), ConfigFileName)
	data := `
[api]
port = 9090

[ledger]
backend = "sqlite"

[decision]
mode = "llm"

[dispatch]
max_parallel = 8
founder_address = "cfo@example.com"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want default kept", cfg.API.Host)
	}
	if cfg.Ledger.Backend != BackendSQLite {
		t.Errorf("Ledger.Backend = %q, want sqlite", cfg.Ledger.Backend)
	}
	if cfg.Decision.Mode != "llm" {
		t.Errorf("Decision.Mode = %q, want llm", cfg.Decision.Mode)
	}
	if cfg.Dispatch.FounderAddress != "cfo@example.com" {
		t.Errorf("FounderAddress = %q", cfg.Dispatch.FounderAddress)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FINLY_HOME", home)
	t.Setenv("FINLY_REDIS_ADDR", "")
	t.Setenv("FINLY_POSTGRES_DSN", "")

	cfg, err := LoadConfig(filepath.Join(home, "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Ledger.Path != filepath.Join(home, "ledger.json") {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
	if cfg.Analytics.Path != filepath.Join(home, "history.json") {
		t.Errorf("Analytics.Path = %q", cfg.Analytics.Path)
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte("[api\nport = "), 0o600)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SMTP_EMAIL":         "ops@example.com",
		"SMTP_PASSWORD":      "secret",
		"SMTP_PORT":          "2525",
		"OPENAI_API_KEY":     "sk-test",
		"FINLY_POSTGRES_DSN": "postgres://localhost/finly",
		"FINLY_REDIS_ADDR":   "localhost:6379",
	}
	cfg := DefaultConfig()
	cfg.applyEnv(func(k string) string { return env[k] })

	if cfg.Mail.From != "ops@example.com" || cfg.Mail.Password != "secret" {
		t.Errorf("Mail = %+v", cfg.Mail)
	}
	if cfg.Mail.Port != 2525 {
		t.Errorf("Mail.Port = %d, want 2525", cfg.Mail.Port)
	}
	if cfg.Mail.Host != "smtp.gmail.com" {
		t.Errorf("Mail.Host = %q, want default kept", cfg.Mail.Host)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Analytics.Backend != BackendPostgres {
		t.Errorf("Analytics.Backend = %q, want postgres", cfg.Analytics.Backend)
	}
	if cfg.Ledger.Backend != BackendRedis || cfg.Ledger.RedisAddr != "localhost:6379" {
		t.Errorf("Ledger = %+v", cfg.Ledger)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("FINLY_TEST_DOTENV=loaded\n"), 0o600)
	t.Setenv("FINLY_TEST_DOTENV", "")
	os.Unsetenv("FINLY_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}
	if got := os.Getenv("FINLY_TEST_DOTENV"); got != "loaded" {
		t.Errorf("FINLY_TEST_DOTENV = %q, want loaded", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ledger backend", func(c *Config) { c.Ledger.Backend = "mongo" }},
		{"redis without addr", func(c *Config) { c.Ledger.Backend = BackendRedis }},
		{"analytics backend", func(c *Config) { c.Analytics.Backend = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Analytics.Backend = BackendPostgres }},
		{"mode", func(c *Config) { c.Decision.Mode = "vibes" }},
		{"duration", func(c *Config) { c.Trust.GracePeriod = "one day" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"20s", 20 * time.Second},
		{"24h", 24 * time.Hour},
		{"", time.Minute},     // default
		{"soon", time.Minute}, // invalid
		{"-5s", time.Minute},  // non-positive
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ─── Wiring ─────────────────────────────────────────────────────────────────

func TestBuild_FileBackends(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FINLY_HOME", home)

	cfg := DefaultConfig()
	app, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	defer app.Close()

	if _, ok := app.Ledger.(*ledger.File); !ok {
		t.Errorf("Ledger = %T, want *ledger.File", app.Ledger)
	}

	snap := domain.Snapshot{
		CashBalance: 5000,
		FixedBills:  []domain.Bill{{Type: "Rent", Amount: 8000, DueInDays: 3}},
		Receivables: []domain.ReceivableItem{{ClientID: "Acme", Amount: 6000, DueInDays: 2}},
	}
	res, err := app.Runner.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Response.Decision.Strategy != domain.StrategyCollect {
		t.Errorf("Strategy = %s, want COLLECT_RECEIVABLE", res.Response.Decision.Strategy)
	}

	recs, err := app.Records(context.Background())
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if _, err := os.Stat(filepath.Join(home, "ledger.json")); err != nil {
		t.Errorf("ledger file not written: %v", err)
	}
}

func TestBuild_LLMModeWithoutKeyFallsBackToRules(t *testing.T) {
	t.Setenv("FINLY_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Decision.Mode = cycle.ModeLLM
	cfg.Ledger.Backend = BackendSQLite
	cfg.Analytics.Backend = BackendSQLite

	app, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	defer app.Close()

	snap := domain.Snapshot{CashBalance: 100000, FixedBills: []domain.Bill{{Type: "AWS", Amount: 1000, DueInDays: 5}}}
	res, err := app.Runner.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Response.Decision.Source == "llm" {
		t.Error("decision came from the generator without an api key")
	}
}

func TestBuild_RedisUnreachableUsesFile(t *testing.T) {
	t.Setenv("FINLY_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Ledger.Backend = BackendRedis
	cfg.Ledger.RedisAddr = "127.0.0.1:1"

	app, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	defer app.Close()
	if _, ok := app.Ledger.(*ledger.File); !ok {
		t.Errorf("Ledger = %T, want *ledger.File", app.Ledger)
	}
}
