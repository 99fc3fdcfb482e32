package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.AdminRole != "admin" {
		t.Errorf("AdminRole = %q, want admin", cfg.Server.AdminRole)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.RateLimit.Default.Quota != 60 {
		t.Errorf("Default.Quota = %d, want 60", cfg.RateLimit.Default.Quota)
	}
	if cfg.RateLimit.Default.Window != "1m" {
		t.Errorf("Default.Window = %q, want 1m", cfg.RateLimit.Default.Window)
	}
	if cfg.RateLimit.SweepInterval != "5m" {
		t.Errorf("SweepInterval = %q, want 5m", cfg.RateLimit.SweepInterval)
	}
	if cfg.RateLimit.StaleAfter != "1h" {
		t.Errorf("StaleAfter = %q, want 1h", cfg.RateLimit.StaleAfter)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled should default to true")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090", LogLevel: "debug"},
		Store:  StoreConfig{Backend: "redis"},
		RateLimit: RateLimitConfig{
			Default: PolicyConfig{Quota: 10, Window: "30s"},
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("Store.Backend = %q, want redis", cfg.Store.Backend)
	}
	if cfg.RateLimit.Default.Quota != 10 {
		t.Errorf("Default.Quota = %d, want 10", cfg.RateLimit.Default.Quota)
	}
	if cfg.RateLimit.Default.Window != "30s" {
		t.Errorf("Default.Window = %q, want 30s", cfg.RateLimit.Default.Window)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.Auth.Tokens) != 1 {
		t.Fatalf("Tokens = %d, want 1 dev token", len(cfg.Auth.Tokens))
	}
	if cfg.Auth.Tokens[0].ID != "dev-user" {
		t.Errorf("dev token ID = %q, want dev-user", cfg.Auth.Tokens[0].ID)
	}
	if _, ok := cfg.RateLimit.Roles["admin"]; !ok {
		t.Error("expected a generous admin role policy in dev mode")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
}

func TestConfig_SetDevDefaults_NotDevMode(t *testing.T) {
	cfg := Config{DevMode: false}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.Auth.Tokens) != 0 {
		t.Error("expected no dev token outside dev mode")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayguard.yaml")
	content := `
server:
  http_addr: "127.0.0.1:9999"
upstream:
  url: "http://localhost:3000"
auth:
  tokens:
    - hash: "sha256:c91cbbedf8c712e8e2b7517ddeca8fe4fde839ebd8339e0b2001363002b37712"
      id: "svc-reports"
      roles: ["premium"]
rate_limit:
  default:
    quota: 30
    window: "1m"
  roles:
    premium:
      quota: 300
      window: "1m"
  overrides:
    - path_prefix: "/api/search"
      quota: 10
      window: "30s"
rules:
  - name: "throttle-exports"
    condition: "path.startsWith('/api/export')"
    quota: 2
    window: "1m"
cache:
  categories:
    - path_prefix: "/api/items"
      ttl: "30s"
    - path_prefix: "/api/live"
      no_cache: true
  invalidations:
    - path_prefix: "/api/items"
      patterns: ["/api/items"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	InitViper(path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr = %q, want 127.0.0.1:9999", cfg.Server.HTTPAddr)
	}
	if cfg.Upstream.URL != "http://localhost:3000" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.RateLimit.Default.Quota != 30 {
		t.Errorf("Default.Quota = %d, want 30", cfg.RateLimit.Default.Quota)
	}
	if got := cfg.RateLimit.Roles["premium"].Quota; got != 300 {
		t.Errorf("premium quota = %d, want 300", got)
	}
	if len(cfg.RateLimit.Overrides) != 1 || cfg.RateLimit.Overrides[0].PathPrefix != "/api/search" {
		t.Errorf("Overrides = %+v", cfg.RateLimit.Overrides)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "throttle-exports" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if len(cfg.Cache.Categories) != 2 {
		t.Fatalf("Categories = %d, want 2", len(cfg.Cache.Categories))
	}
	if !cfg.Cache.Categories[1].NoCache {
		t.Error("second category should be no_cache")
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].ID != "svc-reports" {
		t.Errorf("Tokens = %+v", cfg.Auth.Tokens)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("RELAYGUARD_SERVER_HTTP_ADDR", "0.0.0.0:7070")
	InitViper("")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:7070" {
		t.Errorf("HTTPAddr = %q, want env override 0.0.0.0:7070", cfg.Server.HTTPAddr)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayguard.yml")
	if err := os.WriteFile(path, []byte("dev_mode: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{t.TempDir(), dir}); got != path {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, path)
	}
	if got := findConfigFileInPaths([]string{t.TempDir()}); got != "" {
		t.Errorf("findConfigFileInPaths = %q, want empty", got)
	}
}
