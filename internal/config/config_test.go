package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"routing": {
			"mode": "delegate_old",
			"legacyKeywords": ["開發票", "地址"]
		},
		"server": {"port": 9000},
		"backends": {"legacyUrl": "https://old.example.com/webhook"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Mode != "delegate_old" {
		t.Errorf("mode = %q", cfg.Routing.Mode)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !reflect.DeepEqual(cfg.Routing.LegacyKeywords, []string{"開發票", "地址"}) {
		t.Errorf("keywords = %v", cfg.Routing.LegacyKeywords)
	}
	// Unset fields fall back to defaults.
	if cfg.Server.WebhookPath != "/webhook" {
		t.Errorf("webhook path default = %q", cfg.Server.WebhookPath)
	}
	if cfg.Guard.Driver != "memory" {
		t.Errorf("guard driver default = %q", cfg.Guard.Driver)
	}
}

func TestLoad_YAMLMatchesJSON(t *testing.T) {
	jsonPath := writeConfig(t, "config.json", `{
		"routing": {"mode": "unified", "legacyKeywords": ["預約"]},
		"backends": {"queryBase": "https://api.example.com"}
	}`)
	yamlPath := writeConfig(t, "config.yaml", `
routing:
  mode: unified
  legacyKeywords:
    - 預約
backends:
  queryBase: https://api.example.com
`)

	fromJSON, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	fromYAML, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if !reflect.DeepEqual(fromJSON, fromYAML) {
		t.Errorf("json and yaml configs differ:\n json: %+v\n yaml: %+v", fromJSON, fromYAML)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("REPLY_MODE", "delegate_new")
	t.Setenv("OLD_SYSTEM_KEYWORDS", "發票, 轉帳")
	t.Setenv("PORT", "8123")

	path := writeConfig(t, "config.json", `{
		"routing": {"mode": "unified", "legacyKeywords": ["預約"]},
		"server": {"port": 9000}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Mode != "delegate_new" {
		t.Errorf("env should win over file, mode = %q", cfg.Routing.Mode)
	}
	if !reflect.DeepEqual(cfg.Routing.LegacyKeywords, []string{"發票", "轉帳"}) {
		t.Errorf("keywords = %v", cfg.Routing.LegacyKeywords)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GW_SECRET", "s3cret")
	os.Unsetenv("GW_UNSET")

	tests := []struct {
		in   string
		want string
	}{
		{`"${GW_SECRET}"`, `"s3cret"`},
		{`"${GW_UNSET:-fallback}"`, `"fallback"`},
		{`"${GW_SECRET:-fallback}"`, `"s3cret"`},
		{`"${GW_UNSET}"`, `"${GW_UNSET}"`},
		{`plain text`, `plain text`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" 開發票 , 地址 ", []string{"開發票", "地址"}},
		{"single", []string{"single"}},
		{",,", []string{}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := SplitKeywords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitKeywords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad reply mode",
			mutate:  func(c *Config) { c.Routing.Mode = "hybrid" },
			wantErr: "routing.mode",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "webhook path without slash",
			mutate:  func(c *Config) { c.Server.WebhookPath = "webhook" },
			wantErr: "webhookPath",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: "store.dsn",
		},
		{
			name:    "redis guard without url",
			mutate:  func(c *Config) { c.Guard.Driver = "redis" },
			wantErr: "guard.redisUrl",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: "store.driver",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.General.Workers = 0 },
			wantErr: "general.workers",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Notify.Telegram.Enabled = true },
			wantErr: "notify.telegram.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Defaults()
	cfg.Routing.Mode = "delegate_old"
	cfg.Server.Port = 8200
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Routing.Mode != "delegate_old" || loaded.Server.Port != 8200 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("want error for missing file")
	}
}
