package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Line     LineConfig     `json:"line" yaml:"line"`
	Routing  RoutingConfig  `json:"routing" yaml:"routing"`
	Backends BackendsConfig `json:"backends" yaml:"backends"`
	Forward  ForwardConfig  `json:"forward" yaml:"forward"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Guard    GuardConfig    `json:"guard" yaml:"guard"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // debug | info | warn | error
	Workers  int    `json:"workers" yaml:"workers"`   // event pipeline worker count
	QueueLen int    `json:"queueLen" yaml:"queueLen"` // pending-event buffer size
}

type ServerConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	WebhookPath string `json:"webhookPath" yaml:"webhookPath"`
	// PushToken authenticates backend calls to the push pass-through endpoint.
	PushToken string `json:"pushToken,omitempty" yaml:"pushToken,omitempty"`
}

type LineConfig struct {
	ChannelSecret      string `json:"channelSecret" yaml:"channelSecret"`
	ChannelAccessToken string `json:"channelAccessToken" yaml:"channelAccessToken"`
	APIBase            string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // override for tests
}

type RoutingConfig struct {
	// Mode decides who issues the final reply: unified | delegate_old | delegate_new.
	Mode string `json:"mode" yaml:"mode"`
	// LegacyKeywords route a message to the legacy backend. Order is priority:
	// the first keyword contained in the text wins.
	LegacyKeywords []string `json:"legacyKeywords" yaml:"legacyKeywords"`
	// HighValueKeywords trigger a side alert without changing the destination.
	HighValueKeywords []string `json:"highValueKeywords" yaml:"highValueKeywords"`
}

type BackendsConfig struct {
	// LegacyURL and ModernURL receive the raw webhook in delegate modes.
	LegacyURL string `json:"legacyUrl" yaml:"legacyUrl"`
	ModernURL string `json:"modernUrl" yaml:"modernUrl"`
	// QueryBase is the modern backend's API base for unified-mode capability
	// queries (contracts, payments, chat).
	QueryBase string `json:"queryBase" yaml:"queryBase"`
}

type ForwardConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries     int `json:"maxRetries" yaml:"maxRetries"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | postgres
	// Path is the SQLite database file (sqlite driver).
	Path string `json:"path" yaml:"path"`
	// DSN is the Postgres connection string (postgres driver).
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type GuardConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory | redis
	// RedisURL is required for the redis driver (redis://host:port/db).
	RedisURL string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	// TTLSeconds bounds how long a handled marker is kept. It only needs to
	// outlive the platform's redelivery window.
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds"`
}

type NotifyConfig struct {
	// WebhookURL receives Slack-compatible high-value alerts. Empty disables.
	WebhookURL string              `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
	Telegram   TelegramAlertConfig `json:"telegram" yaml:"telegram"`
}

type TelegramAlertConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty" yaml:"chatId,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// ReplyMode returns the configured mode as a domain value.
func (c *Config) ReplyMode() domain.ReplyMode {
	return domain.ReplyMode(c.Routing.Mode)
}

// DefaultConfigDir returns the default config directory (~/.linegw).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linegw"
	}
	return filepath.Join(home, ".linegw")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML when the path ends in .yaml/.yml),
// expands ${VAR} references, applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	cfg.Store.Path = expandPath(cfg.Store.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ApplyEnv overlays the well-known environment variables onto cfg. These are
// the deployment-facing knobs; a container can run on env vars alone.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Line.ChannelSecret, "LINE_CHANNEL_SECRET")
	setString(&cfg.Line.ChannelAccessToken, "LINE_CHANNEL_ACCESS_TOKEN")
	setString(&cfg.Routing.Mode, "REPLY_MODE")
	setKeywords(&cfg.Routing.LegacyKeywords, "OLD_SYSTEM_KEYWORDS")
	setKeywords(&cfg.Routing.HighValueKeywords, "HIGH_VALUE_KEYWORDS")
	setString(&cfg.Backends.LegacyURL, "OLD_SYSTEM_WEBHOOK_URL")
	setString(&cfg.Backends.ModernURL, "NEW_SYSTEM_WEBHOOK_URL")
	setString(&cfg.Backends.QueryBase, "NEW_SYSTEM_QUERY_BASE")
	setString(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setString(&cfg.Store.DSN, "DATABASE_URL")
	setString(&cfg.Guard.RedisURL, "REDIS_URL")
	setString(&cfg.Server.PushToken, "PUSH_API_TOKEN")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Forward.TimeoutSeconds, "FORWARD_TIMEOUT_SECONDS")
	setInt(&cfg.Forward.MaxRetries, "FORWARD_MAX_RETRIES")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setKeywords parses a comma-separated keyword list, trimming blanks.
func setKeywords(dst *[]string, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	*dst = SplitKeywords(v)
}

// SplitKeywords turns "a, b ,c" into ["a","b","c"], dropping empties.
func SplitKeywords(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// Save writes cfg as indented JSON.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if !domain.ReplyMode(cfg.Routing.Mode).Valid() {
		errs = append(errs, fmt.Sprintf("routing.mode must be one of: unified, delegate_old, delegate_new (got %q)", cfg.Routing.Mode))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.General.Workers < 1 || cfg.General.Workers > 256 {
		errs = append(errs, "general.workers must be between 1 and 256")
	}
	if cfg.Forward.TimeoutSeconds < 1 {
		errs = append(errs, "forward.timeoutSeconds must be >= 1")
	}
	if cfg.Forward.MaxRetries < 0 || cfg.Forward.MaxRetries > 10 {
		errs = append(errs, "forward.maxRetries must be between 0 and 10")
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		errs = append(errs, "store.dsn is required for the postgres driver")
	}
	switch cfg.Guard.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, "guard.driver must be one of: memory, redis")
	}
	if cfg.Guard.Driver == "redis" && cfg.Guard.RedisURL == "" {
		errs = append(errs, "guard.redisUrl is required for the redis driver")
	}
	if cfg.Guard.TTLSeconds < 1 {
		errs = append(errs, "guard.ttlSeconds must be >= 1")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		errs = append(errs, "notify.telegram.token is required when telegram alerts are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
