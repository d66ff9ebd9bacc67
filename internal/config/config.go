package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/entitled/internal/domain/tier"
)

// Config holds the entitled service configuration.
type Config struct {
	HTTP          HTTPConfig           `yaml:"http"`
	Database      DatabaseConfig       `yaml:"database"`
	Postgres      PostgresConfig       `yaml:"postgres"`
	Storage       StorageConfig        `yaml:"storage"`
	Quota         QuotaConfig          `yaml:"quota"`
	Trial         TrialConfig          `yaml:"trial"`
	Backend       BackendConfig        `yaml:"backend"`
	Assistant     AssistantConfig      `yaml:"assistant"`
	Auth          AuthConfig           `yaml:"auth"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	Overrides     []string             `yaml:"overrides"`
	Features      []FeatureConfig      `yaml:"features"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	AdminKeys []string `yaml:"admin_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds ledger snapshot store settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Persistent reports whether a key-value store is configured.
func (d DatabaseConfig) Persistent() bool { return d.Driver != "memory" }

// PostgresConfig holds the subscription database settings. Empty DSN disables it.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix        string `yaml:"key_prefix"`
	SnapshotTTLHours int    `yaml:"snapshot_ttl_hours"`
}

// QuotaConfig holds the free-tier allowance.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	Timezone   string `yaml:"timezone"` // IANA name or "Local"
}

// Location resolves the reset timezone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// TrialConfig holds trial budget caps.
type TrialConfig struct {
	PerFeatureCap int `yaml:"per_feature_cap"`
	GlobalCap     int `yaml:"global_cap"`
	// Idle controls are dropped from the coordinator registry after this long.
	ControlIdleMin int `yaml:"control_idle_min"`
}

// BackendConfig holds the upstream entitlement backend. Empty BaseURL runs standalone.
type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Retries    int    `yaml:"retries"` // status refresh retries, trial use is never retried
}

// AssistantConfig holds the OpenAI-compatible completion endpoint. Empty APIKey disables it.
type AssistantConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RateLimitConfig holds per-client request limits. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// FeatureConfig is a catalog entry.
type FeatureConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"` // assistant instruction for this feature
}

// SubscriptionConfig seeds a static subscription.
type SubscriptionConfig struct {
	UserID    string `yaml:"user_id"`
	Status    string `yaml:"status"`
	Tier      string `yaml:"tier"`
	ExpiresAt string `yaml:"expires_at"` // RFC3339, optional
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Postgres.CacheTTLSec <= 0 {
		c.Postgres.CacheTTLSec = 60
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "entitled:"
	}
	if c.Storage.SnapshotTTLHours <= 0 {
		c.Storage.SnapshotTTLHours = 48
	}
	if c.Quota.DailyLimit <= 0 {
		c.Quota.DailyLimit = 5
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "Local"
	}
	if c.Trial.PerFeatureCap <= 0 {
		c.Trial.PerFeatureCap = 3
	}
	if c.Trial.GlobalCap <= 0 {
		c.Trial.GlobalCap = 10
	}
	if c.Trial.ControlIdleMin <= 0 {
		c.Trial.ControlIdleMin = 30
	}
	if c.Backend.TimeoutSec <= 0 {
		c.Backend.TimeoutSec = 15
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = "gpt-4o-mini"
	}
	if c.Assistant.MaxTokens <= 0 {
		c.Assistant.MaxTokens = 1024
	}
	if c.Assistant.TimeoutSec <= 0 {
		c.Assistant.TimeoutSec = 60
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) + 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required")
		}
	case "memory":
		// ok
	default:
		return fmt.Errorf("database.driver must be \"redis\", \"valkey\" or \"memory\", got %q", c.Database.Driver)
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	if c.Backend.Retries < 0 {
		return fmt.Errorf("backend.retries must not be negative, got %d", c.Backend.Retries)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS)
	}

	seen := make(map[string]struct{}, len(c.Features))
	for i, f := range c.Features {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("features[%d].id is required", i)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("features[%d].id %q is duplicated", i, f.ID)
		}
		seen[f.ID] = struct{}{}
	}

	for i, s := range c.Subscriptions {
		if s.UserID == "" {
			return fmt.Errorf("subscriptions[%d].user_id is required", i)
		}
		if _, err := tier.Parse(s.Tier); err != nil {
			return fmt.Errorf("subscriptions[%d].tier: %w", i, err)
		}
		if s.ExpiresAt != "" {
			if _, err := time.Parse(time.RFC3339, s.ExpiresAt); err != nil {
				return fmt.Errorf("subscriptions[%d].expires_at must be RFC3339: %w", i, err)
			}
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
