// Package config loads the service configuration from a YAML file and
// the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	Enabled                bool   `yaml:"enabled"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password"`
}

// WebhooksConfig configures outbound webhook delivery.
type WebhooksConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

// SubscriberConfig defines a webhook endpoint.
type SubscriberConfig struct {
	URL           string        `yaml:"url"`
	Secret        string        `yaml:"secret"`
	Events        []string      `yaml:"events"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// MetricsConfig configures the Prometheus exposition endpoint and the
// background usage collector.
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads the configuration file at path, expands ${VAR} references,
// and applies environment overrides. A missing path yields a config built
// entirely from defaults and the environment.
func Load(path string) (*Config, error) {
	// A .env file is optional; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays environment variables onto the file config. The
// environment wins over the file so deployments can override a baked-in
// config without editing it.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SHEPHERD_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SHEPHERD_AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = parseBool(v, cfg.Auth.Enabled)
	}
	if v := os.Getenv("SHEPHERD_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.BootstrapAdminPassword = v
	}
	if v := os.Getenv("SHEPHERD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v, cfg.Metrics.Enabled)
	}
	if v := os.Getenv("SHEPHERD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	applyWebhookEnv(cfg)
}

// applyWebhookEnv builds webhook subscribers from WEBHOOK_URLS, a
// comma-separated list of endpoints sharing one secret and retry policy.
// Subscribers from the environment are appended to any file-defined ones.
func applyWebhookEnv(cfg *Config) {
	urls := os.Getenv("WEBHOOK_URLS")
	if urls == "" {
		return
	}

	cfg.Webhooks.Enabled = true

	secret := os.Getenv("WEBHOOK_SECRET")
	events := splitList(os.Getenv("WEBHOOK_EVENTS"))
	timeout := parseDuration(os.Getenv("WEBHOOK_TIMEOUT"), 0)
	attempts := parseInt(os.Getenv("WEBHOOK_RETRY_ATTEMPTS"), 0)
	delay := parseDuration(os.Getenv("WEBHOOK_RETRY_DELAY"), 0)

	for _, url := range splitList(urls) {
		cfg.Webhooks.Subscribers = append(cfg.Webhooks.Subscribers, SubscriberConfig{
			URL:           url,
			Secret:        secret,
			Events:        events,
			Timeout:       timeout,
			RetryAttempts: attempts,
			RetryDelay:    delay,
		})
	}
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Metrics.CollectInterval == 0 {
		cfg.Metrics.CollectInterval = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required (or set DATABASE_URL)")
	}

	for i, sub := range c.Webhooks.Subscribers {
		if sub.URL == "" {
			errs = append(errs, fmt.Sprintf("webhooks.subscribers[%d].url is required", i))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string, fallback bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return v
}
