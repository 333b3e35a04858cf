package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Identity provider configuration
	Provider ProviderConfig `yaml:"provider"`

	// Administrative endpoint protection
	Admin AdminConfig `yaml:"admin"`

	// Audit sink configuration
	Audit AuditConfig `yaml:"audit"`

	// Rate limiting for credential endpoints
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// TrustedProxies lists CIDR blocks or addresses whose X-Forwarded-For
	// and X-Real-IP headers are believed
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProviderConfig identifies the Cognito user pool. Credentials are only read
// from the environment or the secret store, never from the config file.
type ProviderConfig struct {
	Region     string        `yaml:"region"`
	UserPoolID string        `yaml:"user_pool_id"`
	ClientID   string        `yaml:"client_id"`
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`

	// SecretID names a Secrets Manager secret holding client_secret and
	// admin_api_key
	SecretID string `yaml:"secret_id"`

	ClientSecret    string `yaml:"-"`
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// AdminConfig protects the administrative endpoints
type AdminConfig struct {
	APIKey string `yaml:"-"`

	// AllowUnauthenticated opens the admin endpoints when no key is set.
	// Development only.
	AllowUnauthenticated bool `yaml:"allow_unauthenticated"`
}

// AuditConfig selects the audit sinks
type AuditConfig struct {
	DatabaseURL string `yaml:"-"`
	Table       string `yaml:"table"`
	LogEvents   bool   `yaml:"log_events"`
}

// RateLimitConfig configures per-client rate limiting
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	Window            time.Duration `yaml:"window"`
	RedisURL          string        `yaml:"-"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string     `yaml:"log_level"`
	MetricsEnabled bool       `yaml:"metrics_enabled"`
	OTel           OTelConfig `yaml:"otel"`
}

// OTelConfig configures OpenTelemetry trace export. Disabled by default.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    64 << 10,
		},
		Provider: ProviderConfig{
			Region:  "us-east-1",
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Table:     "auth_audit_logs",
			LogEvents: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			Burst:             10,
			Window:            time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			OTel: OTelConfig{
				Endpoint:    "localhost:4317",
				ServiceName: "idpgate",
				SampleRate:  1,
			},
		},
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file named
// by IDPGATE_CONFIG_FILE, and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("IDPGATE_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides c with IDPGATE_* environment variables
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("IDPGATE_HOST", c.Server.Host)
	c.Server.Port = getEnv("IDPGATE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("IDPGATE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("IDPGATE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("IDPGATE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("IDPGATE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("IDPGATE_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Server.TrustedProxies = getEnvList("IDPGATE_TRUSTED_PROXIES", c.Server.TrustedProxies)

	c.Provider.Region = getEnv("IDPGATE_REGION", getEnv("AWS_REGION", c.Provider.Region))
	c.Provider.UserPoolID = getEnv("IDPGATE_USER_POOL_ID", c.Provider.UserPoolID)
	c.Provider.ClientID = getEnv("IDPGATE_CLIENT_ID", c.Provider.ClientID)
	c.Provider.ClientSecret = getEnv("IDPGATE_CLIENT_SECRET", c.Provider.ClientSecret)
	c.Provider.Endpoint = getEnv("IDPGATE_PROVIDER_ENDPOINT", c.Provider.Endpoint)
	c.Provider.Timeout = getEnvDuration("IDPGATE_PROVIDER_TIMEOUT", c.Provider.Timeout)
	c.Provider.SecretID = getEnv("IDPGATE_SECRET_ID", c.Provider.SecretID)
	c.Provider.AccessKeyID = getEnv("IDPGATE_ACCESS_KEY_ID", c.Provider.AccessKeyID)
	c.Provider.SecretAccessKey = getEnv("IDPGATE_SECRET_ACCESS_KEY", c.Provider.SecretAccessKey)

	c.Admin.APIKey = getEnv("IDPGATE_ADMIN_API_KEY", c.Admin.APIKey)
	c.Admin.AllowUnauthenticated = getEnvBool("IDPGATE_ADMIN_ALLOW_UNAUTHENTICATED", c.Admin.AllowUnauthenticated)

	c.Audit.DatabaseURL = getEnv("IDPGATE_AUDIT_DATABASE_URL", c.Audit.DatabaseURL)
	c.Audit.Table = getEnv("IDPGATE_AUDIT_TABLE", c.Audit.Table)
	c.Audit.LogEvents = getEnvBool("IDPGATE_AUDIT_LOG_EVENTS", c.Audit.LogEvents)

	c.RateLimit.Enabled = getEnvBool("IDPGATE_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMinute = getEnvInt("IDPGATE_RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
	c.RateLimit.Burst = getEnvInt("IDPGATE_RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.Window = getEnvDuration("IDPGATE_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.RedisURL = getEnv("IDPGATE_REDIS_URL", c.RateLimit.RedisURL)

	c.Observability.LogLevel = getEnv("IDPGATE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("IDPGATE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTel.Enabled = getEnvBool("IDPGATE_OTEL_ENABLED", c.Observability.OTel.Enabled)
	c.Observability.OTel.Endpoint = getEnv("IDPGATE_OTEL_ENDPOINT", c.Observability.OTel.Endpoint)
	c.Observability.OTel.ServiceName = getEnv("IDPGATE_OTEL_SERVICE_NAME", c.Observability.OTel.ServiceName)
	c.Observability.OTel.Insecure = getEnvBool("IDPGATE_OTEL_INSECURE", c.Observability.OTel.Insecure)
	c.Observability.OTel.SampleRate = getEnvFloat("IDPGATE_OTEL_SAMPLE_RATE", c.Observability.OTel.SampleRate)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("invalid trusted proxy: %s", proxy)
		}
	}

	// Validate provider config
	if c.Provider.Region == "" {
		return fmt.Errorf("provider region is required")
	}
	if c.Provider.UserPoolID == "" {
		return fmt.Errorf("user pool ID is required")
	}
	if c.Provider.ClientID == "" {
		return fmt.Errorf("app client ID is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if (c.Provider.AccessKeyID == "") != (c.Provider.SecretAccessKey == "") {
		return fmt.Errorf("access key ID and secret access key must be set together")
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit requests per minute must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("otel endpoint is required when otel is enabled")
		}
		if c.Observability.OTel.SampleRate < 0 || c.Observability.OTel.SampleRate > 1 {
			return fmt.Errorf("otel sample rate must be between 0 and 1")
		}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Observability.LogLevel)
	}

	return nil
}

// ValidateAdmin checks that the admin endpoints are protected. It runs after
// secrets are resolved since the key may come from the secret store.
func (c *Config) ValidateAdmin() error {
	if c.Admin.APIKey == "" && !c.Admin.AllowUnauthenticated {
		return fmt.Errorf("admin API key is required (set IDPGATE_ADMIN_API_KEY, admin_api_key in the provider secret, or IDPGATE_ADMIN_ALLOW_UNAUTHENTICATED=true for development)")
	}
	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// validProxy accepts a CIDR block or a bare address
func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
