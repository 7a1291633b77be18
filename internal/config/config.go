package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// MinAuthSecretLength matches auth.MinSecretLength.
const MinAuthSecretLength = 32

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Shortener     ShortenerConfig
	Clicks        ClickConfig
	Auth          AuthConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" required:"true"`

	// AcquireTimeout bounds every store call, pool acquisition included.
	AcquireTimeout time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate wants it.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds the Redis client configuration.
type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password       string        `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	AcquireTimeout time.Duration `envconfig:"REDIS_ACQUIRE_TIMEOUT" default:"2s"`
	DialTimeout    time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db index cannot be negative")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	return nil
}

// CacheConfig selects the cache backend and entry lifetimes.
type CacheConfig struct {
	Backend      string        `envconfig:"CACHE_BACKEND" default:"redis"` // redis, memory
	LinkTTL      time.Duration `envconfig:"CACHE_LINK_TTL" default:"1h"`
	ListingTTL   time.Duration `envconfig:"CACHE_LISTING_TTL" default:"5m"`
	OwnerListing bool          `envconfig:"CACHE_OWNER_LISTING" default:"true"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.Backend != "redis" && c.Backend != "memory" {
		return fmt.Errorf("invalid cache backend: %s (must be one of: redis, memory)", c.Backend)
	}
	if c.LinkTTL <= 0 {
		return fmt.Errorf("link TTL must be positive")
	}
	if c.ListingTTL <= 0 {
		return fmt.Errorf("listing TTL must be positive")
	}
	return nil
}

// ShortenerConfig controls code generation.
type ShortenerConfig struct {
	CodeLength  int    `envconfig:"CODE_LENGTH" default:"8"`
	Alphabet    string `envconfig:"CODE_ALPHABET" default:"urlsafe"` // urlsafe, base62
	MaxAttempts int    `envconfig:"CODE_MAX_ATTEMPTS" default:"3"`
}

// Validate validates the shortener configuration.
func (c *ShortenerConfig) Validate() error {
	if c.CodeLength < 3 || c.CodeLength > 64 {
		return fmt.Errorf("code length must be between 3 and 64, got %d", c.CodeLength)
	}
	if c.Alphabet != "urlsafe" && c.Alphabet != "base62" {
		return fmt.Errorf("invalid code alphabet: %s (must be one of: urlsafe, base62)", c.Alphabet)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// ClickConfig sizes the deferred click recorder.
type ClickConfig struct {
	Workers     int           `envconfig:"CLICK_WORKERS" default:"4"`
	QueueSize   int           `envconfig:"CLICK_QUEUE_SIZE" default:"1024"`
	TaskTimeout time.Duration `envconfig:"CLICK_TASK_TIMEOUT" default:"5s"`
}

// Validate validates the click recorder configuration.
func (c *ClickConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive")
	}
	return nil
}

// AuthConfig holds the bearer token signing secret.
type AuthConfig struct {
	Secret string `envconfig:"AUTH_SECRET" required:"true"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if len(c.Secret) < MinAuthSecretLength {
		return fmt.Errorf("secret must be at least %d bytes", MinAuthSecretLength)
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds metrics configuration.
type ObservabilityConfig struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"shortlink"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsPath    string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if !c.MetricsEnabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required when metrics are enabled")
	}
	if len(c.MetricsPath) < 2 || c.MetricsPath[0] != '/' {
		return fmt.Errorf("metrics path must start with / and not be the root, got %q", c.MetricsPath)
	}
	return nil
}

type section struct {
	name   string
	spec   any
	verify func() error
}

// Load loads configuration from environment variables only.
// (.env files are read in cmd/shortlink for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Database", &cfg.Database, cfg.Database.Validate},
		{"Redis", &cfg.Redis, func() error {
			// only the redis backend needs a reachable server
			if cfg.Cache.Backend != "redis" {
				return nil
			}
			return cfg.Redis.Validate()
		}},
		{"Shortener", &cfg.Shortener, cfg.Shortener.Validate},
		{"Clicks", &cfg.Clicks, cfg.Clicks.Validate},
		{"Auth", &cfg.Auth, cfg.Auth.Validate},
		{"App", &cfg.App, cfg.App.Validate},
		{"Observability", &cfg.Observability, cfg.Observability.Validate},
	}

	// Cache first: the Redis section depends on the chosen backend.
	if err := envconfig.Process("", &cfg.Cache); err != nil {
		return nil, fmt.Errorf("failed to load Cache config: %w", err)
	}
	if err := cfg.Cache.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Cache config: %w", err)
	}

	for _, sec := range sections {
		if err := envconfig.Process("", sec.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", sec.name, err)
		}
		if err := sec.verify(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", sec.name, err)
		}
	}

	return cfg, nil
}
