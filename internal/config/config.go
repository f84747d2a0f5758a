package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	// Profile selects the deployment shape: "lite" (embedded SQLite, no
	// Redis) or "standard" (Postgres + Redis, HA).
	Profile DeploymentProfile `mapstructure:"profile"`

	Storage StorageConfig `mapstructure:"storage"`

	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Lock       LockConfig       `mapstructure:"lock"`
	App        AppConfig        `mapstructure:"app"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Rollback   RollbackConfig   `mapstructure:"rollback"`
	AdsAPI     AdsAPIConfig     `mapstructure:"ads_api"`

	// CustomerID scopes this process to a single ad account.
	CustomerID string `mapstructure:"customer_id"`
}

// DeploymentProfile represents the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded SQLite storage and
	// an in-process lock/cache. No external dependencies.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready deployment with Postgres for storage and
	// Redis for the L2 cache and distributed locking.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend"`
	FilesystemPath string         `mapstructure:"filesystem_path"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis-related configuration.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds the Expiring Cache configuration.
type CacheConfig struct {
	TTLSeconds      int64         `mapstructure:"ttl_seconds"`
	MaxEntries      int64         `mapstructure:"max_entries"`
	L2Enabled       bool          `mapstructure:"l2_enabled"`
	L2Compression   bool          `mapstructure:"l2_compression"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LockConfig holds distributed lock configuration, used by the Rollback
// Monitor's per-record advisory lock in standard profile.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name          string        `mapstructure:"name"`
	Version       string        `mapstructure:"version"`
	Environment   string        `mapstructure:"environment"`
	Debug         bool          `mapstructure:"debug"`
	Timezone      string        `mapstructure:"timezone"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
}

// MetricsConfig holds metrics-related configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// RateLimitsConfig is the per-client request rate limit enforced at the HTTP boundary.
type RateLimitsConfig struct {
	ExecutePerMin int `mapstructure:"execute_per_min"`
	BatchPerMin   int `mapstructure:"batch_per_min"`
}

// RetryConfig configures the Ads API Adapter's retry-with-backoff.
type RetryConfig struct {
	Max    int `mapstructure:"max"`
	BaseMs int `mapstructure:"base_ms"`
	CapMs  int `mapstructure:"cap_ms"`
}

// ExecutionConfig configures the Execution Engine.
type ExecutionConfig struct {
	ModeDefault string      `mapstructure:"mode_default"`
	BatchCap    int         `mapstructure:"batch_cap"`
	Retry       RetryConfig `mapstructure:"retry"`
}

// AdsAPIConfig configures the outbound Ads API Adapter client.
type AdsAPIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// GuardrailsConfig configures the Guardrails chain.
type GuardrailsConfig struct {
	HighRiskConfidenceFloor float64 `mapstructure:"high_risk_confidence_floor"`
	DefaultCooldownDays     int     `mapstructure:"default_cooldown_days"`
}

// RegressionConfig configures the Rollback Monitor's regression predicate
// defaults; rule-specific predicates may override these.
type RegressionConfig struct {
	ROASDropPct    float64 `mapstructure:"roas_drop_pct"`
	CPAIncreasePct float64 `mapstructure:"cpa_increase_pct"`
}

// RollbackConfig configures the Rollback Monitor.
type RollbackConfig struct {
	TickSeconds       int              `mapstructure:"tick_seconds"`
	WindowDays        int              `mapstructure:"window_days"`
	MinPostDataPoints int64            `mapstructure:"min_post_data_points"`
	ExtensionCapDays  int              `mapstructure:"extension_cap_days"`
	Regression        RegressionConfig `mapstructure:"regression"`
}

// StorageBackend represents the storage implementation.
type StorageBackend string

const (
	StorageBackendFilesystem StorageBackend = "filesystem"
	StorageBackendPostgres   StorageBackend = "postgres"
)

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "standard")
	viper.SetDefault("storage.backend", "postgres")
	viper.SetDefault("storage.filesystem_path", "/data/adctl.db")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "adctl")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 10)
	viper.SetDefault("log.max_backups", 10)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("cache.ttl_seconds", 3600)
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.l2_enabled", true)
	viper.SetDefault("cache.l2_compression", true)
	viper.SetDefault("cache.cleanup_interval", "1m")

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "lock")

	viper.SetDefault("app.name", "adctl")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")
	viper.SetDefault("app.max_workers", 8)
	viper.SetDefault("app.worker_timeout", "5m")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)

	viper.SetDefault("rate_limits.execute_per_min", 10)
	viper.SetDefault("rate_limits.batch_per_min", 5)

	viper.SetDefault("execution.mode_default", "DRY_RUN")
	viper.SetDefault("execution.batch_cap", 100)
	viper.SetDefault("execution.retry.max", 3)
	viper.SetDefault("execution.retry.base_ms", 1000)
	viper.SetDefault("execution.retry.cap_ms", 30000)

	viper.SetDefault("guardrails.high_risk_confidence_floor", 0.85)
	viper.SetDefault("guardrails.default_cooldown_days", 7)

	viper.SetDefault("rollback.tick_seconds", 300)
	viper.SetDefault("rollback.window_days", 7)
	viper.SetDefault("rollback.min_post_data_points", 20)
	viper.SetDefault("rollback.extension_cap_days", 14)
	viper.SetDefault("rollback.regression.roas_drop_pct", 0.30)
	viper.SetDefault("rollback.regression.cpa_increase_pct", 0.50)

	viper.SetDefault("ads_api.base_url", "http://localhost:9090")
	viper.SetDefault("ads_api.timeout", "10s")
	viper.SetDefault("ads_api.rate_limit_per_sec", 10.0)
	viper.SetDefault("ads_api.rate_limit_burst", 10)

	viper.SetDefault("customer_id", "default")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Profile == ProfileStandard {
		if c.Database.Driver == "" {
			return fmt.Errorf("database driver cannot be empty (required for standard profile)")
		}
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty (required for standard profile)")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name cannot be empty (required for standard profile)")
		}
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	if c.CustomerID == "" {
		return fmt.Errorf("customer_id cannot be empty")
	}

	if c.RateLimits.ExecutePerMin <= 0 {
		return fmt.Errorf("rate_limits.execute_per_min must be > 0")
	}
	if c.RateLimits.BatchPerMin <= 0 {
		return fmt.Errorf("rate_limits.batch_per_min must be > 0")
	}

	if c.Execution.BatchCap <= 0 {
		return fmt.Errorf("execution.batch_cap must be > 0")
	}
	if c.Execution.ModeDefault != "DRY_RUN" && c.Execution.ModeDefault != "LIVE" {
		return fmt.Errorf("execution.mode_default must be DRY_RUN or LIVE, got %q", c.Execution.ModeDefault)
	}

	if c.Guardrails.HighRiskConfidenceFloor < 0 || c.Guardrails.HighRiskConfidenceFloor > 1 {
		return fmt.Errorf("guardrails.high_risk_confidence_floor must be in [0,1]")
	}

	if c.Rollback.TickSeconds <= 0 {
		return fmt.Errorf("rollback.tick_seconds must be > 0")
	}

	return nil
}

// validateProfile validates deployment profile configuration.
func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Storage.Backend != StorageBackendFilesystem && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend: %s (must be 'filesystem' or 'postgres')", c.Storage.Backend)
	}

	switch c.Profile {
	case ProfileLite:
		if c.Storage.Backend != StorageBackendFilesystem {
			return fmt.Errorf("lite profile requires storage.backend='filesystem' (got '%s')", c.Storage.Backend)
		}
		if c.Storage.FilesystemPath == "" {
			return fmt.Errorf("lite profile requires storage.filesystem_path")
		}

	case ProfileStandard:
		if c.Storage.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires storage.backend='postgres' (got '%s')", c.Storage.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs the database DSN from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.App.Environment == "production" }
func (c *Config) IsDebug() bool       { return c.App.Debug || c.IsDevelopment() }

func (c *Config) IsLiteProfile() bool     { return c.Profile == ProfileLite }
func (c *Config) IsStandardProfile() bool { return c.Profile == ProfileStandard }

func (c *Config) RequiresPostgres() bool { return c.Profile == ProfileStandard }
func (c *Config) RequiresRedis() bool    { return c.Profile == ProfileStandard && c.Cache.L2Enabled }

func (c *Config) UsesEmbeddedStorage() bool { return c.Storage.Backend == StorageBackendFilesystem }
func (c *Config) UsesPostgresStorage() bool { return c.Storage.Backend == StorageBackendPostgres }

// GetProfileName returns a human-readable profile name.
func (c *Config) GetProfileName() string {
	switch c.Profile {
	case ProfileLite:
		return "Lite (Embedded Storage)"
	case ProfileStandard:
		return "Standard (HA-Ready)"
	default:
		return string(c.Profile)
	}
}

// GetProfileDescription returns a detailed profile description.
func (c *Config) GetProfileDescription() string {
	switch c.Profile {
	case ProfileLite:
		return "Single-node deployment with embedded SQLite storage and in-process locking. No external dependencies."
	case ProfileStandard:
		return "HA-ready deployment with PostgreSQL and Redis. Supports multiple replicas behind a shared advisory lock."
	default:
		return "Unknown profile"
	}
}
