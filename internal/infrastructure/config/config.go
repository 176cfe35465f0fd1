package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Feed      FeedConfig
	Target    TargetConfig
	HTTP      HTTPConfig
	Mapping   MappingConfig
	Sync      SyncConfig
	State     StateConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Artifact  ArtifactConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// FeedConfig holds the authenticated feed export settings
type FeedConfig struct {
	TokenURL     string // OAuth client-credentials token endpoint
	ClientID     string
	ClientSecret string
	ExportURL    string // Product export endpoint
	PageSize     int    // Products per export page
	Language     string // Primary feed language code; empty uses the feed default
}

// TargetConfig holds the downstream shop RPC endpoint settings
type TargetConfig struct {
	Endpoint   string // RPC endpoint URL
	Username   string
	Password   string
	ShopID     string
	TemplateID string // Product template applied on create; empty disables
}

// HTTPConfig holds the outbound call policy shared by feed and target calls
type HTTPConfig struct {
	Timeout      time.Duration // Per-call timeout
	RetryCount   int           // Retries after the first attempt
	RetryBackoff time.Duration // Base delay; doubles each attempt
}

// MappingConfig holds the mapping document location
type MappingConfig struct {
	Path string
}

// SyncConfig holds run execution settings
type SyncConfig struct {
	Workers int // Concurrent per-product workers
}

// StateConfig selects where sync state is persisted
type StateConfig struct {
	Driver     string // sqlite, postgres
	SQLitePath string // Database file path for the sqlite driver
}

// DatabaseConfig holds postgres connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings for the fingerprint cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration // Fingerprint entry lifetime
}

// ArtifactConfig holds dry-run artifact output settings
type ArtifactConfig struct {
	Dir      string // Local directory for change set files
	S3Bucket string // Optional S3 mirror; empty disables
	S3Prefix string
	S3Region string
	// S3-compatible backends (MinIO, RustFS). Empty endpoint means AWS; empty
	// keys mean the ambient credential chain.
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Continuous profiling options
	ProfilingEnabled bool   // Enable Pyroscope continuous profiling
	ProfilingServer  string // Pyroscope server address
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SHOPSYNC_ prefix (e.g., SHOPSYNC_FEED_CLIENT_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file. A missing explicit file
// is an error; with an empty path the default search paths apply and a missing
// file falls back to defaults and environment variables.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/shopsync")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			// Config file not found is OK, we'll use defaults and env vars
		}
	}

	// Enable environment variable override
	v.SetEnvPrefix("SHOPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Feed: FeedConfig{
			TokenURL:     v.GetString("feed.token_url"),
			ClientID:     v.GetString("feed.client_id"),
			ClientSecret: v.GetString("feed.client_secret"),
			ExportURL:    v.GetString("feed.export_url"),
			PageSize:     v.GetInt("feed.page_size"),
			Language:     v.GetString("feed.language"),
		},
		Target: TargetConfig{
			Endpoint:   v.GetString("target.endpoint"),
			Username:   v.GetString("target.username"),
			Password:   v.GetString("target.password"),
			ShopID:     v.GetString("target.shop_id"),
			TemplateID: v.GetString("target.template_id"),
		},
		HTTP: HTTPConfig{
			Timeout:      v.GetDuration("http.timeout"),
			RetryCount:   v.GetInt("http.retry_count"),
			RetryBackoff: v.GetDuration("http.retry_backoff"),
		},
		Mapping: MappingConfig{
			Path: v.GetString("mapping.path"),
		},
		Sync: SyncConfig{
			Workers: v.GetInt("sync.workers"),
		},
		State: StateConfig{
			Driver:     v.GetString("state.driver"),
			SQLitePath: v.GetString("state.sqlite_path"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Artifact: ArtifactConfig{
			Dir:            v.GetString("artifact.dir"),
			S3Bucket:       v.GetString("artifact.s3_bucket"),
			S3Prefix:       v.GetString("artifact.s3_prefix"),
			S3Region:       v.GetString("artifact.s3_region"),
			S3Endpoint:     v.GetString("artifact.s3_endpoint"),
			S3AccessKey:    v.GetString("artifact.s3_access_key"),
			S3SecretKey:    v.GetString("artifact.s3_secret_key"),
			S3UsePathStyle: v.GetBool("artifact.s3_use_path_style"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shopsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Feed.PageSize == 0 {
		cfg.Feed.PageSize = 100
	}
	if cfg.Target.TemplateID == "" {
		cfg.Target.TemplateID = "1"
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.RetryCount == 0 {
		cfg.HTTP.RetryCount = 3
	}
	if cfg.HTTP.RetryBackoff == 0 {
		cfg.HTTP.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Mapping.Path == "" {
		cfg.Mapping.Path = "mappings/mapping.yaml"
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.State.Driver == "" {
		cfg.State.Driver = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "state/shopsync.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "shopsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 168 * time.Hour
	}
	if cfg.Artifact.Dir == "" {
		cfg.Artifact.Dir = "artifacts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "shopsync"
	}
	// Note: Insecure defaults to false for safety (TLS enabled by default)
	// DBTraceEnabled defaults to false (needs explicit enable)
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	// Note: DBLogFullSQL defaults to false for security (disable in production)
	// ProfilingEnabled defaults to false (needs explicit enable)
	if cfg.Telemetry.ProfilingServer == "" {
		cfg.Telemetry.ProfilingServer = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.State.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("state.driver must be sqlite or postgres, got %q", c.State.Driver)
	}

	if c.HTTP.RetryCount < 0 {
		return fmt.Errorf("http.retry_count cannot be negative")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}

	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Feed.ClientSecret == "" {
			return fmt.Errorf("feed.client_secret is required in production")
		}
		if c.Target.Password == "" {
			return fmt.Errorf("target.password is required in production")
		}
		if c.State.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		// Database tracing: full SQL logging is a security risk in production
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
