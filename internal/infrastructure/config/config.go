package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agent configuration
type Config struct {
	App          AppConfig
	HTTP         HTTPConfig
	LocalStore   LocalStoreConfig
	Remote       RemoteConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	Cache        CacheConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Auth         AuthConfig
	Storage      StorageConfig
	Telemetry    TelemetryConfig
	Log          LogConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// HTTPConfig holds the local API server settings
type HTTPConfig struct {
	Host             string
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxBodySize      int64
	MaxRestoreSize   int64
	CORSAllowOrigins []string
}

// Addr returns the listen address
func (h HTTPConfig) Addr() string {
	return h.Host + ":" + h.Port
}

// LocalStoreConfig configures the on-disk SQLite durable store
type LocalStoreConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// RemoteConfig holds the cloud Postgres connection settings
type RemoteConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	RequestTimeout  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LedgerConfig selects where applied mutation IDs are remembered
type LedgerConfig struct {
	Backend string // memory, redis
	TTL     time.Duration
}

// CacheConfig configures the ephemeral read cache
type CacheConfig struct {
	TTL time.Duration
}

// SyncConfig configures queue replay
type SyncConfig struct {
	MutationTimeout time.Duration
	DrainOnStart    bool
}

// ConnectivityConfig configures the reachability monitor
type ConnectivityConfig struct {
	PollInterval time.Duration
	PingTimeout  time.Duration
}

// AuthConfig holds session token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// StorageConfig holds S3-compatible object storage settings for images and backups
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	BackupPrefix    string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with AGENCY_ prefix (e.g., AGENCY_REMOTE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.agency")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Host:             v.GetString("http.host"),
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			MaxRestoreSize:   v.GetInt64("http.max_restore_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		LocalStore: LocalStoreConfig{
			Path:        v.GetString("local_store.path"),
			BusyTimeout: v.GetDuration("local_store.busy_timeout"),
		},
		Remote: RemoteConfig{
			Host:            v.GetString("remote.host"),
			Port:            v.GetInt("remote.port"),
			User:            v.GetString("remote.user"),
			Password:        v.GetString("remote.password"),
			DBName:          v.GetString("remote.dbname"),
			SSLMode:         v.GetString("remote.sslmode"),
			MaxOpenConns:    v.GetInt("remote.max_open_conns"),
			MaxIdleConns:    v.GetInt("remote.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("remote.conn_max_lifetime"),
			RequestTimeout:  v.GetDuration("remote.request_timeout"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Ledger: LedgerConfig{
			Backend: v.GetString("ledger.backend"),
			TTL:     v.GetDuration("ledger.ttl"),
		},
		Cache: CacheConfig{
			TTL: v.GetDuration("cache.ttl"),
		},
		Sync: SyncConfig{
			MutationTimeout: v.GetDuration("sync.mutation_timeout"),
			DrainOnStart:    v.GetBool("sync.drain_on_start"),
		},
		Connectivity: ConnectivityConfig{
			PollInterval: v.GetDuration("connectivity.poll_interval"),
			PingTimeout:  v.GetDuration("connectivity.ping_timeout"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			BackupPrefix:    v.GetString("storage.backup_prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "agency"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "7420"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.MaxRestoreSize == 0 {
		cfg.HTTP.MaxRestoreSize = 64 << 20
	}
	if cfg.LocalStore.Path == "" {
		cfg.LocalStore.Path = "agency.db"
	}
	if cfg.LocalStore.BusyTimeout == 0 {
		cfg.LocalStore.BusyTimeout = 5 * time.Second
	}
	if cfg.Remote.Host == "" {
		cfg.Remote.Host = "localhost"
	}
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = 5432
	}
	if cfg.Remote.User == "" {
		cfg.Remote.User = "postgres"
	}
	if cfg.Remote.DBName == "" {
		cfg.Remote.DBName = "agency"
	}
	if cfg.Remote.SSLMode == "" {
		cfg.Remote.SSLMode = "disable"
	}
	if cfg.Remote.MaxOpenConns == 0 {
		cfg.Remote.MaxOpenConns = 5
	}
	if cfg.Remote.MaxIdleConns == 0 {
		cfg.Remote.MaxIdleConns = 2
	}
	if cfg.Remote.ConnMaxLifetime == 0 {
		cfg.Remote.ConnMaxLifetime = 30
	}
	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = 10 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "memory"
	}
	if cfg.Ledger.TTL == 0 {
		cfg.Ledger.TTL = 24 * time.Hour
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}
	if cfg.Sync.MutationTimeout == 0 {
		cfg.Sync.MutationTimeout = 15 * time.Second
	}
	if cfg.Connectivity.PollInterval == 0 {
		cfg.Connectivity.PollInterval = 10 * time.Second
	}
	if cfg.Connectivity.PingTimeout == 0 {
		cfg.Connectivity.PingTimeout = 3 * time.Second
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "supabase"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.BackupPrefix == "" {
		cfg.Storage.BackupPrefix = "backups/"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "agency"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
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
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Remote.MaxOpenConns <= 0 {
		return fmt.Errorf("remote.max_open_conns must be positive")
	}
	if c.Remote.MaxIdleConns < 0 {
		return fmt.Errorf("remote.max_idle_conns cannot be negative")
	}
	if c.Remote.MaxIdleConns > c.Remote.MaxOpenConns {
		return fmt.Errorf("remote.max_idle_conns (%d) cannot exceed remote.max_open_conns (%d)",
			c.Remote.MaxIdleConns, c.Remote.MaxOpenConns)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if c.Sync.MutationTimeout < 0 {
		return fmt.Errorf("sync.mutation_timeout cannot be negative")
	}
	switch c.Ledger.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ledger.backend must be 'memory' or 'redis', got %q", c.Ledger.Backend)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required in production")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
		}
		if c.Remote.SSLMode == "disable" {
			return fmt.Errorf("remote.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the remote database connection string with properly escaped values
func (r *RemoteConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(r.User, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   r.DBName,
	}
	q := u.Query()
	q.Set("sslmode", r.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
