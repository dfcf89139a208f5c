package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the campusgate backend.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Security      SecurityConfig      `mapstructure:"security"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         LogFileConfig `mapstructure:"log_file"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogFileConfig enables a rotated log file alongside stdout.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`

	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT          JWTSettings `mapstructure:"jwt"`
	APIKeyHeader string      `mapstructure:"api_key_header"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// AuditConfig controls how audit entries are persisted.
type AuditConfig struct {
	Async        bool          `mapstructure:"async"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SecurityConfig groups the incident, blocklist and request limiting settings.
type SecurityConfig struct {
	Blocklist BlocklistConfig `mapstructure:"blocklist"`
	Incidents IncidentsConfig `mapstructure:"incidents"`
	Anomaly   AnomalyConfig   `mapstructure:"anomaly"`
	AutoBlock AutoBlockConfig `mapstructure:"auto_block"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// BlocklistConfig sizes the blocklist lookup cache. A zero size disables it.
type BlocklistConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// IncidentsConfig tunes incident maintenance.
type IncidentsConfig struct {
	CleanupDays    int    `mapstructure:"cleanup_days"`
	ReportSchedule string `mapstructure:"report_schedule"`
}

// AnomalyConfig configures the burst detector.
type AnomalyConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"`
	Capacity  int           `mapstructure:"capacity"`
}

// AutoBlockConfig enables blocking addresses behind anomalous failures.
type AutoBlockConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Duration time.Duration `mapstructure:"duration"`
}

// RateLimitConfig configures the per-IP token bucket. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RealtimeConfig configures the monitoring websocket.
type RealtimeConfig struct {
	Room       string `mapstructure:"room"`
	BufferSize int    `mapstructure:"buffer_size"`
	// ClientBuffer is the per-connection queue; a client that falls further behind is dropped.
	ClientBuffer int `mapstructure:"client_buffer"`
}

// NotificationsConfig configures outbound incident alerts.
type NotificationsConfig struct {
	URLs        []string `mapstructure:"urls"`
	MinPriority string   `mapstructure:"min_priority"`
}

// TracingConfig enables OpenTelemetry export when Endpoint is set.
type TracingConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	Protocol     string  `mapstructure:"protocol"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// BootstrapConfig seeds the first administrator on an empty database.
type BootstrapConfig struct {
	AdminUsername string `mapstructure:"admin_username"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// An explicit file path takes precedence over the search paths.
func LoadConfig(file string, paths ...string) (*Config, error) {
	v := viper.New()
	if strings.TrimSpace(file) != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("CAMPUSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	_ = v.BindEnv("auth.jwt.secret")
	_ = v.BindEnv("database.dsn")
	_ = v.BindEnv("bootstrap.admin_password")

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("config: auth.jwt.secret is required")
	}
	if len(c.Auth.JWT.Secret) < 32 {
		return errors.New("config: auth.jwt.secret must be at least 32 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range", c.Server.Port)
	}
	if c.Security.AutoBlock.Enabled && c.Security.AutoBlock.Duration <= 0 {
		return errors.New("config: security.auto_block.duration must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New("config: tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file.path", "")
	v.SetDefault("server.log_file.max_size_mb", 10)
	v.SetDefault("server.log_file.max_backups", 3)
	v.SetDefault("server.log_file.max_age_days", 28)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/campusgate.sqlite")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.slow_query_threshold", "500ms")

	v.SetDefault("auth.jwt.issuer", "campusgate")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.api_key_header", "X-API-Key")

	v.SetDefault("audit.async", false)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.write_timeout", "5s")

	v.SetDefault("security.blocklist.cache_size", 4096)
	v.SetDefault("security.blocklist.cache_ttl", "30s")
	v.SetDefault("security.incidents.cleanup_days", 7)
	v.SetDefault("security.incidents.report_schedule", "@every 5m")
	v.SetDefault("security.anomaly.enabled", true)
	v.SetDefault("security.anomaly.window", "1m")
	v.SetDefault("security.anomaly.threshold", 10)
	v.SetDefault("security.anomaly.capacity", 10000)
	v.SetDefault("security.auto_block.enabled", false)
	v.SetDefault("security.auto_block.duration", "1h")
	v.SetDefault("security.rate_limit.requests_per_second", 20)
	v.SetDefault("security.rate_limit.burst", 40)
	v.SetDefault("security.cors.allowed_origins", []string{})

	v.SetDefault("realtime.room", "soc-monitoring")
	v.SetDefault("realtime.buffer_size", 256)
	v.SetDefault("realtime.client_buffer", 64)

	v.SetDefault("notifications.urls", []string{})
	v.SetDefault("notifications.min_priority", "HIGH")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "http")
	v.SetDefault("tracing.service_name", "campusgate")
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("bootstrap.admin_username", "admin")
	v.SetDefault("bootstrap.admin_email", "admin@campus.local")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
