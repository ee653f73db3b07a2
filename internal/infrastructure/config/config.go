// Package config loads the server configuration.
//
// Values come from, highest priority first: ADMIN_* environment variables
// (ADMIN_DATABASE_PASSWORD sets database.password), config.toml in the
// working directory, /etc/collab-admin or /app, and the defaults table below.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	Path   string `mapstructure:"path"`   // sqlite file, or ":memory:"

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int `mapstructure:"max_open_conns"`
	MaxIdleConns    int `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`  // minutes
	ConnMaxIdleTime int `mapstructure:"conn_max_idle_time"` // minutes

	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

type HTTPConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// AdminConfig holds the authentication and validation rules of the admin
// service.
type AdminConfig struct {
	MasterLogin        string `mapstructure:"master_login"`
	MasterPasswordHash string `mapstructure:"master_password_hash"`

	MasterAuthEnabled       bool `mapstructure:"master_auth_enabled"`
	TenantAuthEnabled       bool `mapstructure:"tenant_auth_enabled"`
	MasterMayManageTenants  bool `mapstructure:"master_may_manage_tenants"`
	LowercaseMasterLogin    bool `mapstructure:"lowercase_master_login"`
	DelegateAdminResolution bool `mapstructure:"delegate_admin_resolution"`

	NamePattern     string `mapstructure:"name_pattern"`
	DisallowedChars string `mapstructure:"disallowed_chars"`
	MailPattern     string `mapstructure:"mail_pattern"`

	BcryptCost   int           `mapstructure:"bcrypt_cost"`
	AuthCacheTTL time.Duration `mapstructure:"auth_cache_ttl"`
	// AuthCacheKey keys the secret digests kept in a shared credential
	// cache. Nodes sharing a Redis cache must use the same key.
	AuthCacheKey string `mapstructure:"auth_cache_key"`

	// Extensions are the built-in extensions to register, in chain order
	Extensions     []string `mapstructure:"extensions"`
	MailboxQuotaMB int      `mapstructure:"mailbox_quota_mb"`
}

type CacheConfig struct {
	Backend             string        `mapstructure:"backend"` // memory, redis, tiered or none
	TTL                 time.Duration `mapstructure:"ttl"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	KeyPrefix           string        `mapstructure:"key_prefix"`
	InvalidationChannel string        `mapstructure:"invalidation_channel"`
}

// StorageConfig points the filestore extension at an S3-compatible bucket
type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // OTLP gRPC host:port
	Insecure          bool    `mapstructure:"insecure"`
	SamplingRatio     float64 `mapstructure:"sampling_ratio"`
	ServiceName       string  `mapstructure:"service_name"`

	DBTraceEnabled bool `mapstructure:"db_trace_enabled"`
	// DBLogFullSQL puts bound values into logs and spans, which may include
	// password hashes; production refuses it.
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`

	Profiler ProfilerConfig `mapstructure:"profiler"`
}

// ProfilerConfig points continuous profiling at a Pyroscope server.
type ProfilerConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	ServerAddress        string   `mapstructure:"server_address"`
	ApplicationName      string   `mapstructure:"application_name"`
	BasicAuthUser        string   `mapstructure:"basic_auth_user"`
	BasicAuthPassword    string   `mapstructure:"basic_auth_password"`
	ProfileTypes         []string `mapstructure:"profile_types"`
	MutexProfileFraction int      `mapstructure:"mutex_profile_fraction"`
	BlockProfileRate     int      `mapstructure:"block_profile_rate"`
	// SpanProfiles links CPU samples to trace spans while tracing is on.
	SpanProfiles bool `mapstructure:"span_profiles"`
}

// defaults registers every key, which is also what makes the key visible
// to environment overrides during Unmarshal.
var defaults = map[string]any{
	"app.name": "collab-admin",
	"app.env":  "development",
	"app.port": "8080",

	"database.driver":             "postgres",
	"database.path":               "admin.db",
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "collab",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,
	"database.migrations_path":    "migrations",

	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":     15 * time.Second,
	"http.write_timeout":    15 * time.Second,
	"http.idle_timeout":     time.Minute,
	"http.max_header_bytes": 1 << 20,
	"http.max_body_size":    1 << 20,
	"http.trusted_proxies":  []string{},

	"admin.master_login":              "",
	"admin.master_password_hash":      "",
	"admin.master_auth_enabled":       true,
	"admin.tenant_auth_enabled":       true,
	"admin.master_may_manage_tenants": true,
	"admin.lowercase_master_login":    false,
	"admin.delegate_admin_resolution": false,
	"admin.name_pattern":              `^[A-Za-z0-9._@-]+$`,
	"admin.disallowed_chars":          " \t\r\n/\\,;:*?\"<>|",
	"admin.mail_pattern":              "",
	"admin.bcrypt_cost":               12,
	"admin.auth_cache_ttl":            5 * time.Minute,
	"admin.auth_cache_key":            "",
	"admin.extensions":                []string{"mailbox", "filestore", "audit"},
	"admin.mailbox_quota_mb":          1024,

	"cache.backend":              "memory",
	"cache.ttl":                  10 * time.Minute,
	"cache.cleanup_interval":     time.Minute,
	"cache.key_prefix":           "admin:cache:",
	"cache.invalidation_channel": "admin:cache:invalidate",

	"storage.enabled":        false,
	"storage.endpoint":       "",
	"storage.region":         "us-east-1",
	"storage.bucket":         "",
	"storage.access_key":     "",
	"storage.secret_key":     "",
	"storage.use_ssl":        false,
	"storage.use_path_style": true,

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.insecure":                false,
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "collab-admin",
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,

	"telemetry.profiler.enabled":                false,
	"telemetry.profiler.server_address":         "http://localhost:4040",
	"telemetry.profiler.application_name":       "collab-admin",
	"telemetry.profiler.basic_auth_user":        "",
	"telemetry.profiler.basic_auth_password":    "",
	"telemetry.profiler.profile_types":          []string{"cpu", "alloc_space", "inuse_space", "goroutines"},
	"telemetry.profiler.mutex_profile_fraction": 5,
	"telemetry.profiler.block_profile_rate":     5,
	"telemetry.profiler.span_profiles":          true,
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, dir := range []string{".", "/etc/collab-admin", "/app"} {
		v.AddConfigPath(dir)
	}
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvPrefix("ADMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate reports every problem at once, one per line.
func (c *Config) validate() error {
	var problems []string
	check := func(bad bool, format string, args ...any) {
		if bad {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	db := c.Database
	check(db.Driver != "postgres" && db.Driver != "sqlite",
		"database.driver must be postgres or sqlite, got %q", db.Driver)
	check(db.MaxOpenConns <= 0, "database.max_open_conns must be positive")
	check(db.MaxIdleConns < 0, "database.max_idle_conns cannot be negative")
	check(db.MaxIdleConns > db.MaxOpenConns,
		"database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)", db.MaxIdleConns, db.MaxOpenConns)

	switch c.Cache.Backend {
	case "memory", "redis", "tiered", "none":
	default:
		check(true, "cache.backend must be memory, redis, tiered or none, got %q", c.Cache.Backend)
	}

	a := c.Admin
	check(a.BcryptCost < 4 || a.BcryptCost > 31, "admin.bcrypt_cost must be between 4 and 31, got %d", a.BcryptCost)
	check(a.MasterAuthEnabled && a.MasterLogin != "" && a.MasterPasswordHash == "",
		"admin.master_password_hash is required when admin.master_login is set")
	check(c.Storage.Enabled && c.Storage.Bucket == "", "storage.bucket is required when storage is enabled")
	check(c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1,
		"telemetry.sampling_ratio must be between 0 and 1, got %g", c.Telemetry.SamplingRatio)
	prof := c.Telemetry.Profiler
	check(prof.Enabled && prof.ServerAddress == "", "telemetry.profiler.server_address is required when the profiler is enabled")
	check(prof.Enabled && prof.ApplicationName == "", "telemetry.profiler.application_name is required when the profiler is enabled")

	if c.App.Env == "production" {
		check(db.Driver != "postgres", "database.driver must be postgres in production")
		check(db.Password == "", "database.password is required in production")
		check(db.SSLMode == "disable", "database.sslmode cannot be 'disable' in production")
		check(!a.MasterAuthEnabled || !a.TenantAuthEnabled, "authentication cannot be disabled in production")
		check(a.MasterLogin == "", "admin.master_login is required in production")
		check(c.Telemetry.DBLogFullSQL, "telemetry.db_log_full_sql must be off in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// DSN is the sqlite path, or a postgres URL with user and password escaped.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}
