package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig holds either a full DSN or the discrete connection parts.
// Parts are used only when DSN is empty.
type PostgresConfig struct {
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	ConnectTimeout  time.Duration
}

// RedisConfig backs the login limiter. Timeout bounds every command so a
// slow server cannot hold up a login.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	PoolSize int
}

type LogConfig struct {
	Level string
}

type SessionConfig struct {
	TTL           time.Duration
	TokenBytes    int
	TokenAttempts int
	MaxIPAudit    int
	PruneSchedule string
}

type PasswordConfig struct {
	BcryptCost int
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type LoginThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Log              LogConfig
	Session          SessionConfig
	Password         PasswordConfig
	Retry            RetryConfig
	LoginThrottle    LoginThrottleConfig
	Metrics          MetricsConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*AppConfig, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PROGKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the DB_* variables used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"postgres.host":     "DB_HOST",
		"postgres.port":     "DB_PORT",
		"postgres.user":     "DB_USER",
		"postgres.password": "DB_PASSWORD",
		"postgres.database": "DB_DATABASE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "PROGKEEPER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "progkeeper")
	v.SetDefault("postgres.password", "change_me")
	v.SetDefault("postgres.database", "progkeeper")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)
	v.SetDefault("postgres.connecttimeout", "5s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", "250ms")
	v.SetDefault("redis.poolsize", 10)

	v.SetDefault("log.level", "")

	v.SetDefault("session.ttl", "336h") // 14 days
	v.SetDefault("session.tokenbytes", 32)
	v.SetDefault("session.tokenattempts", 5)
	v.SetDefault("session.maxipaudit", 64)
	v.SetDefault("session.pruneschedule", "0 0 * * * *")

	v.SetDefault("password.bcryptcost", 12)

	v.SetDefault("retry.maxretries", 3)
	v.SetDefault("retry.initialinterval", "50ms")
	v.SetDefault("retry.maxinterval", "1s")

	v.SetDefault("loginthrottle.enabled", true)
	v.SetDefault("loginthrottle.maxattempts", 10)
	v.SetDefault("loginthrottle.window", "15m")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *AppConfig) Validate() error {
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Session.TokenBytes < 32 {
		return fmt.Errorf("session.tokenbytes must be at least 32")
	}
	if c.Session.TokenAttempts < 1 {
		return fmt.Errorf("session.tokenattempts must be at least 1")
	}
	if c.Session.MaxIPAudit < 1 {
		return fmt.Errorf("session.maxipaudit must be at least 1")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxretries must not be negative")
	}
	if c.LoginThrottle.Enabled {
		if c.LoginThrottle.MaxAttempts < 1 {
			return fmt.Errorf("loginthrottle.maxattempts must be at least 1")
		}
		// EXPIRE with a zero ttl deletes the counter
		if c.LoginThrottle.Window < time.Second {
			return fmt.Errorf("loginthrottle.window must be at least 1s")
		}
	}
	return nil
}

// PostgresDSN returns the configured DSN, assembling one from the discrete
// parts when none was given.
func (c PostgresConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}
