package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/joho/godotenv/autoload"
)

const (
	EnvDev   = "dev"
	EnvProd  = "prod"
	EnvLocal = "local"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	BackendRedis   = "redis"
)

type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`

	HTTP     HTTPConfig
	Store    StoreConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	Reminder ReminderConfig
	Notify   NotifyConfig
	Legacy   LegacyConfig
	Sweeper  SweeperConfig
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
	Debug           bool          `env:"HTTP_DEBUG" env-default:"false"`
}

type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" env-default:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"mytasks.db"`
}

type PostgresConfig struct {
	Host           string        `env:"POSTGRES_HOST" env-default:"localhost"`
	Port           int           `env:"POSTGRES_PORT" env-default:"5432"`
	Username       string        `env:"POSTGRES_USERNAME"`
	Password       string        `env:"POSTGRES_PASSWORD"`
	Database       string        `env:"POSTGRES_DATABASE" env-default:"mytasks"`
	SSLMode        string        `env:"POSTGRES_SSL_MODE" env-default:"disable"`
	ConnectTimeout time.Duration `env:"POSTGRES_CONNECT_TIMEOUT" env-default:"10s"`
	PingTimeout    time.Duration `env:"POSTGRES_PING_TIMEOUT" env-default:"10s"`
}

// URL returns the pgx connection string.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type JWTConfig struct {
	Issuer          string        `env:"JWT_ISSUER" env-default:"mytasks"`
	SigningKey      string        `env:"JWT_SIGNING_KEY" env-required:"true"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TOKEN_TTL" env-default:"720h"`
}

type ReminderConfig struct {
	DefaultDelay  time.Duration `env:"REMINDER_DEFAULT_DELAY" env-default:"1m"`
	SnoozeDelay   time.Duration `env:"REMINDER_SNOOZE_DELAY" env-default:"5m"`
	LookupTimeout time.Duration `env:"REMINDER_LOOKUP_TIMEOUT" env-default:"5s"`
	InboxSize     int           `env:"REMINDER_INBOX_SIZE" env-default:"50"`
}

type NotifyConfig struct {
	WebhookURL string        `env:"NOTIFY_WEBHOOK_URL"`
	Command    string        `env:"NOTIFY_COMMAND"`
	Timeout    time.Duration `env:"NOTIFY_TIMEOUT" env-default:"10s"`
	Workers    int           `env:"NOTIFY_WORKERS" env-default:"4"`
}

type LegacyConfig struct {
	Backend       string `env:"LEGACY_BACKEND" env-default:"sqlite"`
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
}

type SweeperConfig struct {
	Cron string `env:"SWEEPER_CRON" env-default:"@every 1h"`
}

// Read loads the configuration from path when it is set, otherwise from the
// environment only. Variables from a .env file are loaded on import.
func Read(path string) (*Config, error) {
	cfg := new(Config)
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvProd, EnvLocal:
	default:
		return fmt.Errorf("unknown env: %s", c.Env)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}
	switch c.Legacy.Backend {
	case DriverSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown legacy backend: %s", c.Legacy.Backend)
	}
	if c.Legacy.Backend == DriverSQLite && c.Store.Driver != DriverSQLite {
		return fmt.Errorf("legacy backend sqlite requires store driver sqlite")
	}
	if c.Reminder.DefaultDelay <= 0 || c.Reminder.SnoozeDelay <= 0 {
		return fmt.Errorf("reminder delays must be positive")
	}
	return nil
}
