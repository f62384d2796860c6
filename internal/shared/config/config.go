package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Credits    CreditsConfig    `mapstructure:"credits"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// StripeConfig holds payment processor configuration.
type StripeConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	ProPriceID        string        `mapstructure:"pro_price_id"`
	EnterprisePriceID string        `mapstructure:"enterprise_price_id"`
	SuccessURL        string        `mapstructure:"success_url"`
	CancelURL         string        `mapstructure:"cancel_url"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold"`
	CircuitTimeout    time.Duration `mapstructure:"circuit_timeout"`
	EventLockTTL      time.Duration `mapstructure:"event_lock_ttl"`
}

// HTTPClientConfig holds the client used for payment processor API calls.
// All calls go to a single host, so the pool is sized per host.
type HTTPClientConfig struct {
	// MaxConns caps concurrent connections to the processor. Zero means no cap.
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`

	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	// RequestTimeout bounds a whole call, including reading the body.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TierAllotment is the configured allotment of one tier.
type TierAllotment struct {
	Daily   int `mapstructure:"daily"`
	Monthly int `mapstructure:"monthly"`
}

// CreditsConfig holds ledger configuration.
type CreditsConfig struct {
	// Tiers is keyed by lower-case tier name.
	Tiers          map[string]TierAllotment `mapstructure:"tiers"`
	Timezone       string                   `mapstructure:"timezone"`
	StorageTimeout time.Duration            `mapstructure:"storage_timeout"`
}

// Location loads the timezone whose midnight ends a cycle.
func (c *CreditsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SchedulerConfig holds periodic job configuration.
type SchedulerConfig struct {
	// CronSecret gates the externally triggered job endpoints.
	CronSecret        string        `mapstructure:"cron_secret"`
	Enabled           bool          `mapstructure:"enabled"`
	ResetInterval     time.Duration `mapstructure:"reset_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	Window            time.Duration `mapstructure:"window"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Parallelism       int           `mapstructure:"parallelism"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchDeadline     time.Duration `mapstructure:"batch_deadline"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from path, or from the default search paths
// when path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/iconforge")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	// ICONFORGE_SCHEDULER_CRON_SECRET overrides scheduler.cron_secret, and so on.
	v.SetEnvPrefix("ICONFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("ICONFORGE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("ICONFORGE_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("ICONFORGE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		cfg.Scheduler.CronSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if _, err := c.Credits.Location(); err != nil {
		return fmt.Errorf("credits.timezone: %w", err)
	}
	for name, t := range c.Credits.Tiers {
		if t.Daily <= 0 {
			return fmt.Errorf("credits.tiers.%s.daily: must be positive", name)
		}
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts: must be positive")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "iconforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	// Stripe defaults
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.pro_price_id", "")
	v.SetDefault("stripe.enterprise_price_id", "")
	v.SetDefault("stripe.success_url", "http://localhost:3000/billing/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "http://localhost:3000/billing")
	v.SetDefault("stripe.failure_threshold", 5)
	v.SetDefault("stripe.circuit_timeout", 30*time.Second)
	v.SetDefault("stripe.event_lock_ttl", 30*time.Second)

	// Payment processor client defaults
	v.SetDefault("http_client.max_conns", 16)
	v.SetDefault("http_client.max_idle_conns", 8)
	v.SetDefault("http_client.idle_conn_timeout", time.Minute)
	v.SetDefault("http_client.dial_timeout", 5*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 5*time.Second)
	v.SetDefault("http_client.response_header_timeout", 15*time.Second)
	v.SetDefault("http_client.request_timeout", 20*time.Second)

	// Credits defaults
	v.SetDefault("credits.tiers.free.daily", 5)
	v.SetDefault("credits.tiers.free.monthly", 500)
	v.SetDefault("credits.tiers.pro.daily", 20)
	v.SetDefault("credits.tiers.pro.monthly", 1000)
	v.SetDefault("credits.tiers.enterprise.daily", 50)
	v.SetDefault("credits.tiers.enterprise.monthly", 2000)
	v.SetDefault("credits.timezone", "UTC")
	v.SetDefault("credits.storage_timeout", 5*time.Second)

	// Scheduler defaults
	v.SetDefault("scheduler.cron_secret", "")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.reset_interval", time.Hour)
	v.SetDefault("scheduler.reconcile_interval", 5*time.Minute)
	v.SetDefault("scheduler.window", 24*time.Hour)
	v.SetDefault("scheduler.cooldown", 15*time.Minute)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.parallelism", 4)
	v.SetDefault("scheduler.batch_size", 500)
	v.SetDefault("scheduler.batch_deadline", 4*time.Minute)
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
