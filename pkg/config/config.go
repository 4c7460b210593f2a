// Package config loads cardd configuration from an optional YAML file with
// CARDD_* environment overrides (e.g. CARDD_STORE_BACKEND=bolt).
package config

import (
	"fmt"
	"strings"
	"time"

	"cardctl/pkg/auth"
	"cardctl/pkg/logging"
	"cardctl/pkg/resilience"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CARDD"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full cardd configuration.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Log     logging.Config `mapstructure:"log"`
	Store   StoreConfig    `mapstructure:"store"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Cards   CardsConfig    `mapstructure:"cards"`
	Auth    auth.Config    `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the ledger backend.
type StoreConfig struct {
	Backend    string           `mapstructure:"backend"`
	Bolt       BoltConfig       `mapstructure:"bolt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Bloom      BloomConfig      `mapstructure:"bloom"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
}

type BoltConfig struct {
	Path        string        `mapstructure:"path"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type RedisConfig struct {
	Addr         string   `mapstructure:"addr"`
	ClusterAddrs []string `mapstructure:"cluster_addrs"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	KeyPrefix    string   `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// BloomConfig enables the negative-lookup filter. Only enable it when this
// process is the sole writer of the ledger.
type BloomConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	ExpectedItems     uint    `mapstructure:"expected_items"`
	FalsePositiveRate float64 `mapstructure:"false_positive_rate"`
}

type ResilienceConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// Resilient converts to the resilience package's config.
func (c ResilienceConfig) Resilient() resilience.ResilientConfig {
	return resilience.ResilientConfig{
		Timeout: c.Timeout,
		CircuitBreakerConfig: resilience.CircuitBreakerConfig{
			MaxRequests:         c.MaxRequests,
			Interval:            c.Interval,
			Timeout:             c.OpenTimeout,
			ConsecutiveFailures: c.ConsecutiveFailures,
		},
	}
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

type CardsConfig struct {
	ShareLinkTTL time.Duration `mapstructure:"share_link_ttl"`
	LockStripes  int           `mapstructure:"lock_stripes"`
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	res := resilience.DefaultResilientConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Store: StoreConfig{
			Backend: BackendMemory,
			Bolt: BoltConfig{
				Path:        "cardctl.db",
				OpenTimeout: time.Second,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "cardctl",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "cardctl",
				SSLMode:  "disable",
			},
			Bloom: BloomConfig{
				ExpectedItems:     100000,
				FalsePositiveRate: 0.01,
			},
			Resilience: ResilienceConfig{
				Enabled:             true,
				Timeout:             res.Timeout,
				MaxRequests:         res.CircuitBreakerConfig.MaxRequests,
				Interval:            res.CircuitBreakerConfig.Interval,
				OpenTimeout:         res.CircuitBreakerConfig.Timeout,
				ConsecutiveFailures: res.CircuitBreakerConfig.ConsecutiveFailures,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cardctl",
			Path:      "/metrics",
		},
		Cards: CardsConfig{
			ShareLinkTTL: 10 * time.Minute,
			LockStripes:  256,
		},
		Auth: auth.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults and applies CARDD_*
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Settings flattens c into the nested key map Load reads, with secrets
// redacted. It backs `cardd config`.
func (c *Config) Settings() map[string]interface{} {
	v := viper.New()
	setDefaults(v, c)
	for _, key := range []string{"store.redis.password", "store.postgres.password"} {
		if v.GetString(key) != "" {
			v.Set(key, "<redacted>")
		}
	}
	if len(c.Auth.StaticTokens) > 0 {
		v.Set("auth.static_tokens", fmt.Sprintf("<%d redacted>", len(c.Auth.StaticTokens)))
	}
	return v.AllSettings()
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", d.Log.OutputPaths)
	v.SetDefault("log.error_output_paths", d.Log.ErrorOutputPaths)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.enable_caller", d.Log.EnableCaller)
	v.SetDefault("log.enable_stacktrace", d.Log.EnableStacktrace)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.bolt.path", d.Store.Bolt.Path)
	v.SetDefault("store.bolt.open_timeout", d.Store.Bolt.OpenTimeout)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.cluster_addrs", d.Store.Redis.ClusterAddrs)
	v.SetDefault("store.redis.username", d.Store.Redis.Username)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.key_prefix", d.Store.Redis.KeyPrefix)
	v.SetDefault("store.postgres.host", d.Store.Postgres.Host)
	v.SetDefault("store.postgres.port", d.Store.Postgres.Port)
	v.SetDefault("store.postgres.user", d.Store.Postgres.User)
	v.SetDefault("store.postgres.password", d.Store.Postgres.Password)
	v.SetDefault("store.postgres.database", d.Store.Postgres.Database)
	v.SetDefault("store.postgres.sslmode", d.Store.Postgres.SSLMode)
	v.SetDefault("store.bloom.enabled", d.Store.Bloom.Enabled)
	v.SetDefault("store.bloom.expected_items", d.Store.Bloom.ExpectedItems)
	v.SetDefault("store.bloom.false_positive_rate", d.Store.Bloom.FalsePositiveRate)
	v.SetDefault("store.resilience.enabled", d.Store.Resilience.Enabled)
	v.SetDefault("store.resilience.timeout", d.Store.Resilience.Timeout)
	v.SetDefault("store.resilience.max_requests", d.Store.Resilience.MaxRequests)
	v.SetDefault("store.resilience.interval", d.Store.Resilience.Interval)
	v.SetDefault("store.resilience.open_timeout", d.Store.Resilience.OpenTimeout)
	v.SetDefault("store.resilience.consecutive_failures", d.Store.Resilience.ConsecutiveFailures)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("cards.share_link_ttl", d.Cards.ShareLinkTTL)
	v.SetDefault("cards.lock_stripes", d.Cards.LockStripes)

	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("auth.demo_code", d.Auth.DemoCode)
	v.SetDefault("auth.static_tokens", d.Auth.StaticTokens)
}

// Validate checks values the services cannot default on their own.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must be set")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.Bolt.Path == "" {
			return fmt.Errorf("config: store.bolt.path must be set for the bolt backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" && len(c.Store.Redis.ClusterAddrs) == 0 {
			return fmt.Errorf("config: store.redis.addr or store.redis.cluster_addrs must be set")
		}
	case BackendPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Port <= 0 {
			return fmt.Errorf("config: store.postgres.host and store.postgres.port must be set")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	if c.Store.Bloom.Enabled {
		if rate := c.Store.Bloom.FalsePositiveRate; rate <= 0 || rate >= 1 {
			return fmt.Errorf("config: store.bloom.false_positive_rate must be in (0, 1)")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace must be set when metrics are enabled")
	}
	if c.Cards.ShareLinkTTL <= 0 {
		return fmt.Errorf("config: cards.share_link_ttl must be positive")
	}
	if c.Auth.DemoCode == "" {
		return fmt.Errorf("config: auth.demo_code must be set")
	}
	return nil
}
