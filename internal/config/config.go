package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Log        LogConfig        `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// QueueConfig tunes the per-channel delivery queues. Backend selects the
// implementation: "redis" (streams, default) or "kafka".
type QueueConfig struct {
	Backend    string        `mapstructure:"backend"`
	Group      string        `mapstructure:"group"`
	BatchSize  int           `mapstructure:"batch_size"`
	Block      time.Duration `mapstructure:"block"`
	ClaimAfter time.Duration `mapstructure:"claim_after"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

type ScannerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type ProviderConfig struct {
	Name          string   `mapstructure:"name"`
	Enabled       bool     `mapstructure:"enabled"`
	Channels      []string `mapstructure:"channels"`
	BaseURL       string   `mapstructure:"base_url"`
	SendPath      string   `mapstructure:"send_path"`
	TimeoutMs     int      `mapstructure:"timeout_ms"`
	WebhookSecret string   `mapstructure:"webhook_secret"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MSGGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MSGGW_*)
	v.SetEnvPrefix("MSGGW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
