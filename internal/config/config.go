// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// How long shutdown lets waiting /generate calls finish before
	// cancelling them.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type BatchConfig struct {
	MaxSize     int           `yaml:"max_size"`
	Interval    time.Duration `yaml:"interval"`
	MaxLength   int           `yaml:"max_length"`
	CallTimeout time.Duration `yaml:"call_timeout"` // 0 = unbounded backend call
}

type WaitConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ResultsConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis
	TTL           time.Duration `yaml:"ttl"`
	KeepOrphans   bool          `yaml:"keep_orphans"` // never sweep unconsumed results
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Shards        int           `yaml:"shards"`
}

type QueueConfig struct {
	Backend string `yaml:"backend"` // memory | redis
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackendConfig struct {
	Provider    string        `yaml:"provider"` // echo | openai | gemini
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	EchoLatency time.Duration `yaml:"echo_latency"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty disables auth
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Batch   BatchConfig   `yaml:"batch"`
	Wait    WaitConfig    `yaml:"wait"`
	Results ResultsConfig `yaml:"results"`
	Queue   QueueConfig   `yaml:"queue"`
	Redis   RedisConfig   `yaml:"redis"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads an optional YAML file, then a .env file if present, then
// applies environment overrides and defaults. A missing config file is not an
// error; the service is expected to run from environment variables alone.
func LoadConfig(configPath string, dev bool) (*Config, error) {
	var cfg Config
	if configPath != "" {
		b, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// .env never overrides variables already set in the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DrainTimeout == 0 {
		cfg.Server.DrainTimeout = 5 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 8000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 50
	}
	if cfg.Batch.Interval == 0 {
		cfg.Batch.Interval = 100 * time.Millisecond
	}
	if cfg.Batch.MaxLength == 0 {
		cfg.Batch.MaxLength = 50
	}
	if cfg.Wait.Timeout == 0 {
		cfg.Wait.Timeout = 60 * time.Second
	}
	if cfg.Wait.PollInterval == 0 {
		cfg.Wait.PollInterval = 100 * time.Millisecond
	}
	if cfg.Results.Backend == "" {
		cfg.Results.Backend = "memory"
	}
	if cfg.Results.TTL == 0 {
		cfg.Results.TTL = 10 * time.Minute
	}
	if cfg.Results.SweepInterval == 0 {
		cfg.Results.SweepInterval = time.Minute
	}
	if cfg.Results.Shards <= 0 {
		cfg.Results.Shards = 32
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "inference"
	}
	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = "echo"
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = "openai-community/gpt2"
	}
	if cfg.Backend.HTTPTimeout == 0 {
		cfg.Backend.HTTPTimeout = 120 * time.Second
	}
	if cfg.Backend.BaseURL == "" && cfg.Backend.Provider == "openai" {
		cfg.Backend.BaseURL = "https://api.openai.com/v1"
	}
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Batch.MaxSize <= 0 {
		return errors.New("batch.max_size must be positive")
	}
	if c.Batch.Interval <= 0 {
		return errors.New("batch.interval must be positive")
	}
	if c.Batch.MaxLength <= 0 {
		return errors.New("batch.max_length must be positive")
	}
	if c.Wait.Timeout <= 0 {
		return errors.New("wait.timeout must be positive")
	}
	if c.Wait.PollInterval <= 0 {
		return errors.New("wait.poll_interval must be positive")
	}
	if c.Results.TTL < 0 {
		return errors.New("results.ttl must not be negative")
	}
	switch c.Results.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("results.backend %q not supported", c.Results.Backend)
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend %q not supported", c.Queue.Backend)
	}
	if (c.Results.Backend == "redis" || c.Queue.Backend == "redis") && c.Redis.URL == "" {
		return errors.New("redis.url is required for redis backends")
	}
	switch c.Backend.Provider {
	case "echo":
	case "openai", "gemini":
		if c.Backend.APIKey == "" {
			return fmt.Errorf("backend.api_key is required for provider %s", c.Backend.Provider)
		}
	default:
		return fmt.Errorf("backend.provider %q not supported", c.Backend.Provider)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseSeconds(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MODEL_NAME", &cfg.Backend.Model)
	num("MAX_BATCH_SIZE", &cfg.Batch.MaxSize)
	dur("BATCH_TIME", &cfg.Batch.Interval)
	dur("TIMEOUT", &cfg.Wait.Timeout)
	num("MAX_LENGTH", &cfg.Batch.MaxLength)
	dur("POLL_INTERVAL", &cfg.Wait.PollInterval)
	dur("RESULT_TTL", &cfg.Results.TTL)
	str("BACKEND_PROVIDER", &cfg.Backend.Provider)
	str("BACKEND_BASE_URL", &cfg.Backend.BaseURL)
	str("BACKEND_API_KEY", &cfg.Backend.APIKey)
	str("STORE_BACKEND", &cfg.Results.Backend)
	str("QUEUE_BACKEND", &cfg.Queue.Backend)
	str("REDIS_URL", &cfg.Redis.URL)
	num("API_PORT", &cfg.Server.Port)
	num("METRICS_PORT", &cfg.Metrics.Port)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	if v, ok := lookup("KEEP_ORPHANS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KEEP_ORPHANS: %w", err))
		} else {
			cfg.Results.KeepOrphans = b
		}
	}

	return errors.Join(errs...)
}

// parseSeconds accepts Go duration strings ("250ms") or bare seconds ("0.1").
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
