package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	LocationMinLength int
	LocationMaxLength int

	RateLimitRPS   int
	RateLimitBurst int

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	HealthCheckTimeout   time.Duration

	WeightsBackend string // "file" or "redis"
	WeightsPath    string
	WeightsWatch   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKey       string

	AlertThreshold float64

	CacheBackend          string // "in_memory", "memcached" or "none"
	CacheTTL              time.Duration
	CacheSize             int
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	KafkaEnabled            bool
	KafkaBrokers            []string
	KafkaSourceTopic        string
	KafkaSinkTopic          string
	KafkaGroupID            string
	KafkaBatchTimeout       time.Duration
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	RegistryPruneInterval time.Duration

	StreamEnabled        bool
	StreamSendBuffer     int
	StreamPingInterval   time.Duration
	StreamAllowedOrigins []string

	TrackedDistricts []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout           string `yaml:"timeout"`
		LocationMinLength int    `yaml:"location_min_length"`
		LocationMaxLength int    `yaml:"location_max_length"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		HealthCheckTimeout   string `yaml:"health_check_timeout"`
	} `yaml:"lifecycle"`

	Model struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Watch   *bool  `yaml:"watch"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Key      string `yaml:"key"`
		} `yaml:"redis"`
	} `yaml:"model"`

	Alert struct {
		Threshold *float64 `yaml:"threshold"`
	} `yaml:"alert"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Size      int    `yaml:"size"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Kafka struct {
		Enabled                 bool     `yaml:"enabled"`
		Brokers                 []string `yaml:"brokers"`
		SourceTopic             string   `yaml:"source_topic"`
		SinkTopic               string   `yaml:"sink_topic"`
		GroupID                 string   `yaml:"group_id"`
		BatchTimeout            string   `yaml:"batch_timeout"`
		BreakerFailureThreshold int      `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string   `yaml:"breaker_timeout"`
	} `yaml:"kafka"`

	Registry struct {
		PruneInterval string `yaml:"prune_interval"`
	} `yaml:"registry"`

	Stream struct {
		Enabled        *bool    `yaml:"enabled"`
		SendBuffer     int      `yaml:"send_buffer"`
		PingInterval   string   `yaml:"ping_interval"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"stream"`

	Metrics struct {
		TrackedDistricts []string `yaml:"tracked_districts"`
	} `yaml:"metrics"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), after loading a .env
// file from the working directory if one exists. Selected env vars override the file.
// Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = envOr("HTTP_PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.LocationMinLength = fc.Request.LocationMinLength
	if cfg.LocationMinLength <= 0 {
		cfg.LocationMinLength = 2
	}
	cfg.LocationMaxLength = fc.Request.LocationMaxLength
	if cfg.LocationMaxLength <= 0 {
		cfg.LocationMaxLength = 100
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	cfg.HealthCheckTimeout = parseDuration(fc.Lifecycle.HealthCheckTimeout, 2*time.Second)

	cfg.WeightsBackend = strings.ToLower(envOr("WEIGHTS_BACKEND", fc.Model.Backend))
	if cfg.WeightsBackend == "" {
		cfg.WeightsBackend = "file"
	}
	cfg.WeightsPath = envOr("WEIGHTS_PATH", fc.Model.Path)
	if cfg.WeightsPath == "" {
		cfg.WeightsPath = "data/weights.txt"
	}
	cfg.WeightsWatch = true
	if fc.Model.Watch != nil {
		cfg.WeightsWatch = *fc.Model.Watch
	}
	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Model.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = envOr("REDIS_PASSWORD", fc.Model.Redis.Password)
	cfg.RedisDB = fc.Model.Redis.DB
	cfg.RedisKey = fc.Model.Redis.Key

	cfg.AlertThreshold = 0.65
	if fc.Alert.Threshold != nil {
		cfg.AlertThreshold = *fc.Alert.Threshold
	}
	if v := strings.TrimSpace(os.Getenv("ALERT_THRESHOLD")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("ALERT_THRESHOLD: %w", err)
		}
		cfg.AlertThreshold = t
	}

	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheSize = fc.Cache.Size
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.KafkaEnabled = fc.Kafka.Enabled
	cfg.KafkaBrokers = fc.Kafka.Brokers
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = splitList(v)
		cfg.KafkaEnabled = true
	}
	cfg.KafkaSourceTopic = fc.Kafka.SourceTopic
	if cfg.KafkaSourceTopic == "" {
		cfg.KafkaSourceTopic = "weather-observations"
	}
	cfg.KafkaSinkTopic = fc.Kafka.SinkTopic
	if cfg.KafkaSinkTopic == "" {
		cfg.KafkaSinkTopic = "risk-predictions"
	}
	cfg.KafkaGroupID = fc.Kafka.GroupID
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "hazard-risk-service"
	}
	cfg.KafkaBatchTimeout = parseDuration(fc.Kafka.BatchTimeout, 50*time.Millisecond)
	cfg.BreakerFailureThreshold = fc.Kafka.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Kafka.BreakerTimeout, 30*time.Second)

	cfg.RegistryPruneInterval = parseDurationOrZero(fc.Registry.PruneInterval, 0)

	cfg.StreamEnabled = true
	if fc.Stream.Enabled != nil {
		cfg.StreamEnabled = *fc.Stream.Enabled
	}
	cfg.StreamSendBuffer = fc.Stream.SendBuffer
	cfg.StreamPingInterval = parseDuration(fc.Stream.PingInterval, 30*time.Second)
	cfg.StreamAllowedOrigins = fc.Stream.AllowedOrigins

	cfg.TrackedDistricts = fc.Metrics.TrackedDistricts

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOr returns the trimmed env var key, or fallback trimmed when the var is unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "none":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or none, got %q", cfg.CacheBackend)
	}
	switch cfg.WeightsBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("model.backend must be file or redis, got %q", cfg.WeightsBackend)
	}
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		return fmt.Errorf("alert.threshold must be in (0, 1], got %v", cfg.AlertThreshold)
	}
	if cfg.LocationMinLength > cfg.LocationMaxLength {
		return fmt.Errorf("request.location_min_length (%d) exceeds location_max_length (%d)",
			cfg.LocationMinLength, cfg.LocationMaxLength)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if cfg.RegistryPruneInterval < 0 {
		return fmt.Errorf("registry.prune_interval must not be negative")
	}
	return nil
}
