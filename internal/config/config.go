package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig gathers runtime settings. Defaults are overlaid by the YAML file
// named in CONFIG_FILE (if any) and then by individual environment variables.
type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	MySQLDSN string `yaml:"mysql_dsn"`

	RedisAddr          string   `yaml:"redis_addr"`
	RedisDB            int      `yaml:"redis_db"`
	RedisPoolSize      int      `yaml:"redis_pool_size"`
	RedisSentinelAddrs []string `yaml:"redis_sentinel_addrs"`
	RedisMasterName    string   `yaml:"redis_master_name"`

	// order stream consumed by the fulfillment loop
	StreamName      string        `yaml:"stream_name"`
	StreamGroup     string        `yaml:"stream_group"`
	ConsumerName    string        `yaml:"consumer_name"`
	StreamBlock     time.Duration `yaml:"stream_block"`
	RecoveryBackoff time.Duration `yaml:"recovery_backoff"`
	MaxDeliveries   int64         `yaml:"max_deliveries"`
	OrderLockTTL    time.Duration `yaml:"order_lock_ttl"`

	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheNullTTL    time.Duration `yaml:"cache_null_ttl"`
	CacheLockTTL    time.Duration `yaml:"cache_lock_ttl"`
	CacheRetryWait  time.Duration `yaml:"cache_retry_wait"`
	CacheRetryLimit int           `yaml:"cache_retry_limit"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	RebuildWorkers  int           `yaml:"rebuild_workers"`
	RebuildQueue    int           `yaml:"rebuild_queue"`
	ShopLogicalTTL  time.Duration `yaml:"shop_logical_ttl"`

	BuyRateLimit  int           `yaml:"buy_rate_limit"`
	BuyRateWindow time.Duration `yaml:"buy_rate_window"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	EnableTelemetry bool   `yaml:"enable_telemetry"`
	CollectorAddr   string `yaml:"collector_addr"`
	LogLevel        string `yaml:"log_level"`
}

func Defaults() AppConfig {
	return AppConfig{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MySQLDSN:        "root:root@tcp(localhost:3306)/seckill?parseTime=true",
		RedisAddr:       "localhost:6379",
		RedisPoolSize:   100,
		RedisMasterName: "mymaster",
		StreamName:      "stream.orders",
		StreamGroup:     "g1",
		ConsumerName:    "c1",
		StreamBlock:     2 * time.Second,
		RecoveryBackoff: 2 * time.Second,
		MaxDeliveries:   5,
		OrderLockTTL:    30 * time.Second,
		CacheTTL:        30 * time.Minute,
		CacheNullTTL:    2 * time.Minute,
		CacheLockTTL:    10 * time.Second,
		CacheRetryWait:  50 * time.Millisecond,
		CacheRetryLimit: 100,
		LoadTimeout:     3 * time.Second,
		RebuildWorkers:  10,
		RebuildQueue:    1000,
		ShopLogicalTTL:  20 * time.Second,
		BuyRateLimit:    5,
		BuyRateWindow:   time.Second,
		SessionTTL:      30 * time.Minute,
		LogLevel:        "info",
	}
}

// Load reads and validates the configuration.
func Load() (AppConfig, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return AppConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnv("GRPC_ADDR", cfg.GRPCAddr)
	cfg.MySQLDSN = getEnv("MYSQL_DSN", cfg.MySQLDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisMasterName = getEnv("REDIS_MASTER_NAME", cfg.RedisMasterName)
	if v := getEnv("REDIS_SENTINEL_ADDRS", ""); v != "" {
		cfg.RedisSentinelAddrs = splitCSV(v)
	}
	cfg.StreamName = getEnv("ORDER_STREAM", cfg.StreamName)
	cfg.StreamGroup = getEnv("ORDER_STREAM_GROUP", cfg.StreamGroup)
	cfg.ConsumerName = getEnv("ORDER_STREAM_CONSUMER", cfg.ConsumerName)
	cfg.CollectorAddr = getEnv("COLLECTOR_SERVICE_ADDR", cfg.CollectorAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if v := getEnv("ENABLE_TELEMETRY", ""); v != "" {
		cfg.EnableTelemetry = v == "1" || strings.EqualFold(v, "true")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"REDIS_POOL_SIZE", &cfg.RedisPoolSize},
		{"CACHE_RETRY_LIMIT", &cfg.CacheRetryLimit},
		{"REBUILD_WORKERS", &cfg.RebuildWorkers},
		{"REBUILD_QUEUE", &cfg.RebuildQueue},
		{"BUY_RATE_LIMIT", &cfg.BuyRateLimit},
	}
	for _, it := range ints {
		v, err := getEnvInt(it.key, *it.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", it.key, err)
		}
		*it.dst = v
	}

	maxDeliveries, err := getEnvInt("MAX_DELIVERIES", int(cfg.MaxDeliveries))
	if err != nil {
		return fmt.Errorf("invalid MAX_DELIVERIES: %w", err)
	}
	cfg.MaxDeliveries = int64(maxDeliveries)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STREAM_BLOCK", &cfg.StreamBlock},
		{"RECOVERY_BACKOFF", &cfg.RecoveryBackoff},
		{"ORDER_LOCK_TTL", &cfg.OrderLockTTL},
		{"CACHE_TTL", &cfg.CacheTTL},
		{"CACHE_NULL_TTL", &cfg.CacheNullTTL},
		{"CACHE_LOCK_TTL", &cfg.CacheLockTTL},
		{"CACHE_RETRY_WAIT", &cfg.CacheRetryWait},
		{"LOAD_TIMEOUT", &cfg.LoadTimeout},
		{"SHOP_LOGICAL_TTL", &cfg.ShopLogicalTTL},
		{"BUY_RATE_WINDOW", &cfg.BuyRateWindow},
		{"SESSION_TTL", &cfg.SessionTTL},
	}
	for _, it := range durations {
		v, err := getEnvDuration(it.key, *it.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", it.key, err)
		}
		*it.dst = v
	}
	return nil
}

func (c AppConfig) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("ORDER_STREAM must not be empty")
	}
	if c.StreamGroup == "" {
		return fmt.Errorf("ORDER_STREAM_GROUP must not be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("ORDER_STREAM_CONSUMER must not be empty")
	}
	if c.RedisAddr == "" && len(c.RedisSentinelAddrs) == 0 {
		return fmt.Errorf("REDIS_ADDR or REDIS_SENTINEL_ADDRS must be set")
	}
	if c.StreamBlock <= 0 {
		return fmt.Errorf("STREAM_BLOCK must be > 0")
	}
	if c.MaxDeliveries <= 0 {
		return fmt.Errorf("MAX_DELIVERIES must be > 0")
	}
	if c.RebuildWorkers <= 0 || c.RebuildQueue <= 0 {
		return fmt.Errorf("REBUILD_WORKERS and REBUILD_QUEUE must be > 0")
	}
	if c.CacheRetryLimit <= 0 {
		return fmt.Errorf("CACHE_RETRY_LIMIT must be > 0")
	}
	if c.BuyRateLimit <= 0 {
		return fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	if c.BuyRateWindow <= 0 {
		return fmt.Errorf("BUY_RATE_WINDOW must be > 0")
	}
	if c.EnableTelemetry && c.CollectorAddr == "" {
		return fmt.Errorf("COLLECTOR_SERVICE_ADDR must be set when telemetry is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration accepts Go duration strings ("2s", "500ms").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
