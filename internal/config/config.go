package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultRPCAddr         = ":6066"
	defaultHTTPAddr        = ":8080"
	defaultRedisAddr       = "127.0.0.1:6379"
	defaultStorageAddr     = "127.0.0.1:6067"
	defaultStorageScheme   = "nebula"
	defaultDBPath          = "wart.db"
	defaultEpochInterval   = 100 * time.Millisecond
	defaultQueueSize       = 256
	defaultRedisPoolSize   = 128
	defaultStoragePoolSize = 8
	defaultServiceName     = "wart-worker"
)

// Config holds worker configuration. Values come from defaults, then the
// optional YAML file, then WART_* environment variables.
type Config struct {
	RPCAddr       string `yaml:"rpc_server" env:"WART_RPC_ADDR"`
	HTTPAddr      string `yaml:"http_server" env:"WART_HTTP_ADDR"`
	RedisAddr     string `yaml:"redis_server" env:"WART_REDIS_ADDR"`
	StorageAddr   string `yaml:"storage_server" env:"WART_STORAGE_ADDR"`
	StorageScheme string `yaml:"storage_scheme" env:"WART_STORAGE_SCHEME"`
	Cores         int    `yaml:"cores" env:"WART_CORES"`
	LogLevel      string `yaml:"log_level" env:"WART_LOG_LEVEL"`
	DBPath        string `yaml:"db_path" env:"WART_DB_PATH"`

	EpochInterval   time.Duration `yaml:"epoch_interval" env:"WART_EPOCH_INTERVAL"`
	QueueSize       int           `yaml:"queue_size" env:"WART_QUEUE_SIZE"`
	RedisPoolSize   int           `yaml:"redis_pool_size" env:"WART_REDIS_POOL_SIZE"`
	StoragePoolSize int           `yaml:"storage_pool_size" env:"WART_STORAGE_POOL_SIZE"`
	CompileWorkers  int           `yaml:"compile_workers" env:"WART_COMPILE_WORKERS"`
	ModuleCacheDir  string        `yaml:"module_cache_dir" env:"WART_MODULE_CACHE_DIR"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix" env:"WART_REDIS_KEY_PREFIX"`

	ServiceName  string `yaml:"service_name" env:"WART_SERVICE_NAME"`
	OTelEndpoint string `yaml:"otel_endpoint" env:"WART_OTEL_ENDPOINT"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		RPCAddr:         defaultRPCAddr,
		HTTPAddr:        defaultHTTPAddr,
		RedisAddr:       defaultRedisAddr,
		StorageAddr:     defaultStorageAddr,
		StorageScheme:   defaultStorageScheme,
		LogLevel:        "info",
		DBPath:          defaultDBPath,
		EpochInterval:   defaultEpochInterval,
		QueueSize:       defaultQueueSize,
		RedisPoolSize:   defaultRedisPoolSize,
		StoragePoolSize: defaultStoragePoolSize,
		ServiceName:     defaultServiceName,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are consulted.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the worker cannot run with.
func (c Config) Validate() error {
	if c.RPCAddr == "" {
		return fmt.Errorf("config: rpc_server is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("config: redis_server is required")
	}
	if c.EpochInterval <= 0 {
		return fmt.Errorf("config: epoch_interval must be positive, got %s", c.EpochInterval)
	}
	if c.QueueSize <= 0 || c.RedisPoolSize <= 0 || c.StoragePoolSize <= 0 {
		return fmt.Errorf("config: queue and pool sizes must be positive")
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
