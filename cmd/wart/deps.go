package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/config"
	"github.com/seantiz/wart/internal/engine"
	"github.com/seantiz/wart/internal/sandbox"
	"github.com/seantiz/wart/internal/session"
	"github.com/seantiz/wart/internal/store"
)

// deps holds the worker's long-lived collaborators in construction order.
type deps struct {
	logger     *slog.Logger
	redis      *redis.Client
	graph      *backend.Client
	dispatcher *bridge.Dispatcher
	sandbox    *sandbox.Engine
	ledger     store.Store
	engine     *engine.Engine
}

func newDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{logger: logger}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	opts, err := redisOptions(cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.RedisPoolSize
	d.redis = redis.NewClient(opts)
	if err := d.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	sessions := session.NewStore(d.redis, cfg.RedisKeyPrefix, logger)

	reg := backend.NewRegistry(cfg.StorageScheme)
	if cfg.StorageAddr != "" {
		d.graph = backend.NewClient(cfg.StorageScheme, cfg.StorageAddr, cfg.StoragePoolSize, logger)
		reg.Register(cfg.StorageScheme, d.graph)
	}

	workers := cfg.Cores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d.dispatcher = bridge.NewDispatcher(cfg.QueueSize, workers, logger)

	d.sandbox, err = sandbox.NewEngine(ctx, sandbox.Options{
		CompileWorkers: cfg.CompileWorkers,
		CacheDir:       cfg.ModuleCacheDir,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	ledger, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	d.ledger = ledger

	d.engine = engine.NewEngine(engine.Options{
		Sandbox:       d.sandbox,
		Sessions:      sessions,
		Registry:      reg,
		Dispatcher:    d.dispatcher,
		Store:         d.ledger,
		Logger:        logger,
		EpochInterval: cfg.EpochInterval,
		GuestLogLevel: bridge.ParseLevel(cfg.LogLevel),
	})
	ok = true
	return d, nil
}

// Close releases everything newDeps built, in reverse order.
func (d *deps) Close() {
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			d.logger.Error("close run ledger", "error", err)
		}
	}
	if d.sandbox != nil {
		if err := d.sandbox.Close(context.Background()); err != nil {
			d.logger.Error("close sandbox", "error", err)
		}
	}
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.graph != nil {
		if err := d.graph.Close(); err != nil {
			d.logger.Error("close graph client", "error", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Error("close redis", "error", err)
		}
	}
}

// redisOptions accepts either host:port or a redis:// URL.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

func ensureDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return nil
}
