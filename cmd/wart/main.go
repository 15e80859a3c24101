// Command wart runs the compute worker: the gRPC worker service and the ops
// HTTP API. An optional YAML config path may be given as the only argument.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/wart/internal/api"
	"github.com/seantiz/wart/internal/config"
	"github.com/seantiz/wart/internal/rpc"
	"github.com/seantiz/wart/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("wart: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: wart [config.yaml]")
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("shutdown tracing", "error", err)
		}
	}()

	logger.Info("wart: starting",
		"rpc_addr", cfg.RPCAddr,
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"storage_addr", cfg.StorageAddr,
		"db_path", cfg.DBPath,
	)

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	rpcLis, err := net.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rpc.NewServer(d.engine, logger).Serve(gctx, rpcLis)
	})
	if cfg.HTTPAddr != "" {
		httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			_ = rpcLis.Close()
			return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
		}
		g.Go(func() error {
			return api.NewServer(d.engine, logger).Serve(gctx, httpLis)
		})
	}

	err = g.Wait()
	logger.Info("wart: stopped")
	return err
}
