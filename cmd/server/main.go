package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragstore/internal/api"
	"ragstore/internal/app"
	"ragstore/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Ingest.Dir != "" {
		g.Go(func() error {
			if err := a.Scanner.Scan(ctx, cfg.Ingest.Dir); err != nil {
				logger.Error("initial scan failed", zap.Error(err))
			}
			if cfg.Ingest.Watch {
				return a.Watcher.Watch(ctx, cfg.Ingest.Dir)
			}
			return nil
		})
	}

	g.Go(func() error {
		return api.NewServer(a.Docs, logger).Run(ctx, cfg.Server.Addr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server exited", zap.Error(err))
	}
}
