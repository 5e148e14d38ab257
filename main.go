// Unified entry point for ragstore.
// With -scan, ingests a directory once and exits.
// Otherwise, starts the HTTP server (same behavior as cmd/server).
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

	"ragstore/internal/api"
	"ragstore/internal/app"
	"ragstore/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		scanDir    = flag.String("scan", "", "ingest this directory once and exit")
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

	if *scanDir != "" {
		if err := a.Scanner.Scan(ctx, *scanDir); err != nil {
			logger.Fatal("scan failed", zap.Error(err))
		}
		return
	}

	if err := api.NewServer(a.Docs, logger).Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server exited", zap.Error(err))
	}
}
