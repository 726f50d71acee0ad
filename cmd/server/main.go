package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/store"
	"github.com/shiftsync/shiftsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := log.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var docs store.DocumentStore
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open document store", log.Error(err))
		}
		defer func() { _ = pg.Close() }()
		docs = pg
	} else {
		logger.Warn("no database configured, using in-memory document store")
		docs = store.NewMemoryStore()
	}

	srv := server.NewServer(cfg, docs, logger)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("start server", log.Error(err))
	}

	<-stopCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("stop server", log.Error(err))
	}
}
