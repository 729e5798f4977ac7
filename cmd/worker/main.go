package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/margex/ledger/internal/config"
	"github.com/margex/ledger/internal/consumer"
	"github.com/margex/ledger/internal/infra"
	"github.com/margex/ledger/internal/ledger"
	"github.com/margex/ledger/internal/logging"
	"github.com/margex/ledger/internal/outbox"
)

// The worker runs the two asynchronous halves of the ledger: the stream
// consumer applying upstream trading events, and the outbox relay moving
// committed events onto Redis streams.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backend := ledger.NewPostgres(db)
	if err := backend.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	svc := ledger.NewService(backend, logger)
	publisher := outbox.NewRedisPublisher(cache)
	relay := outbox.NewRelay(outbox.NewPostgresSource(db), publisher, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	events := consumer.New(cache, svc, publisher, logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- relay.Run(ctx)
	}()
	go func() {
		errCh <- events.Run(ctx)
	}()

	logger.Info("worker started")
	err = <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	<-errCh

	logger.Info("worker exited cleanly")
}
