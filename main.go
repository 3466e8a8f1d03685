package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	clts "rafflebot/clients"
	"rafflebot/config"
	"rafflebot/internal/app"
	"rafflebot/internal/queue"
	"rafflebot/internal/store"
)

const startupTimeout = 30 * time.Second

func main() {
	verifySell := flag.String("verify-sell", "", "transaction digest to verify as a sell against the ledger, then exit")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables (with optional yaml overlay)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting rafflebot", zap.Bool("isProd", cfg.IsProd))

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	defer clients.Notifier.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	db, err := store.NewStore(startupCtx, logger, cfg)
	cancel()
	if err != nil {
		logger.Fatal("database setup failed", zap.Error(err))
	}
	defer db.Close()

	startupCtx, cancel = context.WithTimeout(ctx, startupTimeout)
	err = db.EnsureSchema(startupCtx)
	cancel()
	if err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	var jobQueue app.Queue
	var worker *queue.Worker
	if cfg.Kafka.Enabled {
		kq, err := queue.NewKafkaQueue(logger, cfg)
		if err != nil {
			logger.Fatal("kafka setup failed", zap.Error(err))
		}
		defer kq.Close()
		jobQueue = kq

		if cfg.Kafka.RunWorker {
			worker, err = queue.NewWorker(logger, cfg, db)
			if err != nil {
				logger.Fatal("kafka worker setup failed", zap.Error(err))
			}
			defer worker.Close()
		}
	} else {
		logger.Info("kafka disabled, applying ticket jobs inline")
		jobQueue = queue.NewDirectQueue(logger, db)
	}

	runner := app.NewRunner(logger, cfg, clients, db, jobQueue)

	if *verifySell != "" {
		verifyCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		delta, err := runner.VerifySell(verifyCtx, *verifySell)
		if err != nil {
			logger.Fatal("sell verification failed", zap.Error(err))
		}
		logger.Info("sell verification complete",
			zap.String("digest", *verifySell),
			zap.Int64("ticketDelta", delta))
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	if worker != nil {
		g.Go(func() error { return worker.Run(ctx) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
