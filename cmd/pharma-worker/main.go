// Package main provides the entry point for the PharmaNotify background
// worker: the task queue consumer plus the periodic scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pharmanotify/pharmanotify/pkg/config"
	"github.com/pharmanotify/pharmanotify/pkg/database/migrate"
	"github.com/pharmanotify/pharmanotify/pkg/store/postgres"
	"github.com/pharmanotify/pharmanotify/pkg/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	st, db, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrate.Run(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}

	emitter := tasks.NewClient(redisOpt)
	defer func() { _ = emitter.Close() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()

	worker := tasks.NewWorker(tasks.WorkerConfig{
		Store:     st,
		Redis:     rdb,
		Channel:   cfg.Redis.Channel,
		Emitter:   emitter,
		Retention: cfg.Retention(),
		Logger:    log,
	})

	mux := asynq.NewServeMux()
	worker.Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 5})

	scheduler, err := tasks.NewScheduler(redisOpt, cfg.CheckInterval())
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Run(mux); err != nil {
			return fmt.Errorf("running worker: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := scheduler.Run(); err != nil {
			return fmt.Errorf("running scheduler: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
		return nil
	})

	log.Info("worker started",
		"check_interval", cfg.CheckInterval().String(),
		"retention", cfg.Retention().String())
	return group.Wait()
}
