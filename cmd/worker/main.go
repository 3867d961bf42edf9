package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/primoloyalty/broadcast-service/internal/config"
	"github.com/primoloyalty/broadcast-service/internal/db"
	"github.com/primoloyalty/broadcast-service/internal/queue"
	"github.com/primoloyalty/broadcast-service/internal/ratelimit"
	"github.com/primoloyalty/broadcast-service/internal/repository"
	"github.com/primoloyalty/broadcast-service/internal/service"
	"github.com/primoloyalty/broadcast-service/internal/telegram"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.ChunkMaxRetries, log)
	if err != nil {
		log.Fatal().Err(err).Msg("queue connection failed")
	}
	defer q.Close()

	sender, err := telegram.NewClient(cfg.BotToken, cfg.SendTimeout, log)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram client failed")
	}

	// One limiter for the whole process: the provider quota is per bot
	// credential, so every worker draws from the same window.
	limiter := ratelimit.New(cfg.RatePerMinute, time.Minute)

	processor := &service.ChunkProcessor{
		BroadcastRepo: &repository.BroadcastRepository{DB: conn},
		UserRepo:      &repository.UserRepository{DB: conn},
		Sender:        sender,
		Limiter:       limiter,
		MaxRetries:    cfg.ChunkMaxRetries,
		BackoffBase:   cfg.RetryBackoffBase,
		Log:           log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("workers", cfg.WorkerCount).
		Int("rate_per_minute", cfg.RatePerMinute).
		Msg("worker running")

	if err := q.Consume(ctx, cfg.WorkerCount, processor.Process); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker stopped")
}
