package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/primoloyalty/broadcast-service/internal/config"
	"github.com/primoloyalty/broadcast-service/internal/controller"
	"github.com/primoloyalty/broadcast-service/internal/db"
	"github.com/primoloyalty/broadcast-service/internal/handler"
	"github.com/primoloyalty/broadcast-service/internal/queue"
	"github.com/primoloyalty/broadcast-service/internal/repository"
	"github.com/primoloyalty/broadcast-service/internal/scheduler"
	"github.com/primoloyalty/broadcast-service/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "server").Logger()

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

	broadcastRepo := &repository.BroadcastRepository{DB: conn}
	segmentRepo := &repository.SegmentRepository{DB: conn}
	userRepo := &repository.UserRepository{DB: conn}

	broadcastService := &service.BroadcastService{
		BroadcastRepo:  broadcastRepo,
		SegmentRepo:    segmentRepo,
		UserRepo:       userRepo,
		Queue:          q,
		ChunkSize:      cfg.ChunkSize,
		EnqueueRetries: cfg.ChunkMaxRetries,
		Log:            log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(broadcastRepo, broadcastService, cfg.Timezone, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}
	defer sched.Stop()

	broadcastController := &controller.BroadcastController{
		Service:  broadcastService,
		Location: cfg.Timezone,
		Log:      log,
	}
	segmentHandler := &handler.SegmentHandler{
		Repo:    segmentRepo,
		Service: broadcastService,
		Log:     log,
	}

	r := chi.NewRouter()

	r.Post("/broadcasts", broadcastController.CreateBroadcast)
	r.Get("/broadcasts", broadcastController.ListBroadcasts)
	r.Get("/broadcasts/{id}", broadcastController.GetBroadcast)
	r.Put("/broadcasts/{id}", broadcastController.UpdateBroadcast)
	r.Post("/broadcasts/{id}/schedule", broadcastController.ScheduleBroadcast)
	r.Post("/broadcasts/{id}/send", broadcastController.SendBroadcastNow)
	r.Post("/broadcasts/{id}/retry", broadcastController.RetryBroadcast)

	r.Get("/segments", segmentHandler.ListSegments)
	r.Post("/segments", segmentHandler.CreateSegment)
	r.Put("/segments/{id}", segmentHandler.UpdateSegment)
	r.Delete("/segments/{id}", segmentHandler.DeleteSegment)
	r.Get("/segments/{id}/count", segmentHandler.CountSegmentAudience)
	r.Post("/audience/count", segmentHandler.CountAudience)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		_ = server.Shutdown(context.Background())
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
