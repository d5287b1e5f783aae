package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/avoronkov/push-dispatcher/internal/api/handlers/notification"
	"github.com/avoronkov/push-dispatcher/internal/api/router"
	"github.com/avoronkov/push-dispatcher/internal/api/server"
	"github.com/avoronkov/push-dispatcher/internal/config"
	notifmsg "github.com/avoronkov/push-dispatcher/internal/rabbitmq/handlers/notification"
	"github.com/avoronkov/push-dispatcher/internal/rabbitmq/queue"
	"github.com/avoronkov/push-dispatcher/internal/ratelimit"
	devicerepo "github.com/avoronkov/push-dispatcher/internal/repository/device"
	notifrepo "github.com/avoronkov/push-dispatcher/internal/repository/notification"
	"github.com/avoronkov/push-dispatcher/internal/scheduler"
	notifsvc "github.com/avoronkov/push-dispatcher/internal/service/notification"
	"github.com/avoronkov/push-dispatcher/internal/worker"
	"github.com/avoronkov/push-dispatcher/pkg/push"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; ignored when no .env file exists.
	_ = godotenv.Load()

	zlog.Init()
	cfg := config.Must()

	val := validator.New()
	if err := notification.RegisterValidations(val); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to register validations")
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewDispatchQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create dispatch queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	provider := push.NewClient(cfg.Push.Endpoint, cfg.Push.ServerKey, cfg.Push.Timeout)

	repo := notifrepo.NewRepository(db)
	devices := devicerepo.NewRepository(db)

	service := notifsvc.NewService(repo, devices, provider, q, rdb)
	notifHandler := notification.NewHandler(service, val, cfg)
	messageHandler := notifmsg.NewHandler(service)

	pool := worker.NewPool(q, messageHandler)
	go pool.Run(ctx, cfg.Retry, cfg.Workers.Count)

	sweep := scheduler.New(service, cfg.Retry, cfg.Scheduler.SweepSpec, cfg.Scheduler.BatchSize)
	if err := sweep.Start(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	r := router.New(notifHandler, limiter)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sweep.Stop()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
