package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "expenseflow/contracts/mq"
	"expenseflow/internal/config"
	"expenseflow/internal/dispatcher"
	"expenseflow/internal/mqhandler"
	"expenseflow/internal/push"
	"expenseflow/internal/repository"
	"expenseflow/pkg/db"
	"expenseflow/pkg/logger"
	"expenseflow/pkg/mq"
	"expenseflow/pkg/otel"
	redisclient "expenseflow/pkg/redis"
	"expenseflow/pkg/util"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Starting dispatch worker...",
		zap.Int("interval_seconds", cfg.Dispatcher.IntervalSeconds),
		zap.String("queue", cfg.Dispatcher.Queue),
		zap.Bool("dedup_enabled", cfg.Dispatcher.DedupEnabled),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName + "-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	d := dispatcher.New(
		repository.NewScheduledNotificationRepository(dbConn, log),
		repository.NewSubscriptionRepository(dbConn),
		repository.NewUserRoleRepository(dbConn),
		push.NewClient(cfg.Push),
		log,
	)

	// 多实例部署时用 Redis 防止同一条通知被并发发送两次
	if cfg.Dispatcher.DedupEnabled {
		rdb, err := redisclient.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()

		ttl := time.Duration(cfg.Dispatcher.DedupTTLSeconds) * time.Second
		d = d.WithClaimGuard(util.NewDeduper(rdb, ttl, log))
		log.Info("Redis claim guard enabled", zap.Duration("ttl", ttl))
	}

	runner := dispatcher.NewRunner(d, log)

	if cfg.Dispatcher.IntervalSeconds > 0 {
		go runner.Start(ctx, time.Duration(cfg.Dispatcher.IntervalSeconds)*time.Second)
	} else {
		log.Info("Dispatch ticker disabled")
	}

	var consumer *mq.Consumer
	if cfg.MQ.URL != "" {
		log.Info("Initializing MQ consumer...",
			zap.String("queue", cfg.Dispatcher.Queue),
			zap.String("routing_key", mqcontracts.RoutingDispatchRequested),
		)
		consumer, err = mq.NewConsumer(cfg.MQ.URL, cfg.Dispatcher.Queue, mqcontracts.RoutingDispatchRequested, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		defer consumer.Close()

		dlq, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init DLQ publisher", zap.Error(err))
		}
		defer dlq.Close()
		if err := consumer.SetDeadLetter(dlq); err != nil {
			log.Fatal("Failed to declare DLQ", zap.Error(err))
		}

		consumer.SetHandler(mqhandler.NewDispatchRequestedHandler(runner, log).Handle)

		go func() {
			log.Info("Starting dispatch consumer...")
			if err := consumer.StartConsuming(); err != nil {
				log.Fatal("Dispatch consumer failed", zap.Error(err))
			}
		}()
	}

	log.Info("Dispatch worker is running")

	<-ctx.Done()
	log.Info("Shutting down dispatch worker gracefully...")

	if consumer != nil {
		consumer.Stop()
	}

	log.Info("Dispatch worker shutdown complete")
}
