package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"expenseflow/internal/assist"
	"expenseflow/internal/config"
	"expenseflow/internal/dispatcher"
	"expenseflow/internal/handler"
	"expenseflow/internal/httpserver"
	"expenseflow/internal/push"
	"expenseflow/internal/repository"
	"expenseflow/internal/service/scheduling"
	"expenseflow/pkg/db"
	"expenseflow/pkg/logger"
	"expenseflow/pkg/mq"
	"expenseflow/pkg/otel"
	"expenseflow/pkg/outbox"
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

	log.Info("Starting expenseflow API server...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("port", cfg.Server.Port),
		zap.Bool("mq_enabled", cfg.MQ.URL != ""),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName + "-api",
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

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	notificationRepo := repository.NewScheduledNotificationRepository(dbConn, log)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn)
	roleRepo := repository.NewUserRoleRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// 调度器：HTTP 触发入口
	pushClient := push.NewClient(cfg.Push)
	if !pushClient.HasCredential() {
		log.Warn("Push API key is not configured, dispatch runs will be rejected")
	}
	d := dispatcher.New(notificationRepo, subscriptionRepo, roleRepo, pushClient, log)
	schedulingService := scheduling.NewService(dbConn, notificationRepo, outboxRepo, log)

	// 与 worker 共用 Redis 去重；重新排队时释放对应的 key
	if cfg.Dispatcher.DedupEnabled {
		rdb, err := redisclient.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()

		deduper := util.NewDeduper(rdb, time.Duration(cfg.Dispatcher.DedupTTLSeconds)*time.Second, log)
		d = d.WithClaimGuard(deduper)
		schedulingService.WithClaimReleaser(deduper)
		log.Info("Redis claim guard enabled")
	}
	runner := dispatcher.NewRunner(d, log)

	assistClient := assist.NewClient(cfg.Assist, log)

	handlers := httpserver.Handlers{
		Dispatch:     handler.NewDispatchHandler(runner, cfg.Dispatcher.TriggerSecretHash, log),
		Notification: handler.NewNotificationHandler(schedulingService, log),
		Subscription: handler.NewSubscriptionHandler(subscriptionRepo, log),
		Assist:       handler.NewAssistHandler(assistClient, log),
	}

	// Outbox 投递：只有配置了 MQ 才启用，否则事件留在 outbox_events 中由 worker 定时器兜底
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()

		outboxDispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
		if cfg.Outbox.IntervalSeconds > 0 {
			outboxDispatcher.WithInterval(time.Duration(cfg.Outbox.IntervalSeconds) * time.Second)
		}
		if cfg.Outbox.BatchSize > 0 {
			outboxDispatcher.WithBatchSize(cfg.Outbox.BatchSize)
		}
		if cfg.Outbox.MaxRetries > 0 {
			outboxDispatcher.WithMaxRetries(cfg.Outbox.MaxRetries)
		}
		go outboxDispatcher.Start(ctx)
		log.Info("Outbox dispatcher started")

		handlers.Admin = handler.NewAdminHandler(outbox.NewReplayService(outboxRepo, publisher), log)
	}

	router := httpserver.NewRouter(handlers, cfg.JWT.Secret, dbConn, roleRepo, log)
	srv := router.Server(cfg.Server.Port)

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("expenseflow API server is fully initialized and running")

	<-ctx.Done()
	log.Info("Shutting down API server gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("API server shutdown complete")
}
