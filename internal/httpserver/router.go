package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"expenseflow/internal/handler"
	"expenseflow/pkg/db"
	"expenseflow/pkg/otel"
	"expenseflow/pkg/rbac"
)

// Handlers 路由依赖的全部 handler；Admin 为 nil 时不注册 /admin
type Handlers struct {
	Dispatch     *handler.DispatchHandler
	Notification *handler.NotificationHandler
	Subscription *handler.SubscriptionHandler
	Assist       *handler.AssistHandler
	Admin        *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, jwtSecret string, pinger db.Pinger, roles RoleLookup, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 外部定时器入口
	r.Any("/functions/v1/process-scheduled-notifications", h.Dispatch.ProcessScheduled)

	perm := func(p string) gin.HandlerFunc {
		return RequirePermission(roles, p, logger)
	}

	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/scheduled-notifications", perm(rbac.PermissionScheduleNotification), h.Notification.Create)
		api.GET("/scheduled-notifications", perm(rbac.PermissionReadNotification), h.Notification.List)
		api.GET("/scheduled-notifications/:id", perm(rbac.PermissionReadNotification), h.Notification.Get)
		api.POST("/scheduled-notifications/:id/requeue", perm(rbac.PermissionRequeueNotification), h.Notification.Requeue)

		api.POST("/push/subscriptions", perm(rbac.PermissionManageSubscription), h.Subscription.Register)
		api.DELETE("/push/subscriptions", perm(rbac.PermissionManageSubscription), h.Subscription.Unregister)

		api.POST("/assist/notification-draft", perm(rbac.PermissionScheduleNotification), h.Assist.DraftNotification)
	}

	if h.Admin != nil {
		admin := r.Group("/admin")
		admin.Use(AuthMiddleware(jwtSecret), perm(rbac.PermissionReplayOutbox))
		{
			admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

// Server 返回带超时配置的 http.Server，由调用方负责启动和优雅关闭
func (r *Router) Server(port string) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
}
