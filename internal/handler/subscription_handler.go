package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expenseflow/internal/model"
	"expenseflow/pkg/logger"
)

// SubscriptionWriter 由 *repository.SubscriptionRepository 实现
type SubscriptionWriter interface {
	Upsert(ctx context.Context, userID, auth string) (*model.PushSubscription, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type SubscriptionHandler struct {
	repo   SubscriptionWriter
	logger *zap.Logger
}

func NewSubscriptionHandler(repo SubscriptionWriter, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		repo:   repo,
		logger: logger,
	}
}

// Register handles POST /api/push/subscriptions
func (h *SubscriptionHandler) Register(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req struct {
		// 与调度器的过滤规则一致，过短的标识不会被投递
		Auth string `json:"auth" binding:"required,min=11,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.repo.Upsert(c.Request.Context(), userID, req.Auth)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to register push subscription",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register subscription"})
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Unregister handles DELETE /api/push/subscriptions
func (h *SubscriptionHandler) Unregister(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	deleted, err := h.repo.DeleteByUser(c.Request.Context(), userID)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to delete push subscription",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
