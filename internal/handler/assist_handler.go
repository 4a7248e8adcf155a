package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expenseflow/internal/assist"
	"expenseflow/pkg/circuitbreaker"
	"expenseflow/pkg/logger"
)

// Drafter 由 *assist.Client 实现
type Drafter interface {
	DraftNotification(ctx context.Context, topic, audience string) (*assist.Draft, error)
}

type AssistHandler struct {
	drafter Drafter
	logger  *zap.Logger
}

func NewAssistHandler(drafter Drafter, logger *zap.Logger) *AssistHandler {
	return &AssistHandler{
		drafter: drafter,
		logger:  logger,
	}
}

// DraftNotification handles POST /api/assist/notification-draft
func (h *AssistHandler) DraftNotification(c *gin.Context) {
	var req struct {
		Topic    string `json:"topic" binding:"required,max=500"`
		Audience string `json:"audience" binding:"max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Audience == "" {
		req.Audience = "todos"
	}

	draft, err := h.drafter.DraftNotification(c.Request.Context(), req.Topic, req.Audience)
	if err != nil {
		log := logger.WithTrace(c.Request.Context(), h.logger)
		switch {
		case errors.Is(err, assist.ErrNotConfigured), errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
			log.Warn("Assist gateway unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "assist gateway unavailable"})
		default:
			log.Error("Assist gateway error", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "assist gateway error"})
		}
		return
	}

	c.JSON(http.StatusOK, draft)
}
