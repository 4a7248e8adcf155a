package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"expenseflow/internal/model"
	"expenseflow/internal/repository"
	"expenseflow/internal/service/scheduling"
	"expenseflow/pkg/logger"
)

// SchedulingService 由 *scheduling.Service 实现
type SchedulingService interface {
	Create(ctx context.Context, createdBy string, req scheduling.CreateRequest) (*model.ScheduledNotification, error)
	Get(ctx context.Context, id string) (*model.ScheduledNotification, error)
	List(ctx context.Context, status string, limit int) ([]*model.ScheduledNotification, error)
	Requeue(ctx context.Context, id string) (*model.ScheduledNotification, error)
}

type NotificationHandler struct {
	svc    SchedulingService
	logger *zap.Logger
}

func NewNotificationHandler(svc SchedulingService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /api/scheduled-notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req scheduling.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	n, err := h.svc.Create(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, n)
}

// List handles GET /api/scheduled-notifications?status=failed&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	list, err := h.svc.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*model.ScheduledNotification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list, "count": len(list)})
}

// Get handles GET /api/scheduled-notifications/:id
func (h *NotificationHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

// Requeue handles POST /api/scheduled-notifications/:id/requeue
func (h *NotificationHandler) Requeue(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.svc.Requeue(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) writeError(c *gin.Context, err error) {
	var verr *scheduling.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, repository.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, repository.ErrNotRequeueable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Scheduled notification request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return "", false
	}
	return id, true
}

// getUserID 读取 AuthMiddleware 写入的 user_id
func getUserID(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	return userID, true
}
