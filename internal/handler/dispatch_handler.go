package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expenseflow/internal/dispatcher"
	"expenseflow/pkg/logger"
	"expenseflow/pkg/util"
)

// TriggerSecretHeader 外部定时器携带的触发密钥
const TriggerSecretHeader = "X-Trigger-Secret"

// DispatchRunner 由 *dispatcher.Runner 实现
type DispatchRunner interface {
	Run(ctx context.Context, trigger string) (*dispatcher.Summary, error)
}

type DispatchHandler struct {
	runner     DispatchRunner
	secretHash string
	logger     *zap.Logger
}

// NewDispatchHandler secretHash 为空时不校验触发密钥
func NewDispatchHandler(runner DispatchRunner, secretHash string, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		runner:     runner,
		secretHash: secretHash,
		logger:     logger,
	}
}

// ProcessScheduled handles ANY /functions/v1/process-scheduled-notifications
// OPTIONS 为 CORS 预检，其余方法一律执行调度
func (h *DispatchHandler) ProcessScheduled(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, x-trigger-secret")

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	if h.secretHash != "" && !util.CheckSecret(c.GetHeader(TriggerSecretHeader), h.secretHash) {
		log.Warn("Dispatch trigger rejected: invalid secret", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid trigger secret"})
		return
	}

	summary, err := h.runner.Run(ctx, dispatcher.TriggerHTTP)
	if err != nil {
		log.Error("Dispatch invocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}
