package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "expenseflow/contracts/mq"
	"expenseflow/internal/dispatcher"
	"expenseflow/pkg/logger"
)

// Runner 由 *dispatcher.Runner 实现
type Runner interface {
	Run(ctx context.Context, trigger string) (*dispatcher.Summary, error)
}

// DispatchRequestedHandler 消费 notification.dispatch.requested，立即执行一次调度
type DispatchRequestedHandler struct {
	runner Runner
	logger *zap.Logger
}

func NewDispatchRequestedHandler(runner Runner, logger *zap.Logger) *DispatchRequestedHandler {
	return &DispatchRequestedHandler{
		runner: runner,
		logger: logger,
	}
}

func (h *DispatchRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var payload mqcontracts.DispatchRequestedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error("Invalid DispatchRequestedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("bad_payload: %w", err)
	}

	log.Info("Dispatch requested",
		zap.String("notification_id", payload.NotificationID),
		zap.String("requested_by", payload.RequestedBy),
	)

	// 一次调度会处理所有到期记录，不只是 payload 中的那一条
	summary, err := h.runner.Run(ctx, dispatcher.TriggerMQ)
	if err != nil {
		return fmt.Errorf("dispatch run failed: %w", err)
	}

	log.Info("Dispatch triggered by event finished",
		zap.String("notification_id", payload.NotificationID),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
