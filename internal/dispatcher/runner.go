package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"expenseflow/pkg/metrics"
)

// 触发来源，用于日志和指标
const (
	TriggerHTTP   = "http"
	TriggerTicker = "ticker"
	TriggerMQ     = "mq"
)

// Runner 串行化同一进程内的调度执行
type Runner struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	mu         sync.Mutex
}

func NewRunner(d *Dispatcher, logger *zap.Logger) *Runner {
	return &Runner{
		dispatcher: d,
		logger:     logger,
	}
}

// Run 等待上一次执行结束后再执行
func (r *Runner) Run(ctx context.Context, trigger string) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, trigger)
}

// TryRun 已有执行在进行时直接跳过，ran 为 false
func (r *Runner) TryRun(ctx context.Context, trigger string) (summary *Summary, ran bool, err error) {
	if !r.mu.TryLock() {
		metrics.IncrementDispatchRun(trigger, "skipped")
		r.logger.Info("Dispatch already in progress, skipping trigger", zap.String("trigger", trigger))
		return nil, false, nil
	}
	defer r.mu.Unlock()

	summary, err = r.run(ctx, trigger)
	return summary, true, err
}

func (r *Runner) run(ctx context.Context, trigger string) (*Summary, error) {
	summary, err := r.dispatcher.Run(ctx)
	if err != nil {
		metrics.IncrementDispatchRun(trigger, "error")
		return nil, err
	}
	metrics.IncrementDispatchRun(trigger, "ok")
	return summary, nil
}

// Start 按固定间隔触发（阻塞，在 goroutine 中运行）
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	r.logger.Info("Starting scheduled notification dispatcher", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Scheduled notification dispatcher stopped")
			return
		case <-ticker.C:
			if _, _, err := r.TryRun(ctx, TriggerTicker); err != nil {
				r.logger.Error("Scheduled dispatch failed", zap.Error(err))
			}
		}
	}
}
