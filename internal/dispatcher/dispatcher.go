package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"expenseflow/internal/model"
	"expenseflow/internal/push"
	"expenseflow/pkg/logger"
	"expenseflow/pkg/metrics"
	"expenseflow/pkg/util"
)

// MinIdentifierLength 短于该长度（按字符计）的订阅标识视为无效
const MinIdentifierLength = 11

// ClaimHandler ClaimGuard 使用的去重命名空间，重新排队时需要按同一命名空间释放
const ClaimHandler = "scheduled_notification"

var (
	// ErrMissingPushCredential 推送 API 密钥未配置，整次调用失败
	ErrMissingPushCredential = errors.New("push API key is not configured")
)

// NotificationStore 由 *repository.ScheduledNotificationRepository 实现
type NotificationStore interface {
	ListDue(ctx context.Context, now time.Time) ([]*model.ScheduledNotification, error)
	MarkSent(ctx context.Context, id string, recipients int, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errorMessage string, at time.Time) error
}

// SubscriptionStore 由 *repository.SubscriptionRepository 实现
type SubscriptionStore interface {
	ListAllIdentifiers(ctx context.Context) ([]string, error)
	ListIdentifiersByUsers(ctx context.Context, userIDs []string) ([]string, error)
	FindIdentifierByUser(ctx context.Context, userID string) (string, bool, error)
}

// RoleStore 由 *repository.UserRoleRepository 实现
type RoleStore interface {
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
}

// Sender 由 *push.Client 实现
type Sender interface {
	HasCredential() bool
	Send(ctx context.Context, msg push.Message) (*push.Response, error)
}

// ClaimGuard 可选的跨进程去重，*util.Deduper 实现
type ClaimGuard interface {
	AcquireOnce(ctx context.Context, handler string, id string) bool
}

// Result 单条通知的处理结果
type Result struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Summary 一次调用的汇总
type Summary struct {
	Success    bool     `json:"success"`
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

type Dispatcher struct {
	notifications NotificationStore
	subscriptions SubscriptionStore
	roles         RoleStore
	sender        Sender
	guard         ClaimGuard
	logger        *zap.Logger
	now           func() time.Time
}

func New(notifications NotificationStore, subscriptions SubscriptionStore, roles RoleStore, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		subscriptions: subscriptions,
		roles:         roles,
		sender:        sender,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClaimGuard 启用去重保护
func (d *Dispatcher) WithClaimGuard(guard ClaimGuard) *Dispatcher {
	d.guard = guard
	return d
}

// WithClock 替换时间源
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run 处理所有到期的 pending 通知，逐条顺序执行
// 缺少密钥或查询失败时返回 error，单条失败只记录在该条通知上
// ctx 取消只在两条通知之间生效：已开始的通知会完成发送和状态写入，剩余通知保持 pending
func (d *Dispatcher) Run(ctx context.Context) (*Summary, error) {
	log := logger.WithTrace(ctx, d.logger)

	if !d.sender.HasCredential() {
		log.Error("Push API key missing, aborting dispatch")
		return nil, ErrMissingPushCredential
	}

	due, err := d.notifications.ListDue(ctx, d.now())
	if err != nil {
		log.Error("Failed to query due notifications", zap.Error(err))
		return nil, err
	}

	summary := &Summary{
		Success: true,
		Results: make([]Result, 0, len(due)),
	}

	// 单条通知的解析、发送、落库不受调用方取消影响
	recordCtx := context.WithoutCancel(ctx)

	for i, n := range due {
		if err := ctx.Err(); err != nil {
			log.Warn("Dispatch cancelled, remaining notifications stay pending",
				zap.Int("remaining", len(due)-i),
				zap.Error(err),
			)
			break
		}

		if d.guard != nil && !d.guard.AcquireOnce(recordCtx, ClaimHandler, n.ID) {
			log.Warn("Notification already claimed by another run, skipping",
				zap.String("notification_id", n.ID),
			)
			continue
		}

		res := d.process(recordCtx, log, n)
		summary.Processed++
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}

	log.Info("Scheduled notifications processed",
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (d *Dispatcher) process(ctx context.Context, log *zap.Logger, n *model.ScheduledNotification) Result {
	log = log.With(
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.NotificationType)),
	)

	raw, target, err := d.resolve(ctx, n)
	if err != nil {
		return d.fail(ctx, log, n, err.Error(), errorType(err))
	}

	ids := UniqueValidIdentifiers(raw)
	if len(ids) == 0 {
		return d.fail(ctx, log, n, fmt.Sprintf("No se encontraron destinatarios válidos para %s", target), "no_recipients")
	}

	resp, err := d.sender.Send(ctx, push.Message{
		SubscriptionIDs: ids,
		Title:           n.Title,
		Body:            n.Message,
	})
	if err != nil {
		return d.fail(ctx, log, n, err.Error(), errorType(err))
	}

	recipients := resp.RecipientCount(len(ids))
	if err := d.notifications.MarkSent(ctx, n.ID, recipients, d.now()); err != nil {
		return d.fail(ctx, log, n, err.Error(), errorType(err))
	}

	metrics.RecordScheduledNotification(string(n.NotificationType), string(model.StatusSent), "", recipients)
	log.Info("Notification sent",
		zap.String("push_id", resp.ID),
		zap.Int("recipients", recipients),
	)
	return Result{ID: n.ID, Success: true}
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, n *model.ScheduledNotification, msg, errType string) Result {
	if err := d.notifications.MarkFailed(ctx, n.ID, msg, d.now()); err != nil {
		log.Error("Failed to mark notification as failed", zap.Error(err))
	}

	metrics.RecordScheduledNotification(string(n.NotificationType), string(model.StatusFailed), errType, 0)
	log.Warn("Notification failed",
		zap.String("error", msg),
		zap.String("error_type", errType),
	)
	return Result{ID: n.ID, Success: false, Error: msg}
}

// resolve 按类型解析原始订阅标识，同时返回目标描述
func (d *Dispatcher) resolve(ctx context.Context, n *model.ScheduledNotification) ([]string, string, error) {
	switch n.NotificationType {
	case model.TypeBroadcast:
		ids, err := d.subscriptions.ListAllIdentifiers(ctx)
		return ids, "todos", err

	case model.TypeRole:
		if n.TargetRole == nil || *n.TargetRole == "" {
			return nil, "", errors.New("target_role es requerido para notificaciones por rol")
		}
		target := "rol " + *n.TargetRole
		userIDs, err := d.roles.ListUserIDsByRole(ctx, *n.TargetRole)
		if err != nil || len(userIDs) == 0 {
			return nil, target, err
		}
		ids, err := d.subscriptions.ListIdentifiersByUsers(ctx, userIDs)
		return ids, target, err

	case model.TypePersonal:
		if n.TargetUserID == nil || *n.TargetUserID == "" {
			return nil, "", errors.New("target_user_id es requerido para notificaciones personales")
		}
		target := "usuario " + *n.TargetUserID
		id, found, err := d.subscriptions.FindIdentifierByUser(ctx, *n.TargetUserID)
		if err != nil || !found {
			return nil, target, err
		}
		return []string{id}, target, nil

	default:
		return nil, "", fmt.Errorf("tipo de notificación desconocido: %q", n.NotificationType)
	}
}

// UniqueValidIdentifiers 去重（保持首次出现顺序）并过滤过短的标识
func UniqueValidIdentifiers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if utf8.RuneCountInString(id) < MinIdentifierLength {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func errorType(err error) string {
	var apiErr *push.APIError
	if errors.As(err, &apiErr) {
		return "push_api_error"
	}
	_, label := util.ClassifyError(err)
	return label
}
