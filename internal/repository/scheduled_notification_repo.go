package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"expenseflow/internal/model"
	"expenseflow/pkg/db"
	"expenseflow/pkg/otel"
)

var (
	// ErrNotificationNotFound 通知不存在
	ErrNotificationNotFound = errors.New("scheduled notification not found")
	// ErrNotRequeueable 只有 failed 状态可以重新排队
	ErrNotRequeueable = errors.New("scheduled notification is not in failed status")
)

const notificationColumns = `id::text, notification_type, target_role, target_user_id::text, title, message,
		       scheduled_at, status, sent_at, recipients_count, error_message, created_by::text, created_at`

type ScheduledNotificationRepository struct {
	db     db.DBTX
	logger *zap.Logger
}

func NewScheduledNotificationRepository(db db.DBTX, logger *zap.Logger) *ScheduledNotificationRepository {
	return &ScheduledNotificationRepository{
		db:     db,
		logger: logger,
	}
}

// ListDue 返回 status = pending 且 scheduled_at <= now 的通知，按计划时间升序
func (r *ScheduledNotificationRepository) ListDue(ctx context.Context, now time.Time) (_ []*model.ScheduledNotification, err error) {
	ctx, span := otel.DBSpan(ctx, "select", "scheduled_notifications")
	defer func() { otel.EndSpan(span, err) }()

	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkSent 终态：sent
func (r *ScheduledNotificationRepository) MarkSent(ctx context.Context, id string, recipients int, sentAt time.Time) (err error) {
	ctx, span := otel.DBSpan(ctx, "update", "scheduled_notifications")
	defer func() { otel.EndSpan(span, err) }()

	query := `
		UPDATE scheduled_notifications
		SET status = 'sent', sent_at = $2, recipients_count = $3, error_message = NULL
		WHERE id = $1::uuid
	`
	if _, err = r.db.Exec(ctx, query, id, sentAt, recipients); err != nil {
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}

	r.logger.Debug("Notification marked as sent", zap.String("id", id), zap.Int("recipients", recipients))
	return nil
}

// MarkFailed 终态：failed，recipients_count 固定为 0
func (r *ScheduledNotificationRepository) MarkFailed(ctx context.Context, id string, errorMessage string, at time.Time) (err error) {
	ctx, span := otel.DBSpan(ctx, "update", "scheduled_notifications")
	defer func() { otel.EndSpan(span, err) }()

	query := `
		UPDATE scheduled_notifications
		SET status = 'failed', sent_at = $2, recipients_count = 0, error_message = $3
		WHERE id = $1::uuid
	`
	if _, err = r.db.Exec(ctx, query, id, at, errorMessage); err != nil {
		return fmt.Errorf("failed to mark notification as failed: %w", err)
	}

	r.logger.Debug("Notification marked as failed", zap.String("id", id), zap.String("error", errorMessage))
	return nil
}

// CreateTx 在事务中插入一条 pending 通知
func (r *ScheduledNotificationRepository) CreateTx(ctx context.Context, tx pgx.Tx, n *model.ScheduledNotification) error {
	query := `
		INSERT INTO scheduled_notifications
			(id, notification_type, target_role, target_user_id, title, message, scheduled_at, status, created_by)
		VALUES ($1::uuid, $2, $3, $4::uuid, $5, $6, $7, 'pending', $8::uuid)
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		n.ID,
		string(n.NotificationType),
		n.TargetRole,
		n.TargetUserID,
		n.Title,
		n.Message,
		n.ScheduledAt,
		n.CreatedBy,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled notification: %w", err)
	}

	n.Status = model.StatusPending
	return nil
}

func (r *ScheduledNotificationRepository) GetByID(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE id = $1::uuid
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled notification: %w", err)
	}
	defer rows.Close()

	list, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotificationNotFound
	}
	return list[0], nil
}

// List 按创建时间倒序列出通知，status 为空时不过滤
func (r *ScheduledNotificationRepository) List(ctx context.Context, status model.NotificationStatus, limit int) ([]*model.ScheduledNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// Requeue 将 failed 通知重置为 pending
func (r *ScheduledNotificationRepository) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE scheduled_notifications
		SET status = 'pending', sent_at = NULL, recipients_count = 0, error_message = NULL
		WHERE id = $1::uuid AND status = 'failed'
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to requeue notification: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrNotRequeueable
}

func scanNotifications(rows pgx.Rows) ([]*model.ScheduledNotification, error) {
	var list []*model.ScheduledNotification
	for rows.Next() {
		var (
			n                model.ScheduledNotification
			notificationType string
			status           string
			recipientsCount  int32
		)
		if err := rows.Scan(
			&n.ID,
			&notificationType,
			&n.TargetRole,
			&n.TargetUserID,
			&n.Title,
			&n.Message,
			&n.ScheduledAt,
			&status,
			&n.SentAt,
			&recipientsCount,
			&n.ErrorMessage,
			&n.CreatedBy,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled notification: %w", err)
		}
		n.NotificationType = model.NotificationType(notificationType)
		n.Status = model.NotificationStatus(status)
		n.RecipientsCount = int(recipientsCount)
		list = append(list, &n)
	}
	return list, rows.Err()
}
