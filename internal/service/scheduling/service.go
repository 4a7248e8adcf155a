package scheduling

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	mqcontracts "expenseflow/contracts/mq"
	"expenseflow/internal/dispatcher"
	"expenseflow/internal/model"
	"expenseflow/pkg/db"
	"expenseflow/pkg/logger"
	"expenseflow/pkg/outbox"
	"expenseflow/pkg/rbac"
	"expenseflow/pkg/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateRequest 创建定时通知的请求体
type CreateRequest struct {
	NotificationType string     `json:"notification_type" validate:"required,oneof=broadcast role personal"`
	TargetRole       *string    `json:"target_role"`
	TargetUserID     *string    `json:"target_user_id" validate:"omitempty,uuid"`
	Title            string     `json:"title" validate:"required,max=120"`
	Message          string     `json:"message" validate:"required,max=1000"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

// ValidationError 请求校验失败
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, tag))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotificationRepository 由 *repository.ScheduledNotificationRepository 实现
type NotificationRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, n *model.ScheduledNotification) error
	GetByID(ctx context.Context, id string) (*model.ScheduledNotification, error)
	List(ctx context.Context, status model.NotificationStatus, limit int) ([]*model.ScheduledNotification, error)
	Requeue(ctx context.Context, id string) error
}

// ClaimReleaser 由 *util.Deduper 实现，重新排队时释放调度器的去重 key
type ClaimReleaser interface {
	Release(ctx context.Context, handler string, id string) error
}

type Service struct {
	db         db.DBTX
	repo       NotificationRepository
	outboxRepo *outbox.Repository
	claims     ClaimReleaser
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(db db.DBTX, repo NotificationRepository, outboxRepo *outbox.Repository, logger *zap.Logger) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateTarget, CreateRequest{})

	return &Service{
		db:         db,
		repo:       repo,
		outboxRepo: outboxRepo,
		validate:   v,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClaimReleaser 调度器启用 Redis 去重时必须设置，否则 TTL 内重新排队的通知会被跳过
func (s *Service) WithClaimReleaser(claims ClaimReleaser) *Service {
	s.claims = claims
	return s
}

// validateTarget target_role 仅用于 role 类型，target_user_id 仅用于 personal 类型
func validateTarget(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRequest)

	hasRole := req.TargetRole != nil && *req.TargetRole != ""
	hasUser := req.TargetUserID != nil && *req.TargetUserID != ""

	switch model.NotificationType(req.NotificationType) {
	case model.TypeRole:
		if !hasRole {
			sl.ReportError(req.TargetRole, "target_role", "TargetRole", "required", "")
		} else if !rbac.IsValidRole(*req.TargetRole) {
			sl.ReportError(req.TargetRole, "target_role", "TargetRole", "oneof", strings.Join(rbac.Roles(), " "))
		}
		if hasUser {
			sl.ReportError(req.TargetUserID, "target_user_id", "TargetUserID", "excluded", "")
		}
	case model.TypePersonal:
		if !hasUser {
			sl.ReportError(req.TargetUserID, "target_user_id", "TargetUserID", "required", "")
		}
		if hasRole {
			sl.ReportError(req.TargetRole, "target_role", "TargetRole", "excluded", "")
		}
	case model.TypeBroadcast:
		if hasRole {
			sl.ReportError(req.TargetRole, "target_role", "TargetRole", "excluded", "")
		}
		if hasUser {
			sl.ReportError(req.TargetUserID, "target_user_id", "TargetUserID", "excluded", "")
		}
	}
}

// Create 写入一条 pending 通知；已到期时在同一事务中写入 outbox 事件，worker 收到后立即调度
func (s *Service) Create(ctx context.Context, createdBy string, req CreateRequest) (*model.ScheduledNotification, error) {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return nil, &ValidationError{Fields: fields}
		}
		return nil, err
	}

	now := s.now()
	n := &model.ScheduledNotification{
		ID:               uuid.NewString(),
		NotificationType: model.NotificationType(req.NotificationType),
		TargetRole:       nonEmpty(req.TargetRole),
		TargetUserID:     nonEmpty(req.TargetUserID),
		Title:            req.Title,
		Message:          req.Message,
		ScheduledAt:      now,
		Status:           model.StatusPending,
	}
	if req.ScheduledAt != nil {
		n.ScheduledAt = *req.ScheduledAt
	}
	if createdBy != "" {
		n.CreatedBy = &createdBy
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.CreateTx(ctx, tx, n); err != nil {
		return nil, err
	}

	if n.IsDue(now) {
		payload := mqcontracts.DispatchRequestedPayload{
			NotificationID: n.ID,
			ScheduledAt:    n.ScheduledAt,
			RequestedBy:    createdBy,
			TraceID:        trace.FromContext(ctx),
		}
		if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo,
			"scheduled_notification", n.ID, mqcontracts.RoutingDispatchRequested, payload,
		); err != nil {
			return nil, fmt.Errorf("failed to insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("Scheduled notification created",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.NotificationType)),
		zap.Time("scheduled_at", n.ScheduledAt),
	)
	return n, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	return s.repo.GetByID(ctx, id)
}

// List status 为空时返回全部状态
func (s *Service) List(ctx context.Context, status string, limit int) ([]*model.ScheduledNotification, error) {
	st := model.NotificationStatus(status)
	switch st {
	case "", model.StatusPending, model.StatusSent, model.StatusFailed:
	default:
		return nil, &ValidationError{Fields: map[string]string{"status": "oneof"}}
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, st, limit)
}

// Requeue 将 failed 通知重新置为 pending，由下一次调度处理
func (s *Service) Requeue(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	if err := s.repo.Requeue(ctx, id); err != nil {
		return nil, err
	}

	log := logger.WithTrace(ctx, s.logger)
	if s.claims != nil {
		// 释放失败时 key 到期后仍会被处理
		if err := s.claims.Release(ctx, dispatcher.ClaimHandler, id); err != nil {
			log.Warn("Failed to release dispatch claim", zap.String("notification_id", id), zap.Error(err))
		}
	}

	log.Info("Scheduled notification requeued", zap.String("notification_id", id))
	return s.repo.GetByID(ctx, id)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
