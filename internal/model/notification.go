package model

import "time"

// NotificationType 决定收件人解析方式
type NotificationType string

const (
	TypeBroadcast NotificationType = "broadcast"
	TypeRole      NotificationType = "role"
	TypePersonal  NotificationType = "personal"
)

// NotificationStatus pending 为初始状态，sent/failed 为终态
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// IsTerminal 是否为终态
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// ScheduledNotification 对应 scheduled_notifications 表
type ScheduledNotification struct {
	ID               string             `json:"id"`
	NotificationType NotificationType   `json:"notification_type"`
	TargetRole       *string            `json:"target_role,omitempty"`
	TargetUserID     *string            `json:"target_user_id,omitempty"`
	Title            string             `json:"title"`
	Message          string             `json:"message"`
	ScheduledAt      time.Time          `json:"scheduled_at"`
	Status           NotificationStatus `json:"status"`
	SentAt           *time.Time         `json:"sent_at,omitempty"`
	RecipientsCount  int                `json:"recipients_count"`
	ErrorMessage     *string            `json:"error_message,omitempty"`
	CreatedBy        *string            `json:"created_by,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// IsDue 在 now 时刻是否可被调度
func (n *ScheduledNotification) IsDue(now time.Time) bool {
	return n.Status == StatusPending && !n.ScheduledAt.After(now)
}
