package mq

import "time"

// 路由键
const (
	RoutingDispatchRequested = "notification.dispatch.requested"
	RoutingDispatchAll       = "notification.dispatch.#"
)

// DispatchRequestedPayload 请求立即执行一次调度
// NotificationID 为空表示由外部定时器触发
type DispatchRequestedPayload struct {
	NotificationID string    `json:"notification_id,omitempty"`
	ScheduledAt    time.Time `json:"scheduled_at,omitempty"`
	RequestedBy    string    `json:"requested_by,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
}
