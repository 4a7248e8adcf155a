package model

import "time"

// PushSubscription 对应 push_subscriptions 表，Auth 为推送服务签发的订阅标识
type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
