package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 推送 API 调用延迟（毫秒）
	PushCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_call_latency_ms",
			Help:    "Push delivery API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
	)

	// AI 网关调用延迟（毫秒）
	AssistCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assist_call_latency_ms",
			Help:    "AI completion gateway call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// 数据库慢查询计数
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of database queries slower than the configured threshold",
		},
		[]string{"command"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 调度执行次数
	DispatchRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_run_count",
			Help: "Total number of scheduled notification dispatch runs",
		},
		[]string{"trigger", "result"}, // result: ok, error, skipped
	)

	// 定时通知处理计数
	ScheduledNotificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_notification_processed_count",
			Help: "Total number of scheduled notifications moved to a terminal status",
		},
		[]string{"type", "status", "error_type"},
	)

	// 每条通知的收件人数
	NotificationRecipients = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduled_notification_recipients",
			Help:    "Recipient count reported for sent scheduled notifications",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k
		},
		[]string{"type"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordPushCallLatency 记录推送 API 调用延迟
func RecordPushCallLatency(status string, duration time.Duration) {
	PushCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordAssistCallLatency 记录 AI 网关调用延迟
func RecordAssistCallLatency(status string, duration time.Duration) {
	AssistCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(command string) {
	DBSlowQueryCount.WithLabelValues(command).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementDispatchRun 增加调度执行计数
func IncrementDispatchRun(trigger, result string) {
	DispatchRunCount.WithLabelValues(trigger, result).Inc()
}

// RecordScheduledNotification 记录一条通知的终态
func RecordScheduledNotification(notificationType, status, errorType string, recipients int) {
	ScheduledNotificationCount.WithLabelValues(notificationType, status, errorType).Inc()
	if status == "sent" {
		NotificationRecipients.WithLabelValues(notificationType).Observe(float64(recipients))
	}
}
