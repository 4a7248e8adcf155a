package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"expenseflow/pkg/trace"
)

type published struct {
	routingKey string
	traceID    string
	payload    any
}

type fakePublisher struct {
	calls []published
	fail  map[string]bool // 按 trace_id 模拟失败
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	traceID := trace.FromContext(ctx)
	p.calls = append(p.calls, published{routingKey: routingKey, traceID: traceID, payload: payload})
	if p.fail[traceID] {
		return errors.New("channel closed")
	}
	return nil
}

var eventCols = []string{
	"id", "aggregate_type", "aggregate_id", "routing_key", "payload", "status",
	"retry_count", "next_retry_at", "created_at", "updated_at",
}

func TestDispatcher_ProcessPendingEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(1), "scheduled_notification", "n-1", "notification.dispatch.requested",
				json.RawMessage(`{"notification_id":"n-1","trace_id":"t-ok"}`), "pending", 0, (*time.Time)(nil), now, now).
			AddRow(int64(2), "scheduled_notification", "n-2", "notification.dispatch.requested",
				json.RawMessage(`{"notification_id":"n-2","trace_id":"t-fail"}`), "pending", 1, (*time.Time)(nil), now, now))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET retry_count = retry_count + 1")).
		WithArgs(int64(2), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	pub := &fakePublisher{fail: map[string]bool{"t-fail": true}}
	d := NewDispatcher(NewRepository(mock), pub, zap.NewNop())

	n := d.ProcessPendingEvents(context.Background())

	assert.Equal(t, 1, n)
	require.Len(t, pub.calls, 2)
	assert.Equal(t, "notification.dispatch.requested", pub.calls[0].routingKey)
	assert.Equal(t, "t-ok", pub.calls[0].traceID)
	assert.JSONEq(t, `{"notification_id":"n-1","trace_id":"t-ok"}`, string(pub.calls[0].payload.(json.RawMessage)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayService_ReplayEvent_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM outbox_events").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(eventCols))

	s := NewReplayService(NewRepository(mock), &fakePublisher{})
	err = s.ReplayEvent(context.Background(), 42)

	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayService_ReplayFailedEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	payload := json.RawMessage(`{"notification_id":"n-9"}`)
	mock.ExpectQuery("WHERE status = 'failed'").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(9), "scheduled_notification", "n-9", "notification.dispatch.requested",
				payload, "failed", 5, (*time.Time)(nil), now, now))
	mock.ExpectQuery("WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(9), "scheduled_notification", "n-9", "notification.dispatch.requested",
				payload, "failed", 5, (*time.Time)(nil), now, now))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	pub := &fakePublisher{}
	s := NewReplayService(NewRepository(mock), pub)
	n, err := s.ReplayFailedEvents(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.calls, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
