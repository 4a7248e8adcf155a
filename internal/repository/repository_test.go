package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"expenseflow/internal/model"
)

var notificationCols = []string{
	"id", "notification_type", "target_role", "target_user_id", "title", "message",
	"scheduled_at", "status", "sent_at", "recipients_count", "error_message", "created_by", "created_at",
}

func strPtr(s string) *string { return &s }

func TestScheduledNotificationRepository_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND scheduled_at <= $1")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow("n-1", "role", strPtr("comprador"), (*string)(nil), "Hola", "Mensaje",
				now.Add(-time.Hour), "pending", (*time.Time)(nil), int32(0), (*string)(nil), (*string)(nil), now.Add(-2*time.Hour)).
			AddRow("n-2", "personal", (*string)(nil), strPtr("abcdefghijk"), "Hola", "Mensaje",
				now, "pending", (*time.Time)(nil), int32(0), (*string)(nil), (*string)(nil), now.Add(-2*time.Hour)))

	repo := NewScheduledNotificationRepository(mock, zap.NewNop())
	list, err := repo.ListDue(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.TypeRole, list[0].NotificationType)
	assert.Equal(t, "comprador", *list[0].TargetRole)
	assert.Equal(t, model.StatusPending, list[0].Status)
	assert.Equal(t, "abcdefghijk", *list[1].TargetUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledNotificationRepository_ListDue_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM scheduled_notifications").
		WillReturnError(errors.New("connection refused"))

	repo := NewScheduledNotificationRepository(mock, zap.NewNop())
	_, err = repo.ListDue(context.Background(), time.Now())

	assert.ErrorContains(t, err, "connection refused")
}

func TestScheduledNotificationRepository_MarkSentAndFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).
		WithArgs("n-1", at, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
		WithArgs("n-2", at, "No hay destinatarios").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewScheduledNotificationRepository(mock, zap.NewNop())
	require.NoError(t, repo.MarkSent(context.Background(), "n-1", 3, at))
	require.NoError(t, repo.MarkFailed(context.Background(), "n-2", "No hay destinatarios", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledNotificationRepository_Requeue(t *testing.T) {
	t.Run("failed notification is reset", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending'")).
			WithArgs("n-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewScheduledNotificationRepository(mock, zap.NewNop())
		assert.NoError(t, repo.Requeue(context.Background(), "n-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sent notification is rejected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending'")).
			WithArgs("n-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1::uuid")).
			WithArgs("n-1").
			WillReturnRows(pgxmock.NewRows(notificationCols).
				AddRow("n-1", "broadcast", (*string)(nil), (*string)(nil), "Hola", "Mensaje",
					now, "sent", &now, int32(2), (*string)(nil), (*string)(nil), now))

		repo := NewScheduledNotificationRepository(mock, zap.NewNop())
		assert.ErrorIs(t, repo.Requeue(context.Background(), "n-1"), ErrNotRequeueable)
	})

	t.Run("missing notification", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending'")).
			WithArgs("n-404").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1::uuid")).
			WithArgs("n-404").
			WillReturnRows(pgxmock.NewRows(notificationCols))

		repo := NewScheduledNotificationRepository(mock, zap.NewNop())
		assert.ErrorIs(t, repo.Requeue(context.Background(), "n-404"), ErrNotificationNotFound)
	})
}

func TestSubscriptionRepository_FindIdentifierByUser(t *testing.T) {
	tests := []struct {
		name      string
		rows      []string
		wantID    string
		wantFound bool
		wantErr   error
	}{
		{"no subscription", nil, "", false, nil},
		{"single subscription", []string{"sub-identifier-1"}, "sub-identifier-1", true, nil},
		{"ambiguous subscriptions", []string{"sub-a", "sub-b"}, "", false, ErrMultipleSubscriptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			rows := pgxmock.NewRows([]string{"auth"})
			for _, r := range tt.rows {
				rows.AddRow(r)
			}
			mock.ExpectQuery("FROM push_subscriptions").WithArgs("u-1").WillReturnRows(rows)

			id, found, err := NewSubscriptionRepository(mock).FindIdentifierByUser(context.Background(), "u-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantFound, found)
		})
	}
}

func TestSubscriptionRepository_ListIdentifiersByUsers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("ANY($1::uuid[])")).
		WithArgs([]string{"u-1", "u-2"}).
		WillReturnRows(pgxmock.NewRows([]string{"auth"}).AddRow("sub-1").AddRow("sub-2"))

	repo := NewSubscriptionRepository(mock)
	ids, err := repo.ListIdentifiersByUsers(context.Background(), []string{"u-1", "u-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "sub-2"}, ids)

	// 空集合不访问数据库
	ids, err = repo.ListIdentifiersByUsers(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM push_subscriptions")).
		WithArgs("u-1", "sub-new").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO push_subscriptions")).
		WithArgs("u-1", "sub-new").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))
	mock.ExpectCommit()
	mock.ExpectRollback()

	sub, err := NewSubscriptionRepository(mock).Upsert(context.Background(), "u-1", "sub-new")
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.ID)
	assert.Equal(t, "sub-new", sub.Auth)
}

func TestUserRoleRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_roles WHERE role = $1")).
		WithArgs("comprador").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u-1").AddRow("u-2"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_roles WHERE user_id = $1::uuid")).
		WithArgs("u-3").
		WillReturnError(pgx.ErrNoRows)

	repo := NewUserRoleRepository(mock)
	ids, err := repo.ListUserIDsByRole(context.Background(), "comprador")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, ids)

	_, err = repo.GetRole(context.Background(), "u-3")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
