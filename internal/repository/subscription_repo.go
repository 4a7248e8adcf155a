package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"expenseflow/internal/model"
	"expenseflow/pkg/db"
)

// ErrMultipleSubscriptions 同一用户存在多条订阅记录
var ErrMultipleSubscriptions = errors.New("multiple push subscriptions found for user")

type SubscriptionRepository struct {
	db db.DBTX
}

func NewSubscriptionRepository(db db.DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ListAllIdentifiers 返回全部订阅标识（广播使用）
func (r *SubscriptionRepository) ListAllIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT auth FROM push_subscriptions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return collectStrings(rows)
}

// ListIdentifiersByUsers 返回给定用户集合的订阅标识
func (r *SubscriptionRepository) ListIdentifiersByUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT auth FROM push_subscriptions
		WHERE user_id = ANY($1::uuid[])
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions by users: %w", err)
	}
	return collectStrings(rows)
}

// FindIdentifierByUser 查询单个用户的订阅标识
// 无记录返回 found=false；多于一条返回 ErrMultipleSubscriptions
func (r *SubscriptionRepository) FindIdentifierByUser(ctx context.Context, userID string) (string, bool, error) {
	query := `
		SELECT auth FROM push_subscriptions
		WHERE user_id = $1::uuid
		LIMIT 2
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return "", false, fmt.Errorf("failed to find push subscription: %w", err)
	}

	ids, err := collectStrings(rows)
	if err != nil {
		return "", false, err
	}

	switch len(ids) {
	case 0:
		return "", false, nil
	case 1:
		return ids[0], true, nil
	default:
		return "", false, ErrMultipleSubscriptions
	}
}

// Upsert 注册订阅：同一用户只保留最新的标识
func (r *SubscriptionRepository) Upsert(ctx context.Context, userID, auth string) (*model.PushSubscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1::uuid AND auth <> $2`,
		userID, auth,
	); err != nil {
		return nil, fmt.Errorf("failed to remove stale subscriptions: %w", err)
	}

	sub := &model.PushSubscription{UserID: userID, Auth: auth}
	query := `
		INSERT INTO push_subscriptions (user_id, auth)
		VALUES ($1::uuid, $2)
		ON CONFLICT (user_id, auth) DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRow(ctx, query, userID, auth).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert push subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sub, nil
}

// DeleteByUser 删除用户的全部订阅，返回删除条数
func (r *SubscriptionRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1::uuid`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete push subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
