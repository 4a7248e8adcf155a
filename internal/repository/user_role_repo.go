package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"expenseflow/pkg/db"
)

var ErrRoleNotFound = errors.New("user role not found")

type UserRoleRepository struct {
	db db.DBTX
}

func NewUserRoleRepository(db db.DBTX) *UserRoleRepository {
	return &UserRoleRepository{db: db}
}

// ListUserIDsByRole 返回拥有该角色的全部用户 ID
func (r *UserRoleRepository) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id::text FROM user_roles WHERE role = $1`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	return collectStrings(rows)
}

func (r *UserRoleRepository) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1::uuid`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRoleNotFound
		}
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return role, nil
}
