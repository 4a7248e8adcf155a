package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"expenseflow/internal/repository"
	"expenseflow/pkg/rbac"
	"expenseflow/pkg/trace"
	"expenseflow/pkg/util"
)

// RoleLookup 由 *repository.UserRoleRepository 实现
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// TraceMiddleware 读取或生成 X-Trace-ID，写入 request context 和响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName()); id != "" {
			ctx = trace.WithContext(ctx, id)
		} else {
			ctx = trace.EnsureContext(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName(), trace.FromContext(ctx))
		c.Next()
	}
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		userID, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		// user_roles / push_subscriptions 以 uuid 作为用户主键
		if _, err := uuid.Parse(userID); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			c.Abort()
			return
		}

		// store user_id in context so handlers can use it
		c.Set("user_id", userID)

		c.Next()
	}
}

// RequirePermission 中间件：按 user_roles 中的角色检查权限
func RequirePermission(roles RoleLookup, permission string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		role, err := roles.GetRole(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrRoleNotFound) {
				c.JSON(http.StatusForbidden, gin.H{"error": "user has no role assigned"})
				c.Abort()
				return
			}
			logger.Error("Failed to load user role", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user role"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(userID, role, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("role", role)
		c.Next()
	}
}
