package rbac

import "fmt"

// 权限常量
const (
	PermissionScheduleNotification = "notification:schedule"
	PermissionReadNotification     = "notification:read"
	PermissionRequeueNotification  = "notification:requeue"
	PermissionManageSubscription   = "subscription:manage"
	PermissionReplayOutbox         = "outbox:replay"
)

// 角色常量（user_roles.role 的固定枚举）
const (
	RoleAdmin       = "admin"
	RoleAprobador   = "aprobador"
	RoleComprador   = "comprador"
	RoleSolicitante = "solicitante"
	RoleTesoreria   = "tesoreria"
)

// Roles 返回全部合法角色
func Roles() []string {
	return []string{RoleAdmin, RoleAprobador, RoleComprador, RoleSolicitante, RoleTesoreria}
}

// IsValidRole 判断是否为合法角色
func IsValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermissionScheduleNotification,
		PermissionReadNotification,
		PermissionRequeueNotification,
		PermissionManageSubscription,
		PermissionReplayOutbox,
	},
	RoleAprobador: {
		PermissionScheduleNotification,
		PermissionReadNotification,
		PermissionManageSubscription,
	},
	RoleTesoreria: {
		PermissionReadNotification,
		PermissionManageSubscription,
	},
	RoleComprador:   {PermissionManageSubscription},
	RoleSolicitante: {PermissionManageSubscription},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions: role %q lacks %s", e.Role, e.Permission)
}
