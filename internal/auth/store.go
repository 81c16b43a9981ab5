package auth

import (
	"context"
	"time"
)

// CredentialStore is the persistence contract consumed by the session authority and the
// authorization engine. Lookups by unique key return ErrNotFound when nothing matches and
// wrap connection failures in ErrUnavailable.
type CredentialStore interface {
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	// IncrementTokenVersion bumps the counter atomically and returns the new value.
	IncrementTokenVersion(ctx context.Context, userID string) (int64, error)
	// RecordLogin bumps the token version and stores the login time and origin in one
	// write, returning the new version.
	RecordLogin(ctx context.Context, userID string, at time.Time, origin string) (int64, error)
	ListRolesForUser(ctx context.Context, userID string) ([]Role, error)
	ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]Permission, error)
}

// RBACStore adds the administrative operations on users, roles and permissions.
type RBACStore interface {
	CredentialStore

	// CreateUser inserts the user together with its role links; an unknown role id
	// leaves nothing behind.
	CreateUser(ctx context.Context, u NewUser) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, userID string) error

	CreateRole(ctx context.Context, r NewRole) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	// UpdateRole applies the field changes and, when PermissionIDs is non-nil, replaces
	// the permission links in the same write.
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	// DeleteRole fails with ErrConflict while any user still holds the role.
	DeleteRole(ctx context.Context, roleID string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	CreatePermission(ctx context.Context, name, code string) (Permission, error)
	// CreatePermissions inserts the batch skipping rows whose name or code already exists.
	CreatePermissions(ctx context.Context, perms []PermissionInput) (int, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, permissionID string) (Permission, error)
	UpdatePermission(ctx context.Context, permissionID string, upd PermissionUpdate) (Permission, error)
	DeletePermission(ctx context.Context, permissionID string) error

	SetUserRoles(ctx context.Context, userID string, roleIDs []string) error
	AddUserRoles(ctx context.Context, userID string, roleIDs []string) error
}

type NewUser struct {
	Username     string
	PasswordHash string
	DisplayName  string
	Email        string
	Phone        string
	RoleIDs      []string
}

type NewRole struct {
	Name          string
	Description   string
	PermissionIDs []string
}

type UserUpdate struct {
	DisplayName *string
	Email       *string
	Phone       *string
	Password    *string
}

type RoleUpdate struct {
	Name        *string
	Description *string
	// nil leaves the links untouched, an empty slice clears them
	PermissionIDs []string
}

type PermissionInput struct {
	Name string `json:"name" validate:"required"`
	Code string `json:"code" validate:"required"`
}

type PermissionUpdate struct {
	Name *string
	Code *string
}
