package auth

import "time"

// User is a stored account. PasswordHash never leaves the process.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"display_name,omitempty"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	TokenVersion int64      `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP  string     `json:"last_login_ip,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Role groups permissions. Permissions is only populated on detail reads.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission is an atomic capability identified by a namespaced code such as "user:list".
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is a user with the roles and effective permissions resolved at request time.
type Identity struct {
	UserID      string       `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name,omitempty"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// PermissionCodes returns the codes of the effective permission set.
func (i *Identity) PermissionCodes() []string {
	if i == nil {
		return nil
	}
	out := make([]string, 0, len(i.Permissions))
	for _, p := range i.Permissions {
		out = append(out, p.Code)
	}
	return out
}

// RoleNames returns the names of the assigned roles.
func (i *Identity) RoleNames() []string {
	if i == nil {
		return nil
	}
	out := make([]string, 0, len(i.Roles))
	for _, r := range i.Roles {
		out = append(out, r.Name)
	}
	return out
}

// HasPermission reports whether the identity holds the permission code.
func (i *Identity) HasPermission(code string) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p.Code == code {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity holds the named role.
func (i *Identity) HasRole(name string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// UserSummary is the public projection returned at login.
type UserSummary struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Roles       []string `json:"roles"`
}

// LoginInfo is the read-only login metadata of a user.
type LoginInfo struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"last_login_ip,omitempty"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserSummary `json:"user"`
}
