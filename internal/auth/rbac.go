package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RoleInput is the payload for role creation.
type RoleInput struct {
	Name          string
	Description   string
	PermissionIDs []string
}

// UserInput is the payload for user creation.
type UserInput struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
	Phone       string
	RoleIDs     []string
}

// RBACService validates administrative input before it reaches the store.
type RBACService struct {
	store  RBACStore
	hasher PasswordHasher
	engine *Engine
}

func NewRBACService(store RBACStore, hasher PasswordHasher) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params)
	}
	engine, err := NewEngine(store)
	if err != nil {
		return nil, err
	}
	return &RBACService{store: store, hasher: hasher, engine: engine}, nil
}

// Users

func (s *RBACService) CreateUser(ctx context.Context, in UserInput) (User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, NewUser{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Email:        strings.TrimSpace(strings.ToLower(in.Email)),
		Phone:        strings.TrimSpace(in.Phone),
		RoleIDs:      dedupeStrings(in.RoleIDs),
	})
}

func (s *RBACService) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *RBACService) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.FindUserByID(ctx, userID)
}

func (s *RBACService) FindUserByUsername(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	return s.store.FindUserByUsername(ctx, username)
}

func (s *RBACService) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.DisplayName != nil {
		v := strings.TrimSpace(*upd.DisplayName)
		upd.DisplayName = &v
	}
	if upd.Email != nil {
		v := strings.TrimSpace(strings.ToLower(*upd.Email))
		upd.Email = &v
	}
	if upd.Phone != nil {
		v := strings.TrimSpace(*upd.Phone)
		upd.Phone = &v
	}
	if upd.Password != nil {
		if strings.TrimSpace(*upd.Password) == "" {
			return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, userID, upd)
}

func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, userID)
}

// Roles

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := s.store.CreateRole(ctx, NewRole{
		Name:          name,
		Description:   strings.TrimSpace(in.Description),
		PermissionIDs: dedupeStrings(in.PermissionIDs),
	})
	if err != nil {
		return Role{}, err
	}
	return s.GetRole(ctx, role.ID)
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole returns the role with its permissions.
func (s *RBACService) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.store.ListPermissionsForRoles(ctx, []string{role.ID})
	if err != nil {
		return Role{}, err
	}
	role.Permissions = dedupePermissions(perms)
	return role, nil
}

func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate, permissionIDs []string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	upd.PermissionIDs = nil
	if permissionIDs != nil {
		upd.PermissionIDs = append([]string{}, dedupeStrings(permissionIDs)...)
	}
	if _, err := s.store.UpdateRole(ctx, roleID, upd); err != nil {
		return Role{}, err
	}
	return s.GetRole(ctx, roleID)
}

// DeleteRole removes a role that no user holds. Roles still assigned fail with ErrConflict;
// reassign the users first.
func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// SetRolePermissions replaces the permission set of the role.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.SetRolePermissions(ctx, roleID, dedupeStrings(permissionIDs)); err != nil {
		return Role{}, err
	}
	return s.GetRole(ctx, roleID)
}

// AddRolePermissions grants additional permissions, keeping the existing ones.
func (s *RBACService) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	ids := dedupeStrings(permissionIDs)
	if len(ids) == 0 {
		return Role{}, fmt.Errorf("%w: permission_ids are required", ErrInvalidInput)
	}
	if err := s.store.AddRolePermissions(ctx, roleID, ids); err != nil {
		return Role{}, err
	}
	return s.GetRole(ctx, roleID)
}

// Permissions

func (s *RBACService) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in, err := normalizePermission(in)
	if err != nil {
		return Permission{}, err
	}
	return s.store.CreatePermission(ctx, in.Name, in.Code)
}

// CreatePermissions inserts the batch, skipping entries that already exist, and returns
// how many rows were created.
func (s *RBACService) CreatePermissions(ctx context.Context, in []PermissionInput) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	batch := make([]PermissionInput, 0, len(in))
	for _, p := range in {
		p, err := normalizePermission(p)
		if err != nil {
			return 0, err
		}
		batch = append(batch, p)
	}
	return s.store.CreatePermissions(ctx, batch)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) GetPermission(ctx context.Context, permissionID string) (Permission, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return Permission{}, fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	return s.store.GetPermission(ctx, permissionID)
}

func (s *RBACService) UpdatePermission(ctx context.Context, permissionID string, upd PermissionUpdate) (Permission, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return Permission{}, fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Code != nil {
		code := strings.TrimSpace(*upd.Code)
		if !validCode(code) {
			return Permission{}, fmt.Errorf("%w: permission code must look like resource:action", ErrInvalidInput)
		}
		upd.Code = &code
	}
	return s.store.UpdatePermission(ctx, permissionID, upd)
}

// DeletePermission removes the permission from the catalog and from every role holding it.
func (s *RBACService) DeletePermission(ctx context.Context, permissionID string) error {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	return s.store.DeletePermission(ctx, permissionID)
}

// User roles

// SetUserRoles replaces the roles of the user.
func (s *RBACService) SetUserRoles(ctx context.Context, userID string, roleIDs []string) (*Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := s.store.SetUserRoles(ctx, userID, dedupeStrings(roleIDs)); err != nil {
		return nil, err
	}
	return s.engine.ResolveUser(ctx, userID)
}

func (s *RBACService) AddUserRoles(ctx context.Context, userID string, roleIDs []string) (*Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	ids := dedupeStrings(roleIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: role_ids are required", ErrInvalidInput)
	}
	if err := s.store.AddUserRoles(ctx, userID, ids); err != nil {
		return nil, err
	}
	return s.engine.ResolveUser(ctx, userID)
}

// UserRolesAndPermissions returns the resolved identity of any user.
func (s *RBACService) UserRolesAndPermissions(ctx context.Context, userID string) (*Identity, error) {
	return s.engine.ResolveUser(ctx, userID)
}

func (s *RBACService) CheckUserPermission(ctx context.Context, userID, code string) (bool, error) {
	return s.engine.HasPermission(ctx, userID, code)
}

func (s *RBACService) CheckUserRole(ctx context.Context, userID, roleName string) (bool, error) {
	return s.engine.HasRole(ctx, userID, roleName)
}

func normalizePermission(in PermissionInput) (PermissionInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	if in.Name == "" {
		return PermissionInput{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if !validCode(in.Code) {
		return PermissionInput{}, fmt.Errorf("%w: permission code must look like resource:action", ErrInvalidInput)
	}
	return in, nil
}

func validCode(code string) bool {
	resource, action, ok := strings.Cut(code, ":")
	return ok && resource != "" && action != "" && !strings.ContainsAny(code, " \t\n")
}
