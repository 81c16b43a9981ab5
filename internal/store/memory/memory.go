// Package memory is a process-local implementation of the credential, RBAC and site
// configuration stores. It backs development runs without Postgres and the HTTP tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/ids"
	"officeadmin.org/internal/siteconfig"
)

type set map[string]struct{}

type Store struct {
	mu        sync.RWMutex
	users     map[string]auth.User
	roles     map[string]auth.Role
	perms     map[string]auth.Permission
	userRoles map[string]set
	rolePerms map[string]set
	configs   map[string]siteconfig.Entry
	now       func() time.Time
}

var (
	_ auth.RBACStore   = (*Store)(nil)
	_ siteconfig.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:     map[string]auth.User{},
		roles:     map[string]auth.Role{},
		perms:     map[string]auth.Permission{},
		userRoles: map[string]set{},
		rolePerms: map[string]set{},
		configs:   map[string]siteconfig.Entry{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Credential store

func (s *Store) FindUserByUsername(_ context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, userID string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) IncrementTokenVersion(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, auth.ErrNotFound
	}
	u.TokenVersion++
	s.users[userID] = u
	return u.TokenVersion, nil
}

func (s *Store) RecordLogin(_ context.Context, userID string, at time.Time, origin string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, auth.ErrNotFound
	}
	at = at.UTC()
	u.TokenVersion++
	u.LastLoginAt = &at
	u.LastLoginIP = origin
	s.users[userID] = u
	return u.TokenVersion, nil
}

func (s *Store) ListRolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []auth.Role{}
	for roleID := range s.userRoles[userID] {
		if r, ok := s.roles[roleID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListPermissionsForRoles(_ context.Context, roleIDs []string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := set{}
	out := []auth.Permission{}
	for _, roleID := range roleIDs {
		for permID := range s.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			if p, ok := s.perms[permID]; ok {
				seen[permID] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Users

func (s *Store) CreateUser(_ context.Context, in auth.NewUser) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == in.Username {
			return auth.User{}, fmt.Errorf("%w: username %q is taken", auth.ErrConflict, in.Username)
		}
	}
	if err := s.checkRoles(in.RoleIDs); err != nil {
		return auth.User{}, err
	}
	now := s.now()
	u := auth.User{
		ID:           ids.New(),
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		Phone:        in.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	if len(in.RoleIDs) > 0 {
		s.userRoles[u.ID] = newSet(in.RoleIDs)
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, userID string, upd auth.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, userID)
	delete(s.userRoles, userID)
	return nil
}

// Roles

func (s *Store) CreateRole(_ context.Context, in auth.NewRole) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleNameTaken(in.Name, "") {
		return auth.Role{}, fmt.Errorf("%w: role %q already exists", auth.ErrConflict, in.Name)
	}
	if err := s.checkPerms(in.PermissionIDs); err != nil {
		return auth.Role{}, err
	}
	now := s.now()
	r := auth.Role{ID: ids.New(), Name: in.Name, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	if len(in.PermissionIDs) > 0 {
		s.rolePerms[r.ID] = newSet(in.PermissionIDs)
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateRole(_ context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		if s.roleNameTaken(*upd.Name, roleID) {
			return auth.Role{}, fmt.Errorf("%w: role %q already exists", auth.ErrConflict, *upd.Name)
		}
	}
	if err := s.checkPerms(upd.PermissionIDs); err != nil {
		return auth.Role{}, err
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.PermissionIDs != nil {
		s.rolePerms[roleID] = newSet(upd.PermissionIDs)
	}
	r.UpdatedAt = s.now()
	s.roles[roleID] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	holders := 0
	for _, roles := range s.userRoles {
		if _, ok := roles[roleID]; ok {
			holders++
		}
	}
	if holders > 0 {
		return fmt.Errorf("%w: role is assigned to %d user(s)", auth.ErrConflict, holders)
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	return nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRolePerms(roleID, permissionIDs); err != nil {
		return err
	}
	s.rolePerms[roleID] = newSet(permissionIDs)
	return nil
}

func (s *Store) AddRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRolePerms(roleID, permissionIDs); err != nil {
		return err
	}
	cur, ok := s.rolePerms[roleID]
	if !ok {
		cur = set{}
		s.rolePerms[roleID] = cur
	}
	for _, id := range permissionIDs {
		cur[id] = struct{}{}
	}
	return nil
}

// Permissions

func (s *Store) CreatePermission(_ context.Context, name, code string) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permissionTaken(name, code, "") {
		return auth.Permission{}, fmt.Errorf("%w: permission name %q or code %q already exists", auth.ErrConflict, name, code)
	}
	p := auth.Permission{ID: ids.New(), Name: name, Code: code, CreatedAt: s.now()}
	s.perms[p.ID] = p
	return p, nil
}

func (s *Store) CreatePermissions(_ context.Context, batch []auth.PermissionInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, in := range batch {
		if s.permissionTaken(in.Name, in.Code, "") {
			continue
		}
		p := auth.Permission{ID: ids.New(), Name: in.Name, Code: in.Code, CreatedAt: s.now()}
		s.perms[p.ID] = p
		created++
	}
	return created, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetPermission(_ context.Context, permissionID string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[permissionID]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdatePermission(_ context.Context, permissionID string, upd auth.PermissionUpdate) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[permissionID]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	name, code := p.Name, p.Code
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.Code != nil {
		code = *upd.Code
	}
	if s.permissionTaken(name, code, permissionID) {
		return auth.Permission{}, fmt.Errorf("%w: permission name or code already exists", auth.ErrConflict)
	}
	p.Name, p.Code = name, code
	s.perms[permissionID] = p
	return p, nil
}

func (s *Store) DeletePermission(_ context.Context, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[permissionID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.perms, permissionID)
	for _, perms := range s.rolePerms {
		delete(perms, permissionID)
	}
	return nil
}

// User roles

func (s *Store) SetUserRoles(_ context.Context, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUserRoles(userID, roleIDs); err != nil {
		return err
	}
	s.userRoles[userID] = newSet(roleIDs)
	return nil
}

func (s *Store) AddUserRoles(_ context.Context, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUserRoles(userID, roleIDs); err != nil {
		return err
	}
	cur, ok := s.userRoles[userID]
	if !ok {
		cur = set{}
		s.userRoles[userID] = cur
	}
	for _, id := range roleIDs {
		cur[id] = struct{}{}
	}
	return nil
}

// Site configuration

func (s *Store) CreateConfig(_ context.Context, in siteconfig.Input) (siteconfig.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configByKey(in.Key); ok {
		return siteconfig.Entry{}, siteconfig.ErrConflict
	}
	return s.insertConfig(in), nil
}

func (s *Store) ListConfigs(_ context.Context, group string) ([]siteconfig.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []siteconfig.Entry{}
	for _, e := range s.configs {
		if group != "" && e.Group != group {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) GetConfigByID(_ context.Context, id string) (siteconfig.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.configs[id]
	if !ok {
		return siteconfig.Entry{}, siteconfig.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetConfigByKey(_ context.Context, key string) (siteconfig.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.configByKey(key)
	if !ok {
		return siteconfig.Entry{}, siteconfig.ErrNotFound
	}
	return e, nil
}

func (s *Store) UpdateConfig(_ context.Context, id string, upd siteconfig.Update) (siteconfig.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.configs[id]
	if !ok {
		return siteconfig.Entry{}, siteconfig.ErrNotFound
	}
	if upd.Value != nil {
		e.Value = *upd.Value
	}
	if upd.Description != nil {
		e.Description = *upd.Description
	}
	if upd.Group != nil {
		e.Group = *upd.Group
	}
	e.UpdatedAt = s.now()
	s.configs[id] = e
	return e, nil
}

func (s *Store) UpsertConfig(_ context.Context, in siteconfig.Input) (siteconfig.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.configByKey(in.Key); ok {
		e.Value = in.Value
		e.UpdatedAt = s.now()
		s.configs[e.ID] = e
		return e, nil
	}
	return s.insertConfig(in), nil
}

func (s *Store) DeleteConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return siteconfig.ErrNotFound
	}
	delete(s.configs, id)
	return nil
}

func (s *Store) ListConfigGroups(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := set{}
	out := []string{}
	for _, e := range s.configs {
		if _, ok := seen[e.Group]; ok {
			continue
		}
		seen[e.Group] = struct{}{}
		out = append(out, e.Group)
	}
	sort.Strings(out)
	return out, nil
}

// helpers; callers hold the lock

func (s *Store) roleNameTaken(name, exceptID string) bool {
	for id, r := range s.roles {
		if id != exceptID && r.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) permissionTaken(name, code, exceptID string) bool {
	for id, p := range s.perms {
		if id != exceptID && (p.Name == name || p.Code == code) {
			return true
		}
	}
	return false
}

func (s *Store) checkRolePerms(roleID string, permissionIDs []string) error {
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	return s.checkPerms(permissionIDs)
}

func (s *Store) checkPerms(permissionIDs []string) error {
	for _, id := range permissionIDs {
		if _, ok := s.perms[id]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, id)
		}
	}
	return nil
}

func (s *Store) checkUserRoles(userID string, roleIDs []string) error {
	if _, ok := s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	return s.checkRoles(roleIDs)
}

func (s *Store) checkRoles(roleIDs []string) error {
	for _, id := range roleIDs {
		if _, ok := s.roles[id]; !ok {
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, id)
		}
	}
	return nil
}

func newSet(values []string) set {
	out := make(set, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func (s *Store) configByKey(key string) (siteconfig.Entry, bool) {
	for _, e := range s.configs {
		if e.Key == key {
			return e, true
		}
	}
	return siteconfig.Entry{}, false
}

func (s *Store) insertConfig(in siteconfig.Input) siteconfig.Entry {
	now := s.now()
	group := strings.TrimSpace(in.Group)
	if group == "" {
		group = siteconfig.DefaultGroup
	}
	e := siteconfig.Entry{
		ID:          ids.New(),
		Key:         in.Key,
		Value:       in.Value,
		Description: in.Description,
		Group:       group,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.configs[e.ID] = e
	return e
}
