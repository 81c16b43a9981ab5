package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"officeadmin.org/internal/audit"
	"officeadmin.org/internal/auth"
)

type createRoleRequest struct {
	Name          string   `json:"name" validate:"required,max=64"`
	Description   string   `json:"description" validate:"max=255"`
	PermissionIDs []string `json:"permission_ids" validate:"dive,required"`
}

type updateRoleRequest struct {
	Name          *string   `json:"name" validate:"omitempty,max=64"`
	Description   *string   `json:"description" validate:"omitempty,max=255"`
	PermissionIDs *[]string `json:"permission_ids"`
}

type rolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"dive,required"`
}

type createPermissionsRequest struct {
	Permissions []auth.PermissionInput `json:"permissions" validate:"required,min=1,dive"`
}

type updatePermissionRequest struct {
	Name *string `json:"name" validate:"omitempty,max=64"`
	Code *string `json:"code" validate:"omitempty,max=64"`
}

type createUserRequest struct {
	Username    string   `json:"username" validate:"required,min=3,max=64"`
	Password    string   `json:"password" validate:"required,min=6,max=128"`
	DisplayName string   `json:"display_name" validate:"max=64"`
	Email       string   `json:"email" validate:"omitempty,email,max=128"`
	Phone       string   `json:"phone" validate:"max=32"`
	RoleIDs     []string `json:"role_ids" validate:"dive,required"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=64"`
	Email       *string `json:"email" validate:"omitempty,email,max=128"`
	Phone       *string `json:"phone" validate:"omitempty,max=32"`
	Password    *string `json:"password" validate:"omitempty,min=6,max=128"`
}

type userRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"dive,required"`
}

// Roles

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), auth.RoleInput{
		Name:          req.Name,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChanged, map[string]any{
		"action":  "create",
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/rbac/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !bind(w, r, &req) {
		return
	}
	var permIDs []string
	if req.PermissionIDs != nil {
		permIDs = *req.PermissionIDs
		if permIDs == nil {
			permIDs = []string{}
		}
	}
	role, err := a.rbac.UpdateRole(r.Context(), r.PathValue("id"), auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	}, permIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChanged, map[string]any{
		"action":  "update",
		"role_id": role.ID,
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := r.PathValue("id")
	if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleDeleted, map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionsRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.rbac.SetRolePermissions(r.Context(), r.PathValue("id"), req.PermissionIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditRolePermissions(r, role, "set")
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleAddRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionsRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.rbac.AddRolePermissions(r.Context(), r.PathValue("id"), req.PermissionIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditRolePermissions(r, role, "add")
	writeJSON(w, http.StatusOK, role)
}

func (a *API) auditRolePermissions(r *http.Request, role auth.Role, action string) {
	codes := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		codes = append(codes, p.Code)
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChanged, map[string]any{
		"action":      "permissions_" + action,
		"role_id":     role.ID,
		"permissions": codes,
	})
}

// Permissions

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req auth.PermissionInput
	if !bind(w, r, &req) {
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/rbac/permissions/%s", perm.ID))
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleCreatePermissions(w http.ResponseWriter, r *http.Request) {
	var req createPermissionsRequest
	if !bind(w, r, &req) {
		return
	}
	created, err := a.rbac.CreatePermissions(r.Context(), req.Permissions)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"created": created,
		"skipped": len(req.Permissions) - created,
	})
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := a.rbac.GetPermission(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if !bind(w, r, &req) {
		return
	}
	perm, err := a.rbac.UpdatePermission(r.Context(), r.PathValue("id"), auth.PermissionUpdate{
		Name: req.Name,
		Code: req.Code,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.rbac.DeletePermission(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Users

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListUsers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), auth.UserInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Phone:       req.Phone,
		RoleIDs:     req.RoleIDs,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserCreated, map[string]any{
		"created_user_id": user.ID,
		"username":        user.Username,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.rbac.UpdateUser(r.Context(), r.PathValue("id"), auth.UserUpdate{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if identity := identityFrom(r); identity != nil && identity.UserID == userID {
		writeError(w, r, http.StatusConflict, "cannot delete the signed-in user")
		return
	}
	if err := a.rbac.DeleteUser(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserDeleted, map[string]any{"deleted_user_id": userID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	var req userRolesRequest
	if !bind(w, r, &req) {
		return
	}
	identity, err := a.rbac.SetUserRoles(r.Context(), r.PathValue("id"), req.RoleIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditUserRoles(r, identity, "set")
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleAddUserRoles(w http.ResponseWriter, r *http.Request) {
	var req userRolesRequest
	if !bind(w, r, &req) {
		return
	}
	identity, err := a.rbac.AddUserRoles(r.Context(), r.PathValue("id"), req.RoleIDs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditUserRoles(r, identity, "add")
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) auditUserRoles(r *http.Request, identity *auth.Identity, action string) {
	_ = audit.LogEvent(r.Context(), audit.EventUserRoles, map[string]any{
		"action":         action,
		"target_user_id": identity.UserID,
		"roles":          identity.RoleNames(),
	})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	identity, err := a.rbac.UserRolesAndPermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleCheckUserPermission(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "code query parameter is required")
		return
	}
	ok, err := a.rbac.CheckUserPermission(r.Context(), r.PathValue("id"), code)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "granted": ok})
}

func (a *API) handleCheckUserRole(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		writeError(w, r, http.StatusBadRequest, "role query parameter is required")
		return
	}
	ok, err := a.rbac.CheckUserRole(r.Context(), r.PathValue("id"), role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "granted": ok})
}
