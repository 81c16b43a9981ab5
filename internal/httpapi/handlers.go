// Package httpapi exposes the office-admin services over HTTP and gRPC. Every endpoint is
// registered with an explicit access policy that the request gate evaluates before the
// handler runs.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
	"officeadmin.org/internal/siteconfig"
	"officeadmin.org/internal/upload"
)

const serviceName = "officeadmin-api"

// ReadyProbe is the readiness check. It pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the collaborators of the HTTP layer.
type Options struct {
	Version     string
	Probe       ReadyProbe
	Gate        *auth.Gate
	Sessions    *auth.SessionAuthority
	RBAC        *auth.RBACService
	Config      *siteconfig.Service
	Uploads     *upload.Service
	CORSOrigins []string
	Development bool
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	probe    ReadyProbe
	version  string
	gate     *auth.Gate
	sessions *auth.SessionAuthority
	rbac     *auth.RBACService
	config   *siteconfig.Service
	uploads  *upload.Service
	origins  []string
	dev      bool
	routes   []route
}

// route binds a method+path pattern to its policy and handler.
type route struct {
	pattern string
	policy  auth.Policy
	handler http.HandlerFunc
}

func New(opts Options) (*API, error) {
	if opts.Gate == nil || opts.Sessions == nil || opts.RBAC == nil || opts.Config == nil || opts.Uploads == nil {
		return nil, errors.New("httpapi: gate, sessions, rbac, config and uploads are required")
	}
	a := &API{
		mux:      http.NewServeMux(),
		probe:    opts.Probe,
		version:  opts.Version,
		gate:     opts.Gate,
		sessions: opts.Sessions,
		rbac:     opts.RBAC,
		config:   opts.Config,
		uploads:  opts.Uploads,
		origins:  opts.CORSOrigins,
		dev:      opts.Development,
	}
	a.routes = a.routeTable()
	for _, rt := range a.routes {
		a.mux.Handle(rt.pattern, a.guard(rt.policy, rt.handler))
	}
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

func (a *API) routeTable() []route {
	public := auth.Public
	authenticated := auth.Authenticated
	perm := auth.RequirePermissions

	return []route{
		// operations
		{"GET /healthz", public, a.Healthz},
		{"GET /readyz", public, a.Ready},
		{"GET /v1/info", public, a.Info},
		{"GET /metrics", public, obs.Handler().ServeHTTP},

		// auth
		{"POST /v1/auth/login", public, a.handleLogin},
		{"POST /v1/auth/logout", authenticated, a.handleLogout},
		{"GET /v1/auth/profile", authenticated, a.handleProfile},
		{"GET /v1/auth/login-info", authenticated, a.handleLoginInfo},
		{"POST /v1/auth/force-logout/{userID}", perm(auth.PermUserUpdate), a.handleForceLogout},

		// roles
		{"GET /v1/rbac/roles", perm(auth.PermRoleList), a.handleListRoles},
		{"POST /v1/rbac/roles", perm(auth.PermRoleCreate), a.handleCreateRole},
		{"GET /v1/rbac/roles/{id}", perm(auth.PermRoleList), a.handleGetRole},
		{"PUT /v1/rbac/roles/{id}", perm(auth.PermRoleUpdate), a.handleUpdateRole},
		{"DELETE /v1/rbac/roles/{id}", perm(auth.PermRoleDelete), a.handleDeleteRole},
		{"PUT /v1/rbac/roles/{id}/permissions", perm(auth.PermRoleAssignPermissions), a.handleSetRolePermissions},
		{"POST /v1/rbac/roles/{id}/permissions", perm(auth.PermRoleAssignPermissions), a.handleAddRolePermissions},

		// permissions
		{"GET /v1/rbac/permissions", perm(auth.PermPermissionList), a.handleListPermissions},
		{"POST /v1/rbac/permissions", perm(auth.PermPermissionCreate), a.handleCreatePermission},
		{"POST /v1/rbac/permissions/batch", perm(auth.PermPermissionCreate), a.handleCreatePermissions},
		{"GET /v1/rbac/permissions/{id}", perm(auth.PermPermissionList), a.handleGetPermission},
		{"PUT /v1/rbac/permissions/{id}", perm(auth.PermPermissionUpdate), a.handleUpdatePermission},
		{"DELETE /v1/rbac/permissions/{id}", perm(auth.PermPermissionDelete), a.handleDeletePermission},

		// users
		{"GET /v1/users", perm(auth.PermUserList), a.handleListUsers},
		{"POST /v1/users", perm(auth.PermUserCreate), a.handleCreateUser},
		{"GET /v1/users/{id}", perm(auth.PermUserList), a.handleGetUser},
		{"PUT /v1/users/{id}", perm(auth.PermUserUpdate), a.handleUpdateUser},
		{"DELETE /v1/users/{id}", perm(auth.PermUserDelete), a.handleDeleteUser},
		{"PUT /v1/users/{id}/roles", perm(auth.PermUserUpdate), a.handleSetUserRoles},
		{"POST /v1/users/{id}/roles", perm(auth.PermUserUpdate), a.handleAddUserRoles},
		{"GET /v1/users/{id}/permissions", perm(auth.PermUserList), a.handleUserPermissions},
		{"GET /v1/users/{id}/check-permission", perm(auth.PermUserList), a.handleCheckUserPermission},
		{"GET /v1/users/{id}/check-role", perm(auth.PermUserList), a.handleCheckUserRole},

		// site configuration, public reads
		{"GET /v1/config/public", public, a.handlePublicConfigList},
		{"GET /v1/config/public/map", public, a.handlePublicConfigMap},
		{"GET /v1/config/public/groups", public, a.handlePublicConfigGroups},
		{"GET /v1/config/public/key/{key}", public, a.handlePublicConfigByKey},
		{"GET /v1/config/public/{id}", public, a.handlePublicConfigByID},

		// site configuration, administration
		{"GET /v1/config", perm(auth.PermConfigList), a.handleConfigList},
		{"GET /v1/config/map", perm(auth.PermConfigList), a.handleConfigMap},
		{"GET /v1/config/groups", perm(auth.PermConfigList), a.handleConfigGroups},
		{"GET /v1/config/key/{key}", perm(auth.PermConfigList), a.handleConfigByKey},
		{"GET /v1/config/{id}", perm(auth.PermConfigList), a.handleConfigByID},
		{"POST /v1/config", perm(auth.PermConfigCreate), a.handleCreateConfig},
		{"POST /v1/config/set", perm(auth.PermConfigUpdate), a.handleSetConfig},
		{"POST /v1/config/batch", perm(auth.PermConfigUpdate), a.handleBatchConfig},
		{"PUT /v1/config/{id}", perm(auth.PermConfigUpdate), a.handleUpdateConfig},
		{"PUT /v1/config/key/{key}", perm(auth.PermConfigUpdate), a.handleUpdateConfigByKey},
		{"DELETE /v1/config/{id}", perm(auth.PermConfigDelete), a.handleDeleteConfig},
		{"DELETE /v1/config/key/{key}", perm(auth.PermConfigDelete), a.handleDeleteConfigByKey},

		// uploads
		{"POST /v1/uploads/images", authenticated, a.handleUploadSingle(upload.KindImage)},
		{"POST /v1/uploads/images/batch", authenticated, a.handleUploadBatch(upload.KindImage)},
		{"POST /v1/uploads/files", authenticated, a.handleUploadSingle(upload.KindFile)},
		{"POST /v1/uploads/files/batch", authenticated, a.handleUploadBatch(upload.KindFile)},
		{"DELETE /v1/uploads", authenticated, a.handleDeleteUpload},
	}
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(a.dev)(h)
	h = LoggingJSON(h)
	h = Recover(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
