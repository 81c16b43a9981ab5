// Package seed installs the default permission catalog, built-in roles, the initial
// administrator and default site settings. Running it again converges to the same state.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
	"officeadmin.org/internal/siteconfig"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
)

// DefaultSiteConfigs are created when missing; existing values are left alone.
var DefaultSiteConfigs = []siteconfig.Input{
	{Key: "siteTitle", Value: "Office Admin", Description: "Site title", Group: "general"},
	{Key: "siteDescription", Value: "Office administration platform", Description: "Site description", Group: "general"},
	{Key: "siteLogo", Value: "/logo.png", Description: "Logo URL", Group: "appearance"},
	{Key: "siteFavicon", Value: "/favicon.ico", Description: "Favicon URL", Group: "appearance"},
	{Key: "copyright", Value: "© 2026 Office Admin. All rights reserved.", Description: "Copyright notice", Group: "general"},
	{Key: "icpNumber", Value: "", Description: "ICP registration number", Group: "general"},
}

type Options struct {
	AdminUsername string
	AdminPassword string
	Logger        *slog.Logger
}

// Result counts rows created by one run.
type Result struct {
	Permissions int
	Roles       int
	Users       int
	Configs     int
}

// Run seeds rbac and configs. Built-in roles are re-synchronised to their permission
// lists on every run and the administrator is pinned to the Administrator role.
func Run(ctx context.Context, rbac *auth.RBACService, configs *siteconfig.Service, opts Options) (Result, error) {
	if rbac == nil || configs == nil {
		return Result{}, errors.New("seed: rbac and config services are required")
	}
	if opts.AdminUsername == "" {
		opts.AdminUsername = DefaultAdminUsername
	}
	if opts.AdminPassword == "" {
		opts.AdminPassword = DefaultAdminPassword
	}
	logger := opts.Logger
	if logger == nil {
		logger = obs.Logger()
	}

	var res Result
	var err error

	res.Permissions, err = rbac.CreatePermissions(ctx, auth.BuiltinPermissions)
	if err != nil {
		return res, fmt.Errorf("seed permissions: %w", err)
	}

	roleIDs, created, err := syncRoles(ctx, rbac)
	res.Roles = created
	if err != nil {
		return res, err
	}

	adminRole := roleIDs[auth.RoleAdministrator]
	admin, err := rbac.FindUserByUsername(ctx, opts.AdminUsername)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		if _, err := rbac.CreateUser(ctx, auth.UserInput{
			Username:    opts.AdminUsername,
			Password:    opts.AdminPassword,
			DisplayName: "Administrator",
			RoleIDs:     []string{adminRole},
		}); err != nil {
			return res, fmt.Errorf("seed admin user: %w", err)
		}
		res.Users++
		logger.WarnContext(ctx, "default administrator created",
			slog.String("username", opts.AdminUsername),
			slog.String("action_required", "change this password immediately"))
	case err != nil:
		return res, fmt.Errorf("seed admin user: %w", err)
	default:
		if _, err := rbac.SetUserRoles(ctx, admin.ID, []string{adminRole}); err != nil {
			return res, fmt.Errorf("seed admin roles: %w", err)
		}
	}

	res.Configs, err = configs.EnsureDefaults(ctx, DefaultSiteConfigs)
	if err != nil {
		return res, fmt.Errorf("seed site config: %w", err)
	}

	logger.InfoContext(ctx, "seed complete",
		slog.Int("permissions_created", res.Permissions),
		slog.Int("roles_created", res.Roles),
		slog.Int("users_created", res.Users),
		slog.Int("configs_created", res.Configs))
	return res, nil
}

func syncRoles(ctx context.Context, rbac *auth.RBACService) (map[string]string, int, error) {
	perms, err := rbac.ListPermissions(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("seed: list permissions: %w", err)
	}
	permByCode := make(map[string]string, len(perms))
	all := make([]string, 0, len(perms))
	for _, p := range perms {
		permByCode[p.Code] = p.ID
		all = append(all, p.ID)
	}

	roles, err := rbac.ListRoles(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("seed: list roles: %w", err)
	}
	roleIDs := make(map[string]string, len(roles))
	for _, r := range roles {
		roleIDs[r.Name] = r.ID
	}

	created := 0
	for _, br := range auth.BuiltinRoles {
		want := all
		if br.Permissions != nil {
			want = make([]string, 0, len(br.Permissions))
			for _, code := range br.Permissions {
				if id, ok := permByCode[code]; ok {
					want = append(want, id)
				}
			}
		}

		id, ok := roleIDs[br.Name]
		if !ok {
			role, err := rbac.CreateRole(ctx, auth.RoleInput{Name: br.Name, Description: br.Description})
			if err != nil {
				return nil, created, fmt.Errorf("seed role %s: %w", br.Name, err)
			}
			id = role.ID
			roleIDs[br.Name] = id
			created++
		}
		if _, err := rbac.SetRolePermissions(ctx, id, want); err != nil {
			return nil, created, fmt.Errorf("seed role %s permissions: %w", br.Name, err)
		}
	}
	return roleIDs, created, nil
}
