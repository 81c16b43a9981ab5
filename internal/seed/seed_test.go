package seed

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
	"officeadmin.org/internal/siteconfig"
	"officeadmin.org/internal/store/memory"
)

var fastParams = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

func setup(t *testing.T) (*memory.Store, *auth.RBACService, *siteconfig.Service) {
	t.Helper()
	store := memory.New()
	rbac, err := auth.NewRBACService(store, auth.NewArgon2Hasher(fastParams))
	require.NoError(t, err)
	configs, err := siteconfig.NewService(store)
	require.NoError(t, err)
	return store, rbac, configs
}

func quiet() Options {
	return Options{Logger: obs.NewLogger(io.Discard, "json", "error")}
}

func TestRunSeedsEverything(t *testing.T) {
	ctx := context.Background()
	store, rbac, configs := setup(t)

	res, err := Run(ctx, rbac, configs, quiet())
	require.NoError(t, err)
	assert.Equal(t, Result{Permissions: 21, Roles: 3, Users: 1, Configs: 6}, res)

	admin, err := store.FindUserByUsername(ctx, DefaultAdminUsername)
	require.NoError(t, err)
	ok, err := auth.NewArgon2Hasher(fastParams).Verify(admin.PasswordHash, DefaultAdminPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	identity, err := rbac.UserRolesAndPermissions(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleAdministrator}, identity.RoleNames())
	assert.Len(t, identity.Permissions, 21)

	title, err := configs.GetValue(ctx, "siteTitle", "")
	require.NoError(t, err)
	assert.Equal(t, "Office Admin", title)
	groups, err := configs.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"appearance", "general"}, groups)
}

func TestRunBuiltinRolePermissions(t *testing.T) {
	ctx := context.Background()
	_, rbac, configs := setup(t)
	_, err := Run(ctx, rbac, configs, quiet())
	require.NoError(t, err)

	roles, err := rbac.ListRoles(ctx)
	require.NoError(t, err)
	byName := map[string]string{}
	for _, r := range roles {
		byName[r.Name] = r.ID
	}

	employee, err := rbac.GetRole(ctx, byName[auth.RoleEmployee])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{auth.PermUserList, auth.PermDepartmentList}, codes(employee.Permissions))

	manager, err := rbac.GetRole(ctx, byName[auth.RoleManager])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		auth.PermUserList, auth.PermUserCreate, auth.PermUserUpdate, auth.PermDepartmentList, auth.PermRoleList,
	}, codes(manager.Permissions))
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, rbac, configs := setup(t)
	_, err := Run(ctx, rbac, configs, quiet())
	require.NoError(t, err)

	// operator edits survive a re-run
	_, err = configs.Set(ctx, "siteTitle", "ACME Office", "", "")
	require.NoError(t, err)

	res, err := Run(ctx, rbac, configs, quiet())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	title, err := configs.GetValue(ctx, "siteTitle", "")
	require.NoError(t, err)
	assert.Equal(t, "ACME Office", title)
}

func TestRunRequiresServices(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, quiet())
	assert.Error(t, err)
}

func codes(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Code)
	}
	return out
}
