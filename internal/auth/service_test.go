package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/store/memory"
)

var fastParams = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

// flakyStore simulates credential store outages.
type flakyStore struct {
	*memory.Store
	mu          sync.Mutex
	down        bool
	loginWrites bool
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyStore) failLoginWrites(v bool) {
	f.mu.Lock()
	f.loginWrites = v
	f.mu.Unlock()
}

func (f *flakyStore) FindUserByID(ctx context.Context, userID string) (auth.User, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return auth.User{}, auth.ErrUnavailable
	}
	return f.Store.FindUserByID(ctx, userID)
}

func (f *flakyStore) RecordLogin(ctx context.Context, userID string, at time.Time, origin string) (int64, error) {
	f.mu.Lock()
	fail := f.loginWrites
	f.mu.Unlock()
	if fail {
		return 0, auth.ErrUnavailable
	}
	return f.Store.RecordLogin(ctx, userID, at, origin)
}

type fixture struct {
	store    *flakyStore
	codec    *auth.Codec
	sessions *auth.SessionAuthority
	engine   *auth.Engine
	gate     *auth.Gate
	rbac     *auth.RBACService

	alice auth.User // holds Manager
	carol auth.User // no roles
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	hasher := auth.NewArgon2Hasher(fastParams)

	codec, err := auth.NewCodec([]byte("session-test-secret"), auth.WithTokenTTL(time.Hour))
	mustNoErr(t, err)
	sessions, err := auth.NewSessionAuthority(store, codec, hasher)
	mustNoErr(t, err)
	engine, err := auth.NewEngine(store)
	mustNoErr(t, err)
	gate, err := auth.NewGate(codec, sessions, engine)
	mustNoErr(t, err)
	rbac, err := auth.NewRBACService(store, hasher)
	mustNoErr(t, err)

	_, err = rbac.CreatePermissions(ctx, auth.BuiltinPermissions)
	mustNoErr(t, err)
	manager, err := rbac.CreateRole(ctx, auth.RoleInput{
		Name:          auth.RoleManager,
		PermissionIDs: permIDs(t, rbac, auth.PermUserList, auth.PermUserCreate),
	})
	mustNoErr(t, err)

	alice, err := rbac.CreateUser(ctx, auth.UserInput{Username: "alice", Password: "alice-pw", RoleIDs: []string{manager.ID}})
	mustNoErr(t, err)
	carol, err := rbac.CreateUser(ctx, auth.UserInput{Username: "carol", Password: "carol-pw"})
	mustNoErr(t, err)

	return &fixture{
		store: store, codec: codec, sessions: sessions, engine: engine, gate: gate, rbac: rbac,
		alice: alice, carol: carol,
	}
}

func permIDs(t *testing.T, rbac *auth.RBACService, codes ...string) []string {
	t.Helper()
	perms, err := rbac.ListPermissions(context.Background())
	mustNoErr(t, err)
	byCode := make(map[string]string, len(perms))
	for _, p := range perms {
		byCode[p.Code] = p.ID
	}
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		id, ok := byCode[code]
		if !ok {
			t.Fatalf("permission %s not seeded", code)
		}
		out = append(out, id)
	}
	return out
}

func (f *fixture) login(t *testing.T, username, password string) auth.LoginResult {
	t.Helper()
	res, err := f.sessions.Login(context.Background(), username, password, "10.1.2.3")
	mustNoErr(t, err)
	return res
}

func TestLoginIssuesVersionedToken(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, "alice", "alice-pw")

	claims, err := f.codec.Verify(res.Token)
	mustNoErr(t, err)
	if claims.Subject != f.alice.ID || claims.TokenVersion != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != auth.RoleManager {
		t.Fatalf("unexpected role snapshot: %v", claims.Roles)
	}
	if len(res.User.Roles) != 1 || res.User.Roles[0] != auth.RoleManager {
		t.Fatalf("unexpected summary roles: %v", res.User.Roles)
	}

	info, err := f.sessions.LoginInfo(context.Background(), f.alice.ID)
	mustNoErr(t, err)
	if info.LastLoginAt == nil || info.LastLoginIP != "10.1.2.3" {
		t.Fatalf("login metadata not recorded: %+v", info)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, unknown := f.sessions.Login(ctx, "nobody", "whatever", "")
	_, wrong := f.sessions.Login(ctx, "alice", "not-it", "")
	_, empty := f.sessions.Login(ctx, "  ", "", "")

	for _, err := range []error{unknown, wrong, empty} {
		wantErr(t, err, auth.ErrInvalidCredentials)
		if err.Error() != unknown.Error() {
			t.Fatalf("failure messages differ: %q vs %q", err, unknown)
		}
	}

	user, err := f.store.FindUserByID(ctx, f.alice.ID)
	mustNoErr(t, err)
	if user.TokenVersion != 0 {
		t.Fatalf("failed logins must not bump the version, got %d", user.TokenVersion)
	}
}

func TestFailedLoginWriteKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	live := f.login(t, "alice", "alice-pw")

	f.store.failLoginWrites(true)
	_, err := f.sessions.Login(ctx, "alice", "alice-pw", "10.9.9.9")
	wantErr(t, err, auth.ErrUnavailable)

	if _, err := f.gate.Check(ctx, live.Token, auth.Authenticated); err != nil {
		t.Fatalf("existing session should survive a failed login write: %v", err)
	}
	info, err := f.sessions.LoginInfo(ctx, f.alice.ID)
	mustNoErr(t, err)
	if info.LastLoginIP != "10.1.2.3" {
		t.Fatalf("login metadata changed: %+v", info)
	}
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.login(t, "alice", "alice-pw")
	second := f.login(t, "alice", "alice-pw")

	_, err := f.gate.Check(ctx, first.Token, auth.Authenticated)
	wantErr(t, err, auth.ErrSessionSuperseded)

	identity, err := f.gate.Check(ctx, second.Token, auth.Authenticated)
	mustNoErr(t, err)
	if identity.UserID != f.alice.ID {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestForceLogoutAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.login(t, "alice", "alice-pw")
	mustNoErr(t, f.sessions.ForceLogout(ctx, f.alice.ID))
	_, err := f.gate.Check(ctx, res.Token, auth.Authenticated)
	wantErr(t, err, auth.ErrSessionSuperseded)

	res = f.login(t, "alice", "alice-pw")
	mustNoErr(t, f.sessions.Logout(ctx, f.alice.ID))
	_, err = f.gate.Check(ctx, res.Token, auth.Authenticated)
	wantErr(t, err, auth.ErrSessionSuperseded)

	wantErr(t, f.sessions.ForceLogout(ctx, "missing"), auth.ErrNotFound)
	wantErr(t, f.sessions.ForceLogout(ctx, " "), auth.ErrInvalidInput)
}

func TestValidateVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "carol", "carol-pw")

	cases := []struct {
		user    string
		version int64
		want    bool
	}{
		{f.carol.ID, 1, true},
		{f.carol.ID, 0, false},
		{f.carol.ID, 2, false},
		{"ghost", 1, false},
	}
	for _, tc := range cases {
		ok, err := f.sessions.ValidateVersion(ctx, tc.user, tc.version)
		mustNoErr(t, err)
		if ok != tc.want {
			t.Fatalf("ValidateVersion(%s, %d) = %v, want %v", tc.user, tc.version, ok, tc.want)
		}
	}

	f.store.setDown(true)
	_, err := f.sessions.ValidateVersion(ctx, f.carol.ID, 1)
	wantErr(t, err, auth.ErrUnavailable)
}

func TestConcurrentLoginsLeaveOneLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.sessions.Login(ctx, "carol", "carol-pw", "")
			if err == nil {
				tokens[i] = res.Token
			}
		}(i)
	}
	wg.Wait()

	live := 0
	for _, token := range tokens {
		if token == "" {
			t.Fatal("a concurrent login failed")
		}
		if _, err := f.gate.Check(ctx, token, auth.Authenticated); err == nil {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live session, got %d", live)
	}
}

func TestGatePipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.login(t, "alice", "alice-pw").Token
	carol := f.login(t, "carol", "carol-pw").Token

	cases := []struct {
		name   string
		token  string
		policy auth.Policy
		want   error
	}{
		{"public ignores token", "garbage", auth.Public, nil},
		{"missing token", "", auth.Authenticated, auth.ErrMissingToken},
		{"bad token", "garbage", auth.Authenticated, auth.ErrBadToken},
		{"session only", carol, auth.Authenticated, nil},
		{"permission held", alice, auth.RequirePermissions(auth.PermUserList), nil},
		{"any of permissions", alice, auth.RequirePermissions(auth.PermUserDelete, auth.PermUserCreate), nil},
		{"permission missing", alice, auth.RequirePermissions(auth.PermUserDelete), auth.ErrForbidden},
		{"no roles no permissions", carol, auth.RequirePermissions(auth.PermUserList), auth.ErrForbidden},
		{"role held", alice, auth.RequireRoles(auth.RoleAdministrator, auth.RoleManager), nil},
		{"role missing", carol, auth.RequireRoles(auth.RoleManager), auth.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gate.Check(ctx, tc.token, tc.policy)
			if tc.want == nil {
				mustNoErr(t, err)
				return
			}
			wantErr(t, err, tc.want)
		})
	}
}

func TestGateSeesRoleChangesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.login(t, "alice", "alice-pw").Token
	policy := auth.RequirePermissions(auth.PermUserCreate)

	_, err := f.gate.Check(ctx, token, policy)
	mustNoErr(t, err)

	_, err = f.rbac.SetUserRoles(ctx, f.alice.ID, nil)
	mustNoErr(t, err)
	_, err = f.gate.Check(ctx, token, policy)
	wantErr(t, err, auth.ErrForbidden)

	// the token still carries the stale role claim; only the live session matters
	_, err = f.gate.Check(ctx, token, auth.Authenticated)
	mustNoErr(t, err)
}

func TestGateExpiredAndDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past, err := auth.NewCodec([]byte("session-test-secret"), auth.WithClock(func() time.Time {
		return time.Now().Add(-3 * time.Hour)
	}))
	mustNoErr(t, err)
	claims := auth.Claims{Username: "carol"}
	claims.Subject = f.carol.ID
	stale, _, err := past.Issue(claims, time.Hour)
	mustNoErr(t, err)
	_, err = f.gate.Check(ctx, stale, auth.Authenticated)
	wantErr(t, err, auth.ErrSessionExpired)

	token := f.login(t, "carol", "carol-pw").Token
	mustNoErr(t, f.rbac.DeleteUser(ctx, f.carol.ID))
	_, err = f.gate.Check(ctx, token, auth.Authenticated)
	wantErr(t, err, auth.ErrUnauthenticated)
}

func TestGateStoreOutageIsNotARejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.login(t, "alice", "alice-pw").Token

	f.store.setDown(true)
	_, err := f.gate.Check(ctx, token, auth.RequirePermissions(auth.PermUserList))
	wantErr(t, err, auth.ErrUnavailable)
	if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("outage reported as a rejection: %v", err)
	}
}

func TestEngineResolveAndAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	identity, err := f.engine.ResolveUser(ctx, f.alice.ID)
	mustNoErr(t, err)
	if !identity.HasPermission(auth.PermUserList) || !identity.HasPermission(auth.PermUserCreate) || len(identity.Permissions) != 2 {
		t.Fatalf("unexpected permissions: %v", identity.PermissionCodes())
	}

	empty, err := f.engine.ResolveUser(ctx, f.carol.ID)
	mustNoErr(t, err)
	if empty.Roles == nil || len(empty.Permissions) != 0 {
		t.Fatalf("role-less user should resolve to empty sets: %+v", empty)
	}

	ok, err := f.engine.HasPermission(ctx, f.alice.ID, " user:list ")
	mustNoErr(t, err)
	if !ok {
		t.Fatal("expected user:list")
	}
	ok, err = f.engine.HasRole(ctx, f.carol.ID, auth.RoleManager)
	mustNoErr(t, err)
	if ok {
		t.Fatal("carol holds no roles")
	}

	d, err := f.engine.Authorize(ctx, "ghost", []string{auth.PermUserList})
	mustNoErr(t, err)
	if d.Reason != auth.DenyUnauthenticated {
		t.Fatalf("unknown user: %+v", d)
	}
	d, err = f.engine.Authorize(ctx, "", nil)
	mustNoErr(t, err)
	if !d.Allowed {
		t.Fatal("empty requirement must allow")
	}
	d, err = f.engine.Authorize(ctx, f.carol.ID, []string{auth.PermUserList})
	mustNoErr(t, err)
	if d.Reason != auth.DenyForbidden {
		t.Fatalf("role-less user: %+v", d)
	}
}

func TestEngineUnionsOverlappingRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewer, err := f.rbac.CreateRole(ctx, auth.RoleInput{Name: "Viewer", PermissionIDs: permIDs(t, f.rbac, auth.PermUserList)})
	mustNoErr(t, err)
	_, err = f.rbac.AddUserRoles(ctx, f.alice.ID, []string{viewer.ID})
	mustNoErr(t, err)

	identity, err := f.engine.ResolveUser(ctx, f.alice.ID)
	mustNoErr(t, err)
	if len(identity.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %v", identity.RoleNames())
	}
	if len(identity.Permissions) != 2 {
		t.Fatalf("shared permissions are counted once, got %v", identity.PermissionCodes())
	}
}
