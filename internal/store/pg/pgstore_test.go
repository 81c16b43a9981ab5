package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/siteconfig"
)

var userCols = []string{"id", "username", "password_hash", "display_name", "email", "phone",
	"token_version", "last_login_at", "last_login_ip", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return FromDB(db), mock
}

func q(fragment string) string { return regexp.QuoteMeta(fragment) }

func TestIncrementTokenVersion(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("update users set token_version = token_version + 1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(int64(4)))

	v, err := store.IncrementTokenVersion(context.Background(), "u1")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if v != 4 {
		t.Fatalf("expected version 4, got %d", v)
	}
}

func TestIncrementTokenVersionUnknownUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("update users set token_version")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}))

	if _, err := store.IncrementTokenVersion(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindUserByUsername(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("from users where username = $1")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "alice", "$argon2id$hash", "Alice", "", "", int64(2), now, "10.0.0.1", now, now))

	u, err := store.FindUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.ID != "u1" || u.TokenVersion != 2 || u.LastLoginIP != "10.0.0.1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.LastLoginAt == nil || !u.LastLoginAt.Equal(now) {
		t.Fatalf("unexpected last login: %v", u.LastLoginAt)
	}
}

func TestFindUserByIDMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("from users where id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(userCols))

	if _, err := store.FindUserByID(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordLoginBumpsVersionAndMetadata(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("set token_version = token_version + 1, last_login_at = $1, last_login_ip = $2")).
		WithArgs(at, "10.0.0.9", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(int64(7)))

	v, err := store.RecordLogin(context.Background(), "u1", at, "10.0.0.9")
	if err != nil {
		t.Fatalf("record login: %v", err)
	}
	if v != 7 {
		t.Fatalf("expected version 7, got %d", v)
	}
}

func TestRecordLoginUnknownUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("set token_version = token_version + 1")).
		WithArgs(sqlmock.AnyArg(), "10.0.0.9", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}))

	_, err := store.RecordLogin(context.Background(), "ghost", time.Now(), "10.0.0.9")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserWithUnknownRoleRollsBack(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(q("insert into users")).
		WithArgs(sqlmock.AnyArg(), "dave", "hash", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u9", "dave", "hash", "", "", "", int64(0), nil, "", now, now))
	mock.ExpectExec(q("insert into user_roles")).
		WithArgs("u9", "no-such-role").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), auth.NewUser{
		Username:     "dave",
		PasswordHash: "hash",
		RoleIDs:      []string{"no-such-role"},
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRoleWithPermissionsCommitsOnce(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(q("insert into roles")).
		WithArgs(sqlmock.AnyArg(), "Auditor", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow("r9", "Auditor", "", now, now))
	mock.ExpectExec(q("insert into role_permissions")).
		WithArgs("r9", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r, err := store.CreateRole(context.Background(), auth.NewRole{Name: "Auditor", PermissionIDs: []string{"p1"}})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if r.ID != "r9" {
		t.Fatalf("unexpected role %+v", r)
	}
}

func TestCreateRoleWithUnknownPermissionRollsBack(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(q("insert into roles")).
		WithArgs(sqlmock.AnyArg(), "Auditor", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow("r9", "Auditor", "", now, now))
	mock.ExpectExec(q("insert into role_permissions")).
		WithArgs("r9", "no-such-perm").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	_, err := store.CreateRole(context.Background(), auth.NewRole{Name: "Auditor", PermissionIDs: []string{"no-such-perm"}})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoleRenameAndRelinkRollBackTogether(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select 1 from roles where id = $1 for update")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectExec(q("update roles set name = $1, updated_at = now() where id = $2")).
		WithArgs("Renamed", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("delete from role_permissions where role_id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("insert into role_permissions")).
		WithArgs("r1", "no-such-perm").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	name := "Renamed"
	_, err := store.UpdateRole(context.Background(), "r1", auth.RoleUpdate{Name: &name, PermissionIDs: []string{"no-such-perm"}})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoleUnknownRole(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select 1 from roles where id = $1 for update")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	desc := "x"
	if _, err := store.UpdateRole(context.Background(), "ghost", auth.RoleUpdate{Description: &desc}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("insert into users")).
		WithArgs(sqlmock.AnyArg(), "alice", "hash", nil, nil, nil).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), auth.NewUser{Username: "alice", PasswordHash: "hash"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListPermissionsForRolesExpandsPlaceholders(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(q("where rp.role_id in ($1, $2)")).
		WithArgs("r1", "r2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "created_at"}).
			AddRow("p1", "List users", "user:list", now))

	perms, err := store.ListPermissionsForRoles(context.Background(), []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 1 || perms[0].Code != "user:list" {
		t.Fatalf("unexpected permissions: %+v", perms)
	}
}

func TestListPermissionsForNoRolesSkipsQuery(t *testing.T) {
	store, _ := newMock(t)
	perms, err := store.ListPermissionsForRoles(context.Background(), nil)
	if err != nil || len(perms) != 0 {
		t.Fatalf("expected empty result, got %v %v", perms, err)
	}
}

func TestDeleteRoleStillAssigned(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("delete from roles where id = $1")).
		WithArgs("r1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := store.DeleteRole(context.Background(), "r1"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSetRolePermissionsReplaces(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select 1 from roles where id = $1 for update")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectExec(q("delete from role_permissions where role_id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("insert into role_permissions")).
		WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("insert into role_permissions")).
		WithArgs("r1", "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetRolePermissions(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestSetUserRolesUnknownRole(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select 1 from users where id = $1 for update")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectExec(q("delete from user_roles where user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("insert into user_roles")).
		WithArgs("u1", "missing").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.SetUserRoles(context.Background(), "u1", []string{"missing"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddUserRolesUnknownUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select 1 from users where id = $1 for update")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	if err := store.AddUserRoles(context.Background(), "ghost", []string{"r1"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePermissionsCountsInserted(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("insert into permissions")).
		WithArgs(sqlmock.AnyArg(), "List users", "user:list").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("insert into permissions")).
		WithArgs(sqlmock.AnyArg(), "Create users", "user:create").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := store.CreatePermissions(context.Background(), []auth.PermissionInput{
		{Name: "List users", Code: "user:list"},
		{Name: "Create users", Code: "user:create"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 created, got %d", n)
	}
}

func TestUpsertConfig(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(q("on conflict (key) do update")).
		WithArgs(sqlmock.AnyArg(), "siteTitle", "ACME", nil, "general").
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "value", "description", "config_group", "created_at", "updated_at"}).
			AddRow("c1", "siteTitle", "ACME", "Site title", "general", now, now))

	e, err := store.UpsertConfig(context.Background(), siteconfig.Input{Key: "siteTitle", Value: "ACME"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if e.Description != "Site title" || e.Value != "ACME" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestCreateConfigConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("insert into site_configs")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateConfig(context.Background(), siteconfig.Input{Key: "siteTitle"})
	if !errors.Is(err, siteconfig.ErrConflict) || !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConnectionFailuresAreUnavailable(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("from users where id = $1")).
		WithArgs("u1").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	if _, err := store.FindUserByID(context.Background(), "u1"); !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	var nilStore Store
	if _, err := nilStore.IncrementTokenVersion(context.Background(), "u1"); !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing db, got %v", err)
	}
}

func TestClassifyLeavesQueryErrors(t *testing.T) {
	if err := classify(driver.ErrBadConn); !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("bad conn should be unavailable, got %v", err)
	}
	pgErr := &pgconn.PgError{Code: "42601"}
	if err := classify(pgErr); errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("syntax errors must not be unavailable")
	}
	if classify(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
