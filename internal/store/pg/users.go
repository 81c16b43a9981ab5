package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/ids"
)

const userColumns = `id, username, password_hash, coalesce(display_name, ''), coalesce(email, ''),
	coalesce(phone, ''), token_version, last_login_at, coalesce(last_login_ip, ''), created_at, updated_at`

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Email, &u.Phone,
		&u.TokenVersion, &lastLogin, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, classify(err)
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, classify(err)
}

// IncrementTokenVersion bumps the version in a single statement so concurrent logins each
// observe a distinct value.
func (s *Store) IncrementTokenVersion(ctx context.Context, userID string) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var version int64
	err := s.db.QueryRowContext(ctx, `
		update users set token_version = token_version + 1, updated_at = now()
		where id = $1
		returning token_version
	`, userID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	if err != nil {
		return 0, classify(err)
	}
	return version, nil
}

// RecordLogin bumps the version and writes the login metadata in the same statement.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time, origin string) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var version int64
	err := s.db.QueryRowContext(ctx, `
		update users
		set token_version = token_version + 1, last_login_at = $1, last_login_ip = $2, updated_at = now()
		where id = $3
		returning token_version
	`, at.UTC(), nullIfEmpty(origin), userID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	if err != nil {
		return 0, classify(err)
	}
	return version, nil
}

func (s *Store) ListRolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *Store) ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(roleIDs) == 0 {
		return []auth.Permission{}, nil
	}
	query := fmt.Sprintf(`
		select distinct p.id, p.name, p.code, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id in (%s)
		order by p.code
	`, placeholders(1, len(roleIDs)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(roleIDs)...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) CreateUser(ctx context.Context, in auth.NewUser) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx, `
		insert into users (id, username, password_hash, display_name, email, phone)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		ids.New(), in.Username, in.PasswordHash, nullIfEmpty(in.DisplayName), nullIfEmpty(in.Email), nullIfEmpty(in.Phone)))
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.User{}, fmt.Errorf("%w: username %q is taken", auth.ErrConflict, in.Username)
		}
		return auth.User{}, classify(err)
	}
	if err := insertUserRoles(ctx, tx, u.ID, in.RoleIDs); err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, classify(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by username`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd auth.UserUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.DisplayName != nil {
		add("display_name", nullIfEmpty(*upd.DisplayName))
	}
	if upd.Email != nil {
		add("email", nullIfEmpty(*upd.Email))
	}
	if upd.Phone != nil {
		add("phone", nullIfEmpty(*upd.Phone))
	}
	if upd.Password != nil {
		add("password_hash", *upd.Password)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, userID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.User{}, classify(err)
		}
		if err := requireAffected(res, auth.ErrNotFound); err != nil {
			return auth.User{}, err
		}
	}
	return s.FindUserByID(ctx, userID)
}

// DeleteUser removes the user; role assignments cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, userID)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, auth.ErrNotFound)
}
