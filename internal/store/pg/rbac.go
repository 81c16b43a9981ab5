package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/ids"
)

const roleColumns = `id, name, coalesce(description, ''), created_at, updated_at`

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	roles := []auth.Role{}
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return roles, nil
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	perms := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return perms, nil
}

// Roles

// CreateRole inserts the role and its permission links in one transaction.
func (s *Store) CreateRole(ctx context.Context, in auth.NewRole) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var r auth.Role
	err = tx.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning `+roleColumns,
		ids.New(), in.Name, nullIfEmpty(in.Description)).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.Role{}, fmt.Errorf("%w: role %q already exists", auth.ErrConflict, in.Name)
		}
		return auth.Role{}, classify(err)
	}
	if err := insertRolePermissions(ctx, tx, r.ID, in.PermissionIDs); err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, classify(err)
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *Store) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, roleID).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, classify(err)
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockRow(ctx, tx, `select 1 from roles where id = $1 for update`, roleID); err != nil {
		return auth.Role{}, err
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isPgCode(err, pgErrUniqueViolation) {
				return auth.Role{}, fmt.Errorf("%w: role name already exists", auth.ErrConflict)
			}
			return auth.Role{}, classify(err)
		}
	}
	if upd.PermissionIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return auth.Role{}, classify(err)
		}
		if err := insertRolePermissions(ctx, tx, roleID, upd.PermissionIDs); err != nil {
			return auth.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, classify(err)
	}
	return s.GetRole(ctx, roleID)
}

// DeleteRole fails with ErrConflict while any user holds the role (user_roles restricts
// the delete). Permission links cascade.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return fmt.Errorf("%w: role is still assigned to users", auth.ErrConflict)
		}
		return classify(err)
	}
	return requireAffected(res, auth.ErrNotFound)
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.linkRolePermissions(ctx, roleID, permissionIDs, true)
}

func (s *Store) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.linkRolePermissions(ctx, roleID, permissionIDs, false)
}

func (s *Store) linkRolePermissions(ctx context.Context, roleID string, permissionIDs []string, replace bool) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockRow(ctx, tx, `select 1 from roles where id = $1 for update`, roleID); err != nil {
		return err
	}
	if replace {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return classify(err)
		}
	}
	if err := insertRolePermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string) error {
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			if isPgCode(err, pgErrForeignKeyViolation) {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, permID)
			}
			return classify(err)
		}
	}
	return nil
}

// Permissions

func (s *Store) CreatePermission(ctx context.Context, name, code string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, code)
		values ($1, $2, $3)
		returning id, name, code, created_at
	`, ids.New(), name, code).Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.Permission{}, fmt.Errorf("%w: permission name %q or code %q already exists", auth.ErrConflict, name, code)
		}
		return auth.Permission{}, classify(err)
	}
	return p, nil
}

// CreatePermissions inserts the batch in one transaction, skipping rows whose name or
// code already exists.
func (s *Store) CreatePermissions(ctx context.Context, batch []auth.PermissionInput) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, in := range batch {
		res, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, code)
			values ($1, $2, $3)
			on conflict do nothing
		`, ids.New(), in.Name, in.Code)
		if err != nil {
			return 0, classify(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		created += int(aff)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return created, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select id, name, code, created_at from permissions order by code`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `select id, name, code, created_at from permissions where id = $1`, permissionID).
		Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, classify(err)
	}
	return p, nil
}

func (s *Store) UpdatePermission(ctx context.Context, permissionID string, upd auth.PermissionUpdate) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Code != nil {
		sets = append(sets, fmt.Sprintf("code = $%d", idx))
		args = append(args, *upd.Code)
		idx++
	}
	if len(sets) > 0 {
		query := fmt.Sprintf(`update permissions set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, permissionID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isPgCode(err, pgErrUniqueViolation) {
				return auth.Permission{}, fmt.Errorf("%w: permission name or code already exists", auth.ErrConflict)
			}
			return auth.Permission{}, classify(err)
		}
		if err := requireAffected(res, auth.ErrNotFound); err != nil {
			return auth.Permission{}, err
		}
	}
	return s.GetPermission(ctx, permissionID)
}

// DeletePermission removes the permission; role links cascade.
func (s *Store) DeletePermission(ctx context.Context, permissionID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, permissionID)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, auth.ErrNotFound)
}

// User roles

func (s *Store) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	return s.linkUserRoles(ctx, userID, roleIDs, true)
}

func (s *Store) AddUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	return s.linkUserRoles(ctx, userID, roleIDs, false)
}

func (s *Store) linkUserRoles(ctx context.Context, userID string, roleIDs []string, replace bool) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockRow(ctx, tx, `select 1 from users where id = $1 for update`, userID); err != nil {
		return err
	}
	if replace {
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
			return classify(err)
		}
	}
	if err := insertUserRoles(ctx, tx, userID, roleIDs); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func insertUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, userID, roleID); err != nil {
			if isPgCode(err, pgErrForeignKeyViolation) {
				return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
			}
			return classify(err)
		}
	}
	return nil
}

func lockRow(ctx context.Context, tx *sql.Tx, query, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return classify(err)
}
