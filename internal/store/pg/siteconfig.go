package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"officeadmin.org/internal/ids"
	"officeadmin.org/internal/siteconfig"
)

const configColumns = `id, key, value, coalesce(description, ''), config_group, created_at, updated_at`

func scanConfig(row rowScanner) (siteconfig.Entry, error) {
	var e siteconfig.Entry
	err := row.Scan(&e.ID, &e.Key, &e.Value, &e.Description, &e.Group, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *Store) CreateConfig(ctx context.Context, in siteconfig.Input) (siteconfig.Entry, error) {
	if s.db == nil {
		return siteconfig.Entry{}, errNoDB
	}
	e, err := scanConfig(s.db.QueryRowContext(ctx, `
		insert into site_configs (id, key, value, description, config_group)
		values ($1, $2, $3, $4, $5)
		returning `+configColumns,
		ids.New(), in.Key, in.Value, nullIfEmpty(in.Description), groupOrDefault(in.Group)))
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return siteconfig.Entry{}, siteconfig.ErrConflict
		}
		return siteconfig.Entry{}, classify(err)
	}
	return e, nil
}

func (s *Store) ListConfigs(ctx context.Context, group string) ([]siteconfig.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		rows *sql.Rows
		err  error
	)
	if group == "" {
		rows, err = s.db.QueryContext(ctx, `select `+configColumns+` from site_configs order by key`)
	} else {
		rows, err = s.db.QueryContext(ctx, `select `+configColumns+` from site_configs where config_group = $1 order by key`, group)
	}
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := []siteconfig.Entry{}
	for rows.Next() {
		e, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *Store) GetConfigByID(ctx context.Context, id string) (siteconfig.Entry, error) {
	return s.getConfig(ctx, `select `+configColumns+` from site_configs where id = $1`, id)
}

func (s *Store) GetConfigByKey(ctx context.Context, key string) (siteconfig.Entry, error) {
	return s.getConfig(ctx, `select `+configColumns+` from site_configs where key = $1`, key)
}

func (s *Store) getConfig(ctx context.Context, query, arg string) (siteconfig.Entry, error) {
	if s.db == nil {
		return siteconfig.Entry{}, errNoDB
	}
	e, err := scanConfig(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return siteconfig.Entry{}, siteconfig.ErrNotFound
	}
	if err != nil {
		return siteconfig.Entry{}, classify(err)
	}
	return e, nil
}

func (s *Store) UpdateConfig(ctx context.Context, id string, upd siteconfig.Update) (siteconfig.Entry, error) {
	if s.db == nil {
		return siteconfig.Entry{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Value != nil {
		sets = append(sets, fmt.Sprintf("value = $%d", idx))
		args = append(args, *upd.Value)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Group != nil {
		sets = append(sets, fmt.Sprintf("config_group = $%d", idx))
		args = append(args, groupOrDefault(*upd.Group))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update site_configs set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return siteconfig.Entry{}, classify(err)
		}
		if err := requireAffected(res, siteconfig.ErrNotFound); err != nil {
			return siteconfig.Entry{}, err
		}
	}
	return s.GetConfigByID(ctx, id)
}

// UpsertConfig inserts the entry or, when the key exists, replaces only its value.
func (s *Store) UpsertConfig(ctx context.Context, in siteconfig.Input) (siteconfig.Entry, error) {
	if s.db == nil {
		return siteconfig.Entry{}, errNoDB
	}
	e, err := scanConfig(s.db.QueryRowContext(ctx, `
		insert into site_configs (id, key, value, description, config_group)
		values ($1, $2, $3, $4, $5)
		on conflict (key) do update
		set value = excluded.value, updated_at = now()
		returning `+configColumns,
		ids.New(), in.Key, in.Value, nullIfEmpty(in.Description), groupOrDefault(in.Group)))
	if err != nil {
		return siteconfig.Entry{}, classify(err)
	}
	return e, nil
}

func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from site_configs where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, siteconfig.ErrNotFound)
}

func (s *Store) ListConfigGroups(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select distinct config_group from site_configs order by config_group`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return groups, nil
}

func groupOrDefault(g string) string {
	if g = strings.TrimSpace(g); g == "" {
		return siteconfig.DefaultGroup
	}
	return g
}
