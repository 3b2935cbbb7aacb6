package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"orgdir.org/internal/container"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/ids"
	"orgdir.org/internal/validation"
)

const pgErrUniqueViolation = "23505"

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Scopes returns the ContainerScope store.
func (s *Store) Scopes() container.ScopeStore { return &scopeStore{db: s.db} }

type scopeStore struct {
	db *sql.DB
}

var _ container.ScopeStore = (*scopeStore)(nil)

func (s *scopeStore) Create(ctx context.Context, scope *container.Scope) error {
	if scope.ID == "" {
		scope.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into container_scopes (id, name, dn, type, locked)
		values ($1, $2, $3, $4, $5)
	`, scope.ID, scope.Name, scope.DN, string(scope.Type), scope.Locked)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return validation.New("name", validation.ReasonAlreadyExist)
		}
		return err
	}
	return nil
}

func (s *scopeStore) scanOne(row *sql.Row) (*container.Scope, error) {
	var (
		scope container.Scope
		typ   string
	)
	err := row.Scan(&scope.ID, &scope.Name, &scope.DN, &typ, &scope.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	scope.Type = directory.ContainerType(typ)
	return &scope, nil
}

func (s *scopeStore) FindByID(ctx context.Context, id string) (*container.Scope, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, name, dn, type, locked from container_scopes where id = $1
	`, id))
}

func (s *scopeStore) FindByName(ctx context.Context, name string) (*container.Scope, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, name, dn, type, locked from container_scopes where name = $1
	`, name))
}

func (s *scopeStore) list(ctx context.Context, query string, args ...any) ([]*container.Scope, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*container.Scope
	for rows.Next() {
		var (
			scope container.Scope
			typ   string
		)
		if err := rows.Scan(&scope.ID, &scope.Name, &scope.DN, &typ, &scope.Locked); err != nil {
			return nil, err
		}
		scope.Type = directory.ContainerType(typ)
		result = append(result, &scope)
	}
	return result, rows.Err()
}

// FindByType lists scopes of one type, deepest DN first.
func (s *scopeStore) FindByType(ctx context.Context, typ directory.ContainerType) ([]*container.Scope, error) {
	return s.list(ctx, `
		select id, name, dn, type, locked
		from container_scopes
		where type = $1
		order by length(dn) desc, name
	`, string(typ))
}

func (s *scopeStore) FindAll(ctx context.Context) ([]*container.Scope, error) {
	return s.list(ctx, `
		select id, name, dn, type, locked
		from container_scopes
		order by type, name desc
	`)
}

func (s *scopeStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from container_scopes where id = $1`, id)
	return err
}
