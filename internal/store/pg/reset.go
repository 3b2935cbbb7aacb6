package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orgdir.org/internal/ids"
	"orgdir.org/internal/password"
)

// Resets returns the password reset token store.
func (s *Store) Resets() password.Store { return &resetStore{db: s.db} }

type resetStore struct {
	db *sql.DB
}

var _ password.Store = (*resetStore)(nil)

func (s *resetStore) Create(ctx context.Context, reset *password.Reset) error {
	if reset.ID == "" {
		reset.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into password_resets (id, login, token, created_at)
		values ($1, $2, $3, $4)
	`, reset.ID, reset.Login, reset.Token, reset.CreatedAt)
	return err
}

func scanReset(row *sql.Row) (*password.Reset, error) {
	var reset password.Reset
	err := row.Scan(&reset.ID, &reset.Login, &reset.Token, &reset.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

func (s *resetStore) FindByLoginAndToken(ctx context.Context, login, token string, after time.Time) (*password.Reset, error) {
	return scanReset(s.db.QueryRowContext(ctx, `
		select id, login, token, created_at
		from password_resets
		where login = $1 and token = $2 and created_at > $3
		order by created_at desc
		limit 1
	`, login, token, after))
}

func (s *resetStore) FindRecent(ctx context.Context, login string, after time.Time) (*password.Reset, error) {
	return scanReset(s.db.QueryRowContext(ctx, `
		select id, login, token, created_at
		from password_resets
		where login = $1 and created_at > $2
		order by created_at desc
		limit 1
	`, login, after))
}

func (s *resetStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from password_resets where id = $1`, id)
	return err
}

func (s *resetStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from password_resets where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
