package pg

import (
	"context"
	"database/sql"

	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
)

// Delegates returns the read-only grant store.
func (s *Store) Delegates() delegation.Store { return &delegateStore{db: s.db} }

type delegateStore struct {
	db *sql.DB
}

var _ delegation.Store = (*delegateStore)(nil)

func scanDelegates(rows *sql.Rows) ([]delegation.Delegate, error) {
	defer rows.Close()
	var result []delegation.Delegate
	for rows.Next() {
		var (
			d            delegation.Delegate
			receiverType string
			typ          string
		)
		if err := rows.Scan(&d.ID, &d.ReceiverID, &receiverType, &typ, &d.DN, &d.CanWrite, &d.CanAdmin); err != nil {
			return nil, err
		}
		d.ReceiverType = delegation.ReceiverType(receiverType)
		d.Type = directory.ContainerType(typ)
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *delegateStore) FindByReceivers(ctx context.Context, receivers []string) ([]delegation.Delegate, error) {
	if len(receivers) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, receiver, receiver_type, type, dn, can_write, can_admin
		from delegates
		where receiver = any($1)
		order by id
	`, receivers)
	if err != nil {
		return nil, err
	}
	return scanDelegates(rows)
}

func (s *delegateStore) FindAll(ctx context.Context) ([]delegation.Delegate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, receiver, receiver_type, type, dn, can_write, can_admin
		from delegates
		order by id
	`)
	if err != nil {
		return nil, err
	}
	return scanDelegates(rows)
}
