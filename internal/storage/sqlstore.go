package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncslides/core/internal/syncerr"
)

// SQLStore is a Store backed by a local SQL database (SQLite by
// default, PostgreSQL when configured). It holds this device's replica
// of the row set; the external sync transport pushes remote changes in
// through ApplyRemote and reads local ones out through ChangedSince.
type SQLStore struct {
	db       *sql.DB
	notifier *notifier
}

// NewSQLStore wraps an open database from NewSQLiteDB or NewPostgresDB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, notifier: newNotifier()}
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	query := `SELECT value FROM rows WHERE collection = $1 AND key = $2`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, syncerr.NotFound(collection, key)
	}
	if err != nil {
		return nil, syncerr.Connectivity("get", err)
	}
	return value, nil
}

// List implements Store. Prefix matching uses substr so keys with LIKE
// metacharacters need no escaping.
func (s *SQLStore) List(ctx context.Context, collection, keyPrefix string) ([]Row, error) {
	query := `SELECT key, value, updated_at FROM rows
		WHERE collection = $1 AND substr(key, 1, length($2)) = $2
		ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, collection, keyPrefix)
	if err != nil {
		return nil, syncerr.Connectivity("list", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{Collection: collection}
		if err := rows.Scan(&r.Key, &r.Value, &r.UpdatedAt); err != nil {
			return nil, syncerr.Connectivity("list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Connectivity("list", err)
	}
	return out, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, collection, key string, value []byte) error {
	query := `INSERT INTO rows (collection, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, collection, key, value, time.Now().UTC()); err != nil {
		return syncerr.Connectivity("put", err)
	}
	s.notifier.publish(Event{Collection: collection, Key: key, Value: value})
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM rows WHERE collection = $1 AND key = $2`

	if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
		return syncerr.Connectivity("delete", err)
	}
	s.notifier.publish(Event{Collection: collection, Key: key, Deleted: true})
	return nil
}

// Watch implements Store.
func (s *SQLStore) Watch(ctx context.Context, collection, keyPrefix string) (*Subscription, error) {
	return s.notifier.subscribe(ctx, collection, keyPrefix), nil
}

// ApplyRemote folds rows received from the sync transport into the
// local replica, last writer wins by updated_at, and notifies local
// watchers of the rows that actually changed.
func (s *SQLStore) ApplyRemote(ctx context.Context, remote []Row) error {
	upsert := `INSERT INTO rows (collection, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
		WHERE rows.updated_at < EXCLUDED.updated_at`

	for _, r := range remote {
		res, err := s.db.ExecContext(ctx, upsert, r.Collection, r.Key, r.Value, r.UpdatedAt)
		if err != nil {
			return syncerr.Connectivity("apply remote", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return syncerr.Connectivity("apply remote", err)
		}
		if n > 0 {
			s.notifier.publish(Event{Collection: r.Collection, Key: r.Key, Value: r.Value})
		}
	}
	return nil
}

// ChangedSince returns rows updated after t, for the sync transport to
// ship to peers.
func (s *SQLStore) ChangedSince(ctx context.Context, t time.Time) ([]Row, error) {
	query := `SELECT collection, key, value, updated_at FROM rows
		WHERE updated_at > $1 ORDER BY updated_at`

	rows, err := s.db.QueryContext(ctx, query, t)
	if err != nil {
		return nil, syncerr.Connectivity("changed since", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Collection, &r.Key, &r.Value, &r.UpdatedAt); err != nil {
			return nil, syncerr.Connectivity("changed since", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Connectivity("changed since", err)
	}
	return out, nil
}

// Close stops every watch subscription and closes the database.
func (s *SQLStore) Close() error {
	s.notifier.closeAll()
	return s.db.Close()
}
