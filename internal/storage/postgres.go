package storage

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB opens the PostgreSQL database holding this device's
// local replica. Used instead of SQLite when DATABASE_URL is set.
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rows (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		value BYTEA NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (collection, key)
	);

	CREATE INDEX IF NOT EXISTS idx_rows_updated_at ON rows(updated_at);
	`

	_, err := db.Exec(schema)
	return err
}
