package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
)

// SQLStore persists events into the events table. It owns its own database
// connection pool so the audit trail never competes with ledger
// transactions for a handle.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens a postgres connection for the store. The driver must
// already be registered by the importing program.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save inserts one event
func (s *SQLStore) Save(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO events (id, event_type, event_data, created_at)
        VALUES($1, $2, $3, $4)
    `, e.ID, e.Type, data, e.CreatedAt)
	return err
}
