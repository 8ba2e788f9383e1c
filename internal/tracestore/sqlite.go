package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/enso/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS traces (
	request_id TEXT PRIMARY KEY,
	trace_id   TEXT NOT NULL,
	program    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	document   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_program ON traces (program, created_at);
`

// SQLiteStore is the embedded default trace store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates, if needed) the trace database at
// path. ":memory:" is accepted for tests.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracestore: open sqlite: %w", err)
	}
	// modernc's driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent completions.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save persists the trace document, replacing any prior record for
// the same request id.
func (s *SQLiteStore) Save(ctx context.Context, trace *model.Trace) error {
	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("tracestore: marshal trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO traces (request_id, trace_id, program, created_at, document)
		 VALUES (?, ?, ?, ?, ?)`,
		trace.RequestID.String(), trace.TraceID.String(), trace.Program,
		trace.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"), string(doc),
	)
	if err != nil {
		return fmt.Errorf("tracestore: insert trace: %w", err)
	}
	return nil
}

// Get loads a trace by request id.
func (s *SQLiteStore) Get(ctx context.Context, requestID uuid.UUID) (*model.Trace, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM traces WHERE request_id = ?`, requestID.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tracestore: trace %s: %w", requestID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("tracestore: get trace: %w", err)
	}
	var trace model.Trace
	if err := json.Unmarshal([]byte(doc), &trace); err != nil {
		return nil, fmt.Errorf("tracestore: unmarshal trace: %w", err)
	}
	return &trace, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
