package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/migrations"
)

// PostgresStore keeps traces in a shared Postgres database, for
// deployments where several instances feed one trace archive.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and applies
// any pending schema migrations.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("tracestore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tracestore: ping: %w", err)
	}
	if err := runMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tracestore: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save persists the trace document, replacing any prior record for
// the same request id.
func (s *PostgresStore) Save(ctx context.Context, trace *model.Trace) error {
	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("tracestore: marshal trace: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO traces (request_id, trace_id, program, created_at, document)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (request_id) DO UPDATE SET document = EXCLUDED.document`,
		trace.RequestID, trace.TraceID, trace.Program, trace.CreatedAt.UTC(), doc,
	)
	if err != nil {
		return fmt.Errorf("tracestore: insert trace: %w", err)
	}
	return nil
}

// Get loads a trace by request id.
func (s *PostgresStore) Get(ctx context.Context, requestID uuid.UUID) (*model.Trace, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM traces WHERE request_id = $1`, requestID,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tracestore: trace %s: %w", requestID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("tracestore: get trace: %w", err)
	}
	var trace model.Trace
	if err := json.Unmarshal(doc, &trace); err != nil {
		return nil, fmt.Errorf("tracestore: unmarshal trace: %w", err)
	}
	return &trace, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
