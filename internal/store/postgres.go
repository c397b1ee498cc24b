package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Pool limits for the Postgres connection.
const (
	PostgresMaxOpenConns    = 10
	PostgresConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps progress, results, fire keys and jobs in PostgreSQL.
type PostgresStore struct {
	sqlBackend
}

// NewPostgresStore connects to Opts.DSN and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOptions(opts)
	b, err := openSQL("PostgresStore", "postgres", cfg.DSN, postgresMigrations, true, func(db *sql.DB) {
		db.SetMaxOpenConns(PostgresMaxOpenConns)
		db.SetMaxIdleConns(PostgresMaxOpenConns)
		db.SetConnMaxLifetime(PostgresConnMaxLifetime)
	})
	if err != nil {
		slog.Error("NewPostgresStore: failed", "error", err)
		return nil, err
	}
	return &PostgresStore{b}, nil
}

// ClaimDueJobs claims in one UPDATE ... RETURNING. SKIP LOCKED keeps two
// pollers from taking the same row.
func (s *PostgresStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.Query(
		`UPDATE jobs SET status = 'running', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM jobs WHERE status = 'queued' AND run_at <= $1
		   ORDER BY run_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs failed: %w", err)
	}
	return collectJobs(rows)
}
