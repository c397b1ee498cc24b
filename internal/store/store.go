// Package store provides persistence backends for AskFlow.
//
// It persists the long-lived records of the system: per-user progress, the
// completed-flow results log, scheduler fire claims and durable jobs. In-flight
// sessions are deliberately not stored here; they live in memory in package flow.
package store

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// ProgressRepo stores, per user, the ordered set of question texts already
// answered in CONTINUING flows.
type ProgressRepo interface {
	// RegisterUser records a user with an empty progress record if none exists.
	RegisterUser(userID string) error

	// GetProgress returns the user's answered question texts in insertion order.
	GetProgress(userID string) ([]string, error)

	// AppendProgress adds texts not already present to the user's record as a
	// single atomic read-modify-write.
	AppendProgress(userID string, texts []string) error

	// ListUsers returns every user with a progress record, sorted.
	ListUsers() ([]string, error)
}

// ResultRepo is the append-only log of completed flows.
type ResultRepo interface {
	AppendResult(r models.FlowResult) error

	// ListResults returns results for userID in append order; an empty userID
	// returns every result.
	ListResults(userID string) ([]models.FlowResult, error)
}

// FireRepo records idempotency keys for recurring triggers.
type FireRepo interface {
	// ClaimFire returns true exactly once per key; later calls return false.
	ClaimFire(key string) (bool, error)
}

// Store bundles every repository a running AskFlow instance needs.
type Store interface {
	ProgressRepo
	ResultRepo
	FireRepo
	JobRepo
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN     string // SQLite path or Postgres connection string
	FileDir string // directory for the JSON file backend
}

// Option defines a configuration option for the store.
type Option func(*Opts)

func applyOptions(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithFileDir selects the JSON file backend rooted at dir.
func WithFileDir(dir string) Option {
	return func(o *Opts) { o.FileDir = dir }
}

// DetectDSNType returns "postgres" for Postgres URLs or key=value connection
// strings and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") ||
		(strings.Contains(lower, "user=") && strings.Contains(lower, " ")) {
		return "postgres"
	}
	return "sqlite3"
}

// Open builds the backend selected by opts: a database when a DSN is given,
// the JSON file store when only a directory is given, memory otherwise.
func Open(opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	switch {
	case cfg.DSN != "" && DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("store.Open: using Postgres backend")
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	case cfg.DSN != "":
		slog.Debug("store.Open: using SQLite backend", "path", cfg.DSN)
		return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
	case cfg.FileDir != "":
		slog.Debug("store.Open: using file backend", "dir", cfg.FileDir)
		return NewFileStore(cfg.FileDir)
	default:
		slog.Debug("store.Open: no DSN or directory, using in-memory backend")
		return NewInMemoryStore(), nil
	}
}

// dedupTexts returns the entries of add that are neither in have nor repeated.
func dedupTexts(have []string, add []string) []string {
	seen := make(map[string]bool, len(have)+len(add))
	for _, t := range have {
		seen[t] = true
	}
	var out []string
	for _, t := range add {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func requireUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return nil
}
