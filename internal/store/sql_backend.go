package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// sqlBackend implements the record repositories on database/sql. SQLiteStore
// and PostgresStore share it; queries are written with ? placeholders and
// rebound to $n for Postgres.
type sqlBackend struct {
	db     *sql.DB
	name   string
	dollar bool
}

// openSQL opens driver at dsn, applies pool settings through tune, checks the
// connection and runs the embedded schema. The returned backend owns the pool.
func openSQL(name, driver, dsn, schema string, dollar bool, tune func(*sql.DB)) (sqlBackend, error) {
	if dsn == "" {
		return sqlBackend{}, fmt.Errorf("%s: database DSN not set", name)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return sqlBackend{}, fmt.Errorf("%s: open: %w", name, err)
	}
	if tune != nil {
		tune(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return sqlBackend{}, fmt.Errorf("%s: ping: %w", name, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return sqlBackend{}, fmt.Errorf("%s: migrations: %w", name, err)
	}
	slog.Debug(name+".open: schema ready", "driver", driver)
	return sqlBackend{db: db, name: name, dollar: dollar}, nil
}

func (b *sqlBackend) rebind(query string) string {
	if !b.dollar {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *sqlBackend) RegisterUser(userID string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	_, err := b.db.Exec(b.rebind(`INSERT INTO users (user_id, registered_at) VALUES (?, ?) ON CONFLICT DO NOTHING`), userID, time.Now())
	if err != nil {
		slog.Error(b.name+".RegisterUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to register user %s: %w", userID, err)
	}
	return nil
}

func (b *sqlBackend) GetProgress(userID string) ([]string, error) {
	rows, err := b.db.Query(b.rebind(`SELECT question_text FROM progress WHERE user_id = ? ORDER BY position ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress for %s: %w", userID, err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		texts = append(texts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress rows: %w", err)
	}
	return texts, nil
}

func (b *sqlBackend) AppendProgress(userID string, texts []string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin progress transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(b.rebind(`INSERT INTO users (user_id, registered_at) VALUES (?, ?) ON CONFLICT DO NOTHING`), userID, now); err != nil {
		return fmt.Errorf("failed to register user %s: %w", userID, err)
	}

	var next int
	if err := tx.QueryRow(b.rebind(`SELECT COALESCE(MAX(position), -1) + 1 FROM progress WHERE user_id = ?`), userID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read progress position: %w", err)
	}

	inserted := 0
	for _, t := range dedupTexts(nil, texts) {
		res, err := tx.Exec(
			b.rebind(`INSERT INTO progress (user_id, position, question_text, answered_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`),
			userID, next, t, now,
		)
		if err != nil {
			return fmt.Errorf("failed to append progress for %s: %w", userID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	slog.Debug(b.name+".AppendProgress succeeded", "userID", userID, "inserted", inserted)
	return nil
}

func (b *sqlBackend) ListUsers() ([]string, error) {
	rows, err := b.db.Query(`SELECT user_id FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (b *sqlBackend) AppendResult(r models.FlowResult) error {
	interactions, err := json.Marshal(r.Interactions)
	if err != nil {
		return fmt.Errorf("failed to encode interactions: %w", err)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = b.db.Exec(
		b.rebind(`INSERT INTO flow_results (session_id, user_id, mode, original_text, interactions_json, final_text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.SessionID, r.UserID, string(r.Mode), nilIfEmpty(r.OriginalText), string(interactions), nilIfEmpty(r.FinalText), ts,
	)
	if err != nil {
		slog.Error(b.name+".AppendResult failed", "error", err, "sessionID", r.SessionID)
		return fmt.Errorf("failed to insert flow result %s: %w", r.SessionID, err)
	}
	slog.Debug(b.name+".AppendResult succeeded", "sessionID", r.SessionID, "mode", r.Mode)
	return nil
}

func (b *sqlBackend) ListResults(userID string) ([]models.FlowResult, error) {
	query := `SELECT session_id, user_id, mode, original_text, interactions_json, final_text, created_at FROM flow_results`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := b.db.Query(b.rebind(query+` ORDER BY id ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow results: %w", err)
	}
	defer rows.Close()

	var results []models.FlowResult
	for rows.Next() {
		var r models.FlowResult
		var mode, interactions string
		var original, final sql.NullString
		if err := rows.Scan(&r.SessionID, &r.UserID, &mode, &original, &interactions, &final, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan flow result: %w", err)
		}
		r.Mode = models.Mode(mode)
		r.OriginalText = original.String
		r.FinalText = final.String
		if err := json.Unmarshal([]byte(interactions), &r.Interactions); err != nil {
			return nil, fmt.Errorf("failed to decode interactions for %s: %w", r.SessionID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (b *sqlBackend) ClaimFire(key string) (bool, error) {
	res, err := b.db.Exec(b.rebind(`INSERT INTO fire_claims (fire_key, claimed_at) VALUES (?, ?) ON CONFLICT DO NOTHING`), key, time.Now())
	if err != nil {
		return false, fmt.Errorf("claim fire %s failed: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim fire %s rows affected: %w", key, err)
	}
	return n == 1, nil
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	if b.db == nil {
		return nil
	}
	slog.Debug(b.name + ".Close: closing database")
	return b.db.Close()
}
