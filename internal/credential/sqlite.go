package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/ragone/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the credential in a local SQLite key/value table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the state database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	// A single connection serializes writers; the CLI never needs more.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	// The file holds a bearer credential.
	if err := os.Chmod(dbPath, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restrict state database permissions: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const query = `
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes the credential and user in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, token string, user models.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const upsert = `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, upsert, KeyToken, string(tokenJSON), now); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, KeyUser, string(userJSON), now); err != nil {
		return fmt.Errorf("write user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential: %w", err)
	}
	return nil
}

// Load reads both keys. A half-written pair is reported as absent.
func (s *SQLiteStore) Load(ctx context.Context) (Stored, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM client_state WHERE key IN (?, ?)`, KeyToken, KeyUser)
	if err != nil {
		return Stored{}, false, fmt.Errorf("query credential: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Stored{}, false, fmt.Errorf("scan credential row: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Stored{}, false, fmt.Errorf("iterate credential rows: %w", err)
	}

	tokenJSON, hasToken := values[KeyToken]
	userJSON, hasUser := values[KeyUser]
	if !hasToken || !hasUser {
		return Stored{}, false, nil
	}

	var stored Stored
	if err := json.Unmarshal([]byte(tokenJSON), &stored.Token); err != nil {
		return Stored{}, false, fmt.Errorf("%w: token: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal([]byte(userJSON), &stored.User); err != nil {
		return Stored{}, false, fmt.Errorf("%w: user: %v", ErrCorrupt, err)
	}
	return stored, true, nil
}

// Clear removes both keys.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE key IN (?, ?)`, KeyToken, KeyUser); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// Token reads the credential key alone.
func (s *SQLiteStore) Token(ctx context.Context) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE key = ?`, KeyToken).Scan(&value)
	if err != nil {
		return "", false
	}

	var token string
	if err := json.Unmarshal([]byte(value), &token); err != nil || token == "" {
		return "", false
	}
	return token, true
}
