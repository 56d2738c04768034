// Package sqlite implements the credential, session and audit storage for
// the gateway on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
)

// ErrNotFound is returned when a credential or session lookup misses.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed credential store and audit sink.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			ip TEXT,
			user_agent TEXT,
			details TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user and returns its id.
func (s *Store) CreateUser(ctx context.Context) (string, error) {
	userID := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?)`,
		userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return userID, nil
}

// CreateAPIKey stores the hash of an issued key. The raw key is never stored.
func (s *Store) CreateAPIKey(ctx context.Context, userID, name, keyHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, name, keyHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// LookupAPIKey returns the user id owning the given key hash.
func (s *Store) LookupAPIKey(ctx context.Context, keyHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM api_keys WHERE key_hash = ?`, keyHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up api key: %w", err)
	}
	return userID, nil
}

// TouchAPIKey updates the key's last-used timestamp.
func (s *Store) TouchAPIKey(ctx context.Context, keyHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?`,
		time.Now().UTC(), keyHash)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// CreateSession stores a session token with its expiry.
func (s *Store) CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, token, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// LookupSession returns the user id for an unexpired session token.
// Expired sessions are indistinguishable from absent ones.
func (s *Store) LookupSession(ctx context.Context, token string, now time.Time) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE token = ? AND expires_at > ?`,
		token, now.UTC()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return userID, nil
}

// InsertAudit appends one audit record.
func (s *Store) InsertAudit(ctx context.Context, entry domain.AuditEntry) error {
	var userID sql.NullString
	if entry.UserID != "" {
		userID = sql.NullString{String: entry.UserID, Valid: true}
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, user_id, action, resource, ip, user_agent, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, string(entry.Action), entry.Resource,
		entry.ClientIP, entry.UserAgent, entry.Detail, ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// CountAudit returns the number of audit records with the given action.
func (s *Store) CountAudit(ctx context.Context, action domain.AuditAction) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE action = ?`, string(action)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
