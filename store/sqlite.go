package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT UNIQUE NOT NULL,
			principal_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_tokens_expires ON session_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			principal_id TEXT NOT NULL DEFAULT '',
			conn_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// CreateSessionToken inserts a new session token record.
func (s *SQLiteStore) CreateSessionToken(ctx context.Context, tok *SessionToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_tokens (id, token_hash, principal_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tok.ID, tok.TokenHash, tok.PrincipalID, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session token: %w", err)
	}
	return nil
}

// GetSessionTokenByHash returns the token with the given hash, or (nil, nil)
// if no such token exists.
func (s *SQLiteStore) GetSessionTokenByHash(ctx context.Context, tokenHash string) (*SessionToken, error) {
	var tok SessionToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token_hash, principal_id, created_at, expires_at
		 FROM session_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&tok.ID, &tok.TokenHash, &tok.PrincipalID, &tok.CreatedAt, &tok.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session token: %w", err)
	}
	return &tok, nil
}

// RevokeSessionToken deletes the token with the given hash. Revoking a token
// that does not exist is not an error.
func (s *SQLiteStore) RevokeSessionToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// PurgeExpiredSessionTokens deletes tokens that expired before the cutoff.
func (s *SQLiteStore) PurgeExpiredSessionTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge session tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LogAuditEvent inserts an audit event.
func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := "{}"
	if len(event.Detail) > 0 {
		detail = string(event.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, principal_id, conn_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.PrincipalID, event.ConnID, detail, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns audit events newest first.
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, principal_id, conn_id, detail, created_at
		 FROM audit_events ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.PrincipalID, &e.ConnID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Detail = []byte(detail)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeOldAuditEvents deletes audit events created before the cutoff.
func (s *SQLiteStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
