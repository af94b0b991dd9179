package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_tokens (
			id TEXT PRIMARY KEY,
			token_hash TEXT UNIQUE NOT NULL,
			principal_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_tokens_expires ON session_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			principal_id TEXT NOT NULL DEFAULT '',
			conn_id TEXT NOT NULL DEFAULT '',
			detail JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
func (s *PostgresStore) CreateSessionToken(ctx context.Context, tok *SessionToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_tokens (id, token_hash, principal_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tok.ID, tok.TokenHash, tok.PrincipalID, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session token: %w", err)
	}
	return nil
}

// GetSessionTokenByHash returns the token with the given hash, or (nil, nil)
// if no such token exists.
func (s *PostgresStore) GetSessionTokenByHash(ctx context.Context, tokenHash string) (*SessionToken, error) {
	var tok SessionToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token_hash, principal_id, created_at, expires_at
		 FROM session_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&tok.ID, &tok.TokenHash, &tok.PrincipalID, &tok.CreatedAt, &tok.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session token: %w", err)
	}
	return &tok, nil
}

// RevokeSessionToken deletes the token with the given hash.
func (s *PostgresStore) RevokeSessionToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// PurgeExpiredSessionTokens deletes tokens that expired before the cutoff.
func (s *PostgresStore) PurgeExpiredSessionTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge session tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LogAuditEvent inserts an audit event.
func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := "{}"
	if len(event.Detail) > 0 {
		detail = string(event.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, principal_id, conn_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Action, event.PrincipalID, event.ConnID, detail, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns audit events newest first.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, principal_id, conn_id, detail, created_at
		 FROM audit_events ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
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
func (s *PostgresStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
