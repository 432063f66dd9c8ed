package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore persists audit records to a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// SQLiteConfig holds store configuration.
type SQLiteConfig struct {
	Path   string
	Logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT,
	user_id TEXT,
	event TEXT NOT NULL,
	detail TEXT,
	fields TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events(event);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
`

// NewSQLiteStore opens (creating if needed) the audit database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: cfg.Logger}, nil
}

// Write inserts one record. Failures are logged and returned but never panic;
// callers treat audit persistence as best-effort.
func (s *SQLiteStore) Write(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var fields []byte
	if len(rec.Fields) > 0 {
		var err error
		fields, err = json.Marshal(rec.Fields)
		if err != nil {
			s.logger.Error().Err(err).Str("event", rec.Event).Msg("Failed to marshal audit fields")
			fields = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (agent_id, user_id, event, detail, fields, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.UserID, rec.Event, rec.Detail, string(fields), rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("event", rec.Event).Msg("Failed to persist audit event")
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit records for an agent, newest first. An empty
// agentID returns records across all agents.
func (s *SQLiteStore) Recent(ctx context.Context, agentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT agent_id, user_id, event, detail, fields, created_at FROM audit_events`
	args := []interface{}{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var fields sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.AgentID, &rec.UserID, &rec.Event, &rec.Detail, &fields, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &rec.Fields); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to decode audit fields")
			}
		}
		rec.Timestamp = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records older than the retention period and returns how many
// were removed.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
