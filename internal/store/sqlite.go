// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides template/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS enrollments (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			template BLOB NOT NULL,
			quality INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_enrollments_user_id
			ON enrollments(user_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			state TEXT NOT NULL,
			error_code INTEGER NOT NULL DEFAULT 0,
			scans_completed INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_started_at
			ON sessions(started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveTemplate upserts the enrollment record for a user. Re-enrolling
// replaces the previous template.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, rec *EnrollmentRecord) error {
	query := `
		INSERT INTO enrollments (id, user_id, template, quality, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			id = excluded.id,
			template = excluded.template,
			quality = excluded.quality,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Template,
		rec.Quality,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting enrollment: %w", err)
	}

	s.logger.Debug("saved enrollment template",
		"enrollment_id", rec.ID,
		"user_id", rec.UserID,
		"quality", rec.Quality,
	)
	return nil
}

// LoadTemplate retrieves the enrollment record for a user
func (s *SQLiteStore) LoadTemplate(ctx context.Context, userID string) (*EnrollmentRecord, error) {
	query := `
		SELECT id, user_id, template, quality, created_at
		FROM enrollments
		WHERE user_id = ?
	`

	rec := &EnrollmentRecord{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Template,
		&rec.Quality,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying enrollment: %w", err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for user %s: %w", userID, err)
	}
	return rec, nil
}

// DeleteTemplate removes a user's enrollment record
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM enrollments WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting enrollment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// IterateTemplates streams all enrolled templates to fn in user order
func (s *SQLiteStore) IterateTemplates(ctx context.Context, fn func(userID string, template []byte) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, template FROM enrollments ORDER BY user_id")
	if err != nil {
		return fmt.Errorf("querying enrollments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var template []byte
		if err := rows.Scan(&userID, &template); err != nil {
			return fmt.Errorf("scanning enrollment: %w", err)
		}
		if err := fn(userID, template); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveSession archives a finished scan session
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (id, device_id, purpose, state, error_code, scans_completed, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.DeviceID,
		rec.Purpose,
		rec.State,
		rec.ErrorCode,
		rec.ScansCompleted,
		rec.StartedAt.Format(time.RFC3339),
		rec.EndedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// ListSessions returns archived sessions, most recent first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, device_id, purpose, state, error_code, scans_completed, started_at, ended_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		var startedAt, endedAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.DeviceID,
			&rec.Purpose,
			&rec.State,
			&rec.ErrorCode,
			&rec.ScansCompleted,
			&startedAt,
			&endedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for session %s: %w", rec.ID, err)
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339, endedAt); err != nil {
			return nil, fmt.Errorf("parsing ended_at for session %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
