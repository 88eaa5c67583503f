// ABOUTME: Store interface and data types for template and session persistence
// ABOUTME: The engine reads templates during matching; writes happen at flow boundaries

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EnrollmentRecord is a persisted enrollment template. One per user: a
// re-enrollment replaces the previous record.
type EnrollmentRecord struct {
	ID        string
	UserID    string
	Template  []byte
	Quality   int
	CreatedAt time.Time
}

// SessionRecord is the archived form of a finished scan session.
type SessionRecord struct {
	ID             string
	DeviceID       string
	Purpose        string // enroll, verify, identify
	State          string // complete, error, timeout, stopped
	ErrorCode      int    // 0 when the session completed normally
	ScansCompleted int
	StartedAt      time.Time
	EndedAt        time.Time
}

// Store defines the interface for template and session persistence
type Store interface {
	// Templates
	SaveTemplate(ctx context.Context, rec *EnrollmentRecord) error
	LoadTemplate(ctx context.Context, userID string) (*EnrollmentRecord, error)
	DeleteTemplate(ctx context.Context, userID string) error

	// IterateTemplates enumerates the identification pool. The callback
	// returning an error stops iteration and propagates it.
	IterateTemplates(ctx context.Context, fn func(userID string, template []byte) error) error

	// Session archive
	SaveSession(ctx context.Context, rec *SessionRecord) error
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	Close() error
}
