// ABOUTME: ScanSession model: ephemeral state for one live scan flow
// ABOUTME: Terminal transition happens exactly once, guarded by sync.Once

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devkazuto/fingerprint-service/internal/capture"
	"github.com/devkazuto/fingerprint-service/internal/enroll"
	"github.com/devkazuto/fingerprint-service/internal/fperr"
	"github.com/devkazuto/fingerprint-service/internal/match"
)

// State is the lifecycle state of a scan session.
type State string

const (
	StateWaiting  State = "waiting"
	StateScanning State = "scanning"
	StateComplete State = "complete"
	StateError    State = "error"
	StateTimeout  State = "timeout"
	StateStopped  State = "stopped"
)

// Outcome is what a finished session produced. Exactly one of the fields
// is set depending on purpose and success.
type Outcome struct {
	Enrollment *enroll.Template
	Match      *match.Result
	Err        *fperr.Error
}

// Session is one live scan flow against one device. Ephemeral: it is
// archived to the store and dropped from the coordinator when it ends.
type Session struct {
	ID        string
	DeviceID  string
	UserID    string
	Purpose   capture.Purpose
	StartedAt time.Time

	mu             sync.Mutex
	state          State
	scansCompleted int
	outcome        *Outcome

	cancel        context.CancelFunc
	stopRequested atomic.Bool
	terminal      sync.Once
	done          chan struct{}
}

// Snapshot is a read-only view of a session for status queries.
type Snapshot struct {
	ID             string
	DeviceID       string
	UserID         string
	Purpose        capture.Purpose
	State          State
	ScansCompleted int
	StartedAt      time.Time
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.ID,
		DeviceID:       s.DeviceID,
		UserID:         s.UserID,
		Purpose:        s.Purpose,
		State:          s.state,
		ScansCompleted: s.scansCompleted,
		StartedAt:      s.StartedAt,
	}
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the session result, or nil while still running.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setScans(n int) {
	s.mu.Lock()
	s.scansCompleted = n
	s.mu.Unlock()
}

func (s *Session) scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scansCompleted
}

// finish records the outcome and terminal state exactly once. The
// returned bool is true for the call that won; later calls are no-ops,
// which is what makes double-stop safe.
func (s *Session) finish(state State, outcome *Outcome) bool {
	won := false
	s.terminal.Do(func() {
		won = true
		s.mu.Lock()
		s.state = state
		s.outcome = outcome
		s.mu.Unlock()
		close(s.done)
	})
	return won
}
