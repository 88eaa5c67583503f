// ABOUTME: Typed session events with per-session monotonic sequence numbers
// ABOUTME: Shapes mirror the documented WebSocket message contract

package events

import "time"

// Type is the event type string, matching the wire protocol.
type Type string

const (
	TypeScanStarted     Type = "scan:started"
	TypeScanProgress    Type = "scan:progress"
	TypeScanComplete    Type = "scan:complete"
	TypeScanError       Type = "scan:error"
	TypeScanTimeout     Type = "scan:timeout"
	TypeScanStopped     Type = "scan:stopped"
	TypeFingerDetected  Type = "fingerprint:detected"
	TypeQualityFeedback Type = "quality:feedback"
	TypeHeartbeat       Type = "heartbeat"
)

// Event is one session event. Seq is assigned at publish time and is
// monotonically increasing within a session; no ordering holds across
// sessions. Fields absent from a given event type are zero and omitted on
// the wire.
type Event struct {
	SessionID string    `json:"sessionId"`
	Seq       uint64    `json:"seq"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	DeviceID       string  `json:"deviceId,omitempty"`
	Purpose        string  `json:"purpose,omitempty"`
	Phase          string  `json:"phase,omitempty"`
	ScansCompleted int `json:"scansCompleted,omitempty"`
	ScansRequired  int `json:"scansRequired,omitempty"`
	// Quality, Matched, and Confidence have meaningful zero values (a
	// 0-quality scan, a confident non-match), so they always serialize.
	Quality    int     `json:"quality"`
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	UserID     string  `json:"userId,omitempty"`

	// Terminal error payload, per the documented error-code taxonomy.
	Code    int            `json:"code,omitempty"`
	Name    string         `json:"name,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Terminal reports whether this event ends its session's stream.
func (e *Event) Terminal() bool {
	switch e.Type {
	case TypeScanComplete, TypeScanError, TypeScanTimeout, TypeScanStopped:
		return true
	}
	return false
}
