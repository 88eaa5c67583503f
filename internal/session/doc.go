// Package session orchestrates live scan sessions.
//
// # Coordinator
//
// The Coordinator is the engine's front door. Starting a session acquires
// the device lease first — a busy device fails with DEVICE_BUSY before
// any hardware I/O — then runs the flow in its own goroutine:
//
//   - enroll: three gated captures merged into one template, persisted at
//     completion
//   - verify: one capture matched 1:1 against the user's stored template
//   - identify: one capture matched 1:N against the full enrolled pool
//
// Every state transition is published through the event broadcaster with
// a session-scoped sequence number. A session ends in exactly one of
// complete, error, timeout, or stopped, and emits exactly one terminal
// event; Stop is idempotent and a second call after the terminal event is
// a no-op.
//
// # Timeouts and disconnects
//
// The session context is derived from the device lease and bounded by
// the 30s session timeout. Lease revocation (operation timeout, USB
// removal) therefore aborts the in-flight capture; disconnection
// mid-session is always fatal to that session.
package session
