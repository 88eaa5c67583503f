// Package events fans session state transitions out to subscribers.
//
// Events carry a session-scoped monotonic sequence number assigned at
// publish time, so a given subscriber sees a given session's events in
// generation order. Delivery is at-most-once with no replay buffer: a
// subscriber joining mid-session starts at the next event. The
// broadcaster also emits fixed-interval heartbeats and tears down
// subscribers that stop acknowledging them.
package events
