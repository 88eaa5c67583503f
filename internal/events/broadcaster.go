// ABOUTME: In-memory fan-out broadcaster for session events with heartbeats
// ABOUTME: At-most-once per subscriber, no replay; stale subscribers are torn down

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for session events. Subscribers
// register for a session ID and receive events in publish order; a
// subscriber that connects mid-session starts at the next event — there
// is no catch-up buffer. A heartbeat is pushed to every subscriber at a
// fixed interval; subscribers that stop acknowledging are torn down.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // sessionID -> subID -> sub
	sequences   map[string]uint64                 // sessionID -> last assigned seq
	interval    time.Duration
	staleAfter  time.Duration
	logger      *slog.Logger
}

// subscriber guards its channel with its own mutex so a send can never
// race a close: teardown happens from the ctx watcher and the stale
// reaper while sessions are still publishing.
type subscriber struct {
	mu        sync.Mutex
	ch        chan *Event
	closed    bool
	sessionID string
	lastAck   time.Time
}

// send delivers non-blocking. Returns false when the event was dropped,
// either because the subscriber is gone or its buffer is full.
func (s *subscriber) send(event *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// close closes the channel exactly once.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscriber) ack() {
	s.mu.Lock()
	s.lastAck = time.Now()
	s.mu.Unlock()
}

func (s *subscriber) staleSince(now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAck) > window
}

// NewBroadcaster creates a broadcaster. heartbeatInterval and staleAfter
// default to the documented 30s/60s when zero. Pass nil logger for default.
func NewBroadcaster(heartbeatInterval, staleAfter time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]*subscriber),
		sequences:   make(map[string]uint64),
		interval:    heartbeatInterval,
		staleAfter:  staleAfter,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given session.
// Returns the event channel and a subscription ID used for Ack and
// Unsubscribe. The subscription is cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:        make(chan *Event, subscriberBufferSize),
		sessionID: sessionID,
		lastAck:   time.Now(),
	}

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]*subscriber)
	}
	b.subscribers[sessionID][subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return sub.ch, subID
}

// Ack records a liveness acknowledgment from a subscriber. Subscribers
// are expected to ack every heartbeat; one that stays silent past the
// stale window is torn down by the heartbeat loop.
func (b *Broadcaster) Ack(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[sessionID]; ok {
		if sub, ok := subs[subID]; ok {
			sub.ack()
		}
	}
}

// Publish stamps the event with the session's next sequence number and a
// wall-clock timestamp, then fans it out. Non-blocking: the event is
// dropped for subscribers whose channels are full — delivery is
// at-most-once by contract.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.Lock()
	b.sequences[event.SessionID]++
	event.Seq = b.sequences[event.SessionID]
	event.Timestamp = time.Now()

	subs := b.subscribers[event.SessionID]
	targets := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.send(event) {
			b.logger.Debug("dropped event for subscriber",
				"session_id", event.SessionID,
				"type", event.Type,
				"seq", event.Seq,
			)
		}
	}
}

// EndSession forgets a session's sequence counter and closes its
// subscriptions once the terminal event has been published.
func (b *Broadcaster) EndSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sequences, sessionID)
	for subID, sub := range b.subscribers[sessionID] {
		sub.close()
		delete(b.subscribers[sessionID], subID)
	}
	delete(b.subscribers, sessionID)
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}

	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	sub.close()

	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// Run emits heartbeats at the configured interval and reaps subscribers
// whose last acknowledgment is older than the stale window. Blocks until
// ctx is cancelled; callers run it in a goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.heartbeat()
		}
	}
}

// heartbeat pushes a liveness ping to every subscriber, independent of
// session activity, and tears down the stale ones.
func (b *Broadcaster) heartbeat() {
	now := time.Now()

	type stale struct{ sessionID, subID string }
	var dead []stale

	b.mu.RLock()
	targets := make([]*subscriber, 0)
	for sessionID, subs := range b.subscribers {
		for subID, sub := range subs {
			if sub.staleSince(now, b.staleAfter) {
				dead = append(dead, stale{sessionID, subID})
				continue
			}
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.send(&Event{
			SessionID: sub.sessionID,
			Type:      TypeHeartbeat,
			Timestamp: now,
		})
	}

	for _, d := range dead {
		b.logger.Info("tearing down stale subscriber",
			"session_id", d.sessionID,
			"sub_id", d.subID,
		)
		b.Unsubscribe(d.sessionID, d.subID)
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, sub := range subs {
			sub.close()
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("broadcaster closed")
}
