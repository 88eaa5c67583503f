// ABOUTME: Coordinator ties leases, capture, enrollment, and matching into sessions
// ABOUTME: One goroutine per session; every transition is published as an ordered event

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devkazuto/fingerprint-service/internal/capture"
	"github.com/devkazuto/fingerprint-service/internal/device"
	"github.com/devkazuto/fingerprint-service/internal/enroll"
	"github.com/devkazuto/fingerprint-service/internal/events"
	"github.com/devkazuto/fingerprint-service/internal/fperr"
	"github.com/devkazuto/fingerprint-service/internal/match"
	"github.com/devkazuto/fingerprint-service/internal/store"
)

// Config holds session-level policy.
type Config struct {
	// SessionTimeout bounds a whole session; the documented default is 30s.
	SessionTimeout time.Duration
	// CaptureRetries is how many rejected scans a verify/identify session
	// tolerates before failing with LOW_QUALITY.
	CaptureRetries int
	// VerifyThreshold and IdentifyThreshold are the default confidence
	// thresholds; callers may override per request.
	VerifyThreshold   float64
	IdentifyThreshold float64
}

// Coordinator owns all live scan sessions. Sessions against different
// devices run concurrently; the device lease serializes flows per device.
type Coordinator struct {
	hub      *device.Hub
	pipeline *capture.Pipeline
	enroller *enroll.Orchestrator
	engine   *match.Engine
	store    store.Store
	bus      *events.Broadcaster
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator wires the engine components into a session coordinator.
func NewCoordinator(
	hub *device.Hub,
	pipeline *capture.Pipeline,
	enroller *enroll.Orchestrator,
	engine *match.Engine,
	st store.Store,
	bus *events.Broadcaster,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	return &Coordinator{
		hub:      hub,
		pipeline: pipeline,
		enroller: enroller,
		engine:   engine,
		store:    st,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// Get returns a live session by ID.
func (c *Coordinator) Get(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// StartEnrollment begins a 3-capture enrollment session for a user.
// The device lease is taken before anything else, so a busy device fails
// here with DEVICE_BUSY and no hardware I/O happens.
func (c *Coordinator) StartEnrollment(deviceID, userID string) (*Session, error) {
	return c.start(deviceID, userID, capture.PurposeEnroll)
}

// StartVerification begins a 1:1 session: one capture matched against the
// user's stored template.
func (c *Coordinator) StartVerification(deviceID, userID string) (*Session, error) {
	return c.start(deviceID, userID, capture.PurposeVerify)
}

// StartIdentification begins a 1:N session: one capture matched against
// the full enrolled pool.
func (c *Coordinator) StartIdentification(deviceID string) (*Session, error) {
	return c.start(deviceID, "", capture.PurposeIdentify)
}

func (c *Coordinator) start(deviceID, userID string, purpose capture.Purpose) (*Session, error) {
	lease, err := c.hub.Acquire(deviceID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(lease.Context(), c.cfg.SessionTimeout)

	s := &Session{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		UserID:    userID,
		Purpose:   purpose,
		StartedAt: time.Now(),
		state:     StateWaiting,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()

	c.bus.Publish(&events.Event{
		SessionID: s.ID,
		Type:      events.TypeScanStarted,
		DeviceID:  deviceID,
		Purpose:   string(purpose),
	})

	c.logger.Info("session started",
		"session_id", s.ID,
		"device_id", deviceID,
		"purpose", purpose,
		"user_id", userID,
	)

	go c.run(ctx, s, lease)
	return s, nil
}

// Stop cancels a live session: the in-flight capture aborts, the lease is
// released, and exactly one terminal scan:stopped event is emitted.
// Idempotent — stopping a finished or unknown session is a no-op.
func (c *Coordinator) Stop(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	s.stopRequested.Store(true)
	s.cancel()
}

// StopAll cancels every live session. Used at shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Stop(id)
	}
}

// run drives one session to its terminal state.
func (c *Coordinator) run(ctx context.Context, s *Session, lease *device.Lease) {
	defer lease.Release()
	defer s.cancel()

	var outcome *Outcome
	switch s.Purpose {
	case capture.PurposeEnroll:
		outcome = c.runEnrollment(ctx, s, lease)
	case capture.PurposeVerify:
		outcome = c.runVerification(ctx, s, lease)
	case capture.PurposeIdentify:
		outcome = c.runIdentification(ctx, s, lease)
	}

	c.conclude(s, outcome)
}

func (c *Coordinator) runEnrollment(ctx context.Context, s *Session, lease *device.Lease) *Outcome {
	capturer := c.capturerFor(s, lease)

	tpl, err := c.enroller.Run(ctx, s.UserID, capturer, func(p enroll.Progress) {
		s.setScans(p.ScansCompleted)

		evt := &events.Event{
			SessionID:      s.ID,
			DeviceID:       s.DeviceID,
			Phase:          string(p.State.Phase),
			ScansCompleted: p.ScansCompleted,
			ScansRequired:  p.ScansRequired,
			Retries:        p.State.Retries,
		}
		if p.Quality >= 0 {
			evt.Quality = p.Quality
		}

		switch {
		case p.State.Phase == enroll.PhaseAwaitingScan && p.State.Retries > 0:
			evt.Type = events.TypeQualityFeedback
		case p.State.Phase == enroll.PhaseComplete, p.State.Phase == enroll.PhaseError:
			// Terminal transitions are published by conclude.
			return
		default:
			evt.Type = events.TypeScanProgress
		}
		c.bus.Publish(evt)
	})
	if err != nil {
		return &Outcome{Err: c.classify(ctx, s, lease, err)}
	}

	if err := c.store.SaveTemplate(ctx, &store.EnrollmentRecord{
		ID:        tpl.ID,
		UserID:    tpl.UserID,
		Template:  tpl.Template,
		Quality:   tpl.Quality,
		CreatedAt: tpl.CreatedAt,
	}); err != nil {
		return &Outcome{Err: fperr.Wrap(fperr.StoreUnavailable, err)}
	}

	return &Outcome{Enrollment: tpl}
}

func (c *Coordinator) runVerification(ctx context.Context, s *Session, lease *device.Lease) *Outcome {
	stored, err := c.store.LoadTemplate(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Outcome{Err: fperr.New(fperr.TemplateNotFound, "user %s has no enrolled template", s.UserID)}
		}
		return &Outcome{Err: fperr.Wrap(fperr.StoreUnavailable, err)}
	}

	attempt, ferr := c.captureOnce(ctx, s, lease)
	if ferr != nil {
		return &Outcome{Err: ferr}
	}

	result, err := c.engine.Verify(ctx, attempt.Template, stored.Template, c.cfg.VerifyThreshold)
	if err != nil {
		return &Outcome{Err: fperr.From(err)}
	}
	if result.Match {
		result.UserID = s.UserID
	}
	return &Outcome{Match: result}
}

func (c *Coordinator) runIdentification(ctx context.Context, s *Session, lease *device.Lease) *Outcome {
	attempt, ferr := c.captureOnce(ctx, s, lease)
	if ferr != nil {
		return &Outcome{Err: ferr}
	}

	result, err := c.engine.Identify(ctx, attempt.Template, storePool{c.store}, c.cfg.IdentifyThreshold)
	if err != nil {
		return &Outcome{Err: fperr.From(err)}
	}
	return &Outcome{Match: result}
}

// capturerFor binds the pipeline to this session's lease and purpose.
func (c *Coordinator) capturerFor(s *Session, lease *device.Lease) enroll.Capturer {
	return capturerFunc(func(ctx context.Context) (*capture.Attempt, error) {
		s.setState(StateWaiting)
		attempt, err := c.pipeline.Capture(ctx, lease, s.ID, s.Purpose, capture.Hooks{
			FingerDetected: func() {
				s.setState(StateScanning)
				c.bus.Publish(&events.Event{
					SessionID: s.ID,
					Type:      events.TypeFingerDetected,
					DeviceID:  s.DeviceID,
				})
			},
		})
		return attempt, err
	})
}

// captureOnce runs the capture loop for verify/identify: rejected scans
// get quality feedback and a retry until the budget runs out.
func (c *Coordinator) captureOnce(ctx context.Context, s *Session, lease *device.Lease) (*capture.Attempt, *fperr.Error) {
	capturer := c.capturerFor(s, lease)
	gate := c.pipeline.MinQuality(s.Purpose)

	for attemptNo := 0; ; attemptNo++ {
		attempt, err := capturer.Capture(ctx)
		if err != nil {
			var fe *fperr.Error
			if errors.As(err, &fe) && fe.Retryable() && attemptNo < c.cfg.CaptureRetries {
				c.bus.Publish(&events.Event{
					SessionID: s.ID,
					Type:      events.TypeQualityFeedback,
					DeviceID:  s.DeviceID,
					Retries:   attemptNo + 1,
					Code:      fe.Code,
					Name:      fe.Name,
				})
				continue
			}
			return nil, c.classify(ctx, s, lease, err)
		}

		if attempt.MeetsThreshold {
			s.setScans(1)
			return attempt, nil
		}

		if attemptNo >= c.cfg.CaptureRetries {
			return nil, fperr.New(fperr.LowQuality, "scan quality %d below minimum %d", attempt.Quality, gate).
				WithDetails(map[string]any{"quality": attempt.Quality, "minimum": gate})
		}
		c.bus.Publish(&events.Event{
			SessionID: s.ID,
			Type:      events.TypeQualityFeedback,
			DeviceID:  s.DeviceID,
			Quality:   attempt.Quality,
			Retries:   attemptNo + 1,
		})
	}
}

// classify maps a flow error to the session-terminal error, folding in
// cancellation and timeout causes. A caller-requested stop still yields an
// error value here; terminalFor turns it into scan:stopped.
func (c *Coordinator) classify(ctx context.Context, s *Session, lease *device.Lease, err error) *fperr.Error {
	if s.stopRequested.Load() {
		return fperr.Wrap(fperr.Internal, context.Canceled)
	}
	if leaseErr := lease.Err(); leaseErr != nil {
		return leaseErr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fperr.New(fperr.SessionTimeout, "session exceeded %s", c.cfg.SessionTimeout)
	}
	return fperr.From(err)
}

// conclude emits the single terminal event, archives the session, and
// removes it from the live set.
func (c *Coordinator) conclude(s *Session, outcome *Outcome) {
	if outcome == nil {
		outcome = &Outcome{Err: fperr.New(fperr.Internal, "session produced no outcome")}
	}

	state, evt := c.terminalFor(s, outcome)
	if state == StateStopped {
		// A stop is a clean end, not a failure.
		outcome.Err = nil
	}
	if !s.finish(state, outcome) {
		return
	}
	c.bus.Publish(evt)
	c.bus.EndSession(s.ID)

	c.mu.Lock()
	delete(c.sessions, s.ID)
	c.mu.Unlock()

	// The session context is finished by now; archive on a fresh one.
	archiveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &store.SessionRecord{
		ID:             s.ID,
		DeviceID:       s.DeviceID,
		Purpose:        string(s.Purpose),
		State:          string(state),
		ScansCompleted: s.scans(),
		StartedAt:      s.StartedAt,
		EndedAt:        time.Now(),
	}
	if outcome.Err != nil {
		rec.ErrorCode = outcome.Err.Code
	}
	if err := c.store.SaveSession(archiveCtx, rec); err != nil {
		c.logger.Warn("archiving session failed", "session_id", s.ID, "error", err)
	}

	c.logger.Info("session ended",
		"session_id", s.ID,
		"device_id", s.DeviceID,
		"purpose", s.Purpose,
		"state", state,
	)
}

// terminalFor builds the one terminal event for a session outcome.
func (c *Coordinator) terminalFor(s *Session, outcome *Outcome) (State, *events.Event) {
	evt := &events.Event{
		SessionID:      s.ID,
		DeviceID:       s.DeviceID,
		Purpose:        string(s.Purpose),
		ScansCompleted: s.scans(),
	}

	switch {
	case s.stopRequested.Load() && outcome.Enrollment == nil && outcome.Match == nil:
		evt.Type = events.TypeScanStopped
		return StateStopped, evt

	case outcome.Err != nil:
		if outcome.Err.Code == fperr.CodeSessionTimeout {
			evt.Type = events.TypeScanTimeout
		} else {
			evt.Type = events.TypeScanError
		}
		evt.Code = outcome.Err.Code
		evt.Name = outcome.Err.Name
		evt.Message = outcome.Err.Message
		evt.Details = outcome.Err.Details
		if evt.Type == events.TypeScanTimeout {
			return StateTimeout, evt
		}
		return StateError, evt

	case outcome.Enrollment != nil:
		evt.Type = events.TypeScanComplete
		evt.Quality = outcome.Enrollment.Quality
		evt.UserID = outcome.Enrollment.UserID
		return StateComplete, evt

	default:
		evt.Type = events.TypeScanComplete
		evt.Matched = outcome.Match.Match
		evt.Confidence = outcome.Match.Confidence
		evt.UserID = outcome.Match.UserID
		return StateComplete, evt
	}
}

// capturerFunc adapts a closure to enroll.Capturer.
type capturerFunc func(ctx context.Context) (*capture.Attempt, error)

func (f capturerFunc) Capture(ctx context.Context) (*capture.Attempt, error) { return f(ctx) }

// storePool adapts the template store to the match engine's pool.
type storePool struct {
	st store.Store
}

func (p storePool) Iterate(ctx context.Context, fn func(userID string, template []byte) error) error {
	return p.st.IterateTemplates(ctx, fn)
}
