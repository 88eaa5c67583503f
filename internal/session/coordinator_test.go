// ABOUTME: End-to-end coordinator tests over the simulated driver and mock store
// ABOUTME: Covers busy rejection, stop semantics, timeouts, and full scan flows

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkazuto/fingerprint-service/internal/capture"
	"github.com/devkazuto/fingerprint-service/internal/device"
	"github.com/devkazuto/fingerprint-service/internal/driver"
	"github.com/devkazuto/fingerprint-service/internal/enroll"
	"github.com/devkazuto/fingerprint-service/internal/events"
	"github.com/devkazuto/fingerprint-service/internal/fperr"
	"github.com/devkazuto/fingerprint-service/internal/match"
	"github.com/devkazuto/fingerprint-service/internal/store"
)

type fixture struct {
	sim   *driver.Simulated
	hub   *device.Hub
	store *store.MockStore
	bus   *events.Broadcaster
	coord *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Second
	}
	if cfg.CaptureRetries == 0 {
		cfg.CaptureRetries = 3
	}
	if cfg.VerifyThreshold == 0 {
		cfg.VerifyThreshold = 70
	}
	if cfg.IdentifyThreshold == 0 {
		cfg.IdentifyThreshold = 70
	}

	sim := driver.NewSimulated()
	hub := device.NewHub(time.Minute, nil)
	hub.Attach(device.Info{ID: "zk-1", Serial: "ZK4500-001", Model: "ZK4500"})

	st := store.NewMockStore()
	bus := events.NewBroadcaster(time.Hour, time.Hour, nil)
	t.Cleanup(bus.Close)

	pipeline := capture.NewPipeline(sim, capture.Config{
		FingerTimeout:     2 * time.Second,
		EnrollmentMinimum: 60,
		MatchMinimum:      50,
	}, nil)

	enroller := enroll.NewOrchestrator(enroll.Config{
		Samples:           3,
		MinQuality:        60,
		MaxRetriesPerSlot: 3,
	}, sim, nil)

	engine := match.NewEngine(sim, nil)

	coord := NewCoordinator(hub, pipeline, enroller, engine, st, bus, cfg, nil)
	return &fixture{sim: sim, hub: hub, store: st, bus: bus, coord: coord}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not reach a terminal state", s.ID)
	}
}

// archived polls for the session archive record; archiving happens just
// after the done channel closes.
func archived(t *testing.T, f *fixture, sessionID string) *store.SessionRecord {
	t.Helper()
	var found *store.SessionRecord
	require.Eventually(t, func() bool {
		records, err := f.store.ListSessions(t.Context(), 0)
		if err != nil {
			return false
		}
		for _, rec := range records {
			if rec.ID == sessionID {
				found = rec
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "session %s was not archived", sessionID)
	return found
}

func TestEnrollmentSessionCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	f.sim.QueueScan("zk-1",
		driver.Scan{Quality: 85, Template: []byte("finger-a")},
		driver.Scan{Quality: 88, Template: []byte("finger-a")},
		driver.Scan{Quality: 90, Template: []byte("finger-a")},
	)

	s, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateComplete, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Enrollment)
	assert.Equal(t, "alice", outcome.Enrollment.UserID)
	assert.Equal(t, []byte("finger-a"), outcome.Enrollment.Template)

	// Template persisted for later matching
	rec, err := f.store.LoadTemplate(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, outcome.Enrollment.ID, rec.ID)

	arch := archived(t, f, s.ID)
	assert.Equal(t, "complete", arch.State)
	assert.Equal(t, 0, arch.ErrorCode)
	assert.Equal(t, 3, arch.ScansCompleted)
}

func TestEnrollmentInconsistentFingers(t *testing.T) {
	f := newFixture(t, Config{})
	// Three good-quality scans of what are clearly different fingers
	f.sim.QueueScan("zk-1",
		driver.Scan{Quality: 85, Template: []byte("aaaaaaaa")},
		driver.Scan{Quality: 88, Template: []byte("bbbbbbbb")},
		driver.Scan{Quality: 90, Template: []byte("cccccccc")},
	)

	s, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateError, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Err)
	assert.Equal(t, fperr.CodeEnrollmentFailed, outcome.Err.Code)

	_, err = f.store.LoadTemplate(t.Context(), "alice")
	assert.True(t, errors.Is(err, store.ErrNotFound), "failed enrollment must not persist a template")
}

func TestDeviceBusyFailsFast(t *testing.T) {
	f := newFixture(t, Config{})

	// Nothing queued: the first session parks in WaitForFinger
	s1, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)

	_, err = f.coord.StartVerification("zk-1", "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fperr.DeviceBusy))

	f.coord.Stop(s1.ID)
	waitDone(t, s1)

	// Lease released: the device is usable again
	lease, err := f.hub.Acquire("zk-1")
	require.NoError(t, err)
	lease.Release()
}

func TestVerificationMatch(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
		ID: "enr-1", UserID: "alice", Template: []byte("finger-a"), Quality: 85, CreatedAt: time.Now(),
	}))
	f.sim.QueueScan("zk-1", driver.Scan{Quality: 80, Template: []byte("finger-a")})

	s, err := f.coord.StartVerification("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateComplete, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Match)
	assert.True(t, outcome.Match.Match)
	assert.Equal(t, "alice", outcome.Match.UserID)
	assert.Equal(t, 100.0, outcome.Match.Confidence)
}

func TestVerificationNonMatchIsComplete(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
		ID: "enr-1", UserID: "alice", Template: []byte("finger-a"), Quality: 85, CreatedAt: time.Now(),
	}))
	f.sim.SetCompare(func(probe, candidate []byte) (float64, error) { return 45.2, nil })
	f.sim.QueueScan("zk-1", driver.Scan{Quality: 80, Template: []byte("finger-b")})

	s, err := f.coord.StartVerification("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	// A confident non-match is a successful session
	assert.Equal(t, StateComplete, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Match)
	assert.False(t, outcome.Match.Match)
	assert.Empty(t, outcome.Match.UserID)
}

func TestVerificationWithoutEnrollment(t *testing.T) {
	f := newFixture(t, Config{})

	s, err := f.coord.StartVerification("zk-1", "ghost")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateError, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Err)
	assert.Equal(t, fperr.CodeTemplateNotFound, outcome.Err.Code)

	arch := archived(t, f, s.ID)
	assert.Equal(t, "error", arch.State)
	assert.Equal(t, fperr.CodeTemplateNotFound, arch.ErrorCode)
}

func TestIdentificationBestMatchWins(t *testing.T) {
	f := newFixture(t, Config{})
	for user, tmpl := range map[string]string{"alice": "t-alice", "bob": "t-bob", "carol": "t-carol"} {
		require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
			ID: "enr-" + user, UserID: user, Template: []byte(tmpl), Quality: 85, CreatedAt: time.Now(),
		}))
	}
	scores := map[string]float64{"t-alice": 74, "t-bob": 91, "t-carol": 82}
	f.sim.SetCompare(func(probe, candidate []byte) (float64, error) {
		return scores[string(candidate)], nil
	})
	f.sim.QueueScan("zk-1", driver.Scan{Quality: 80, Template: []byte("probe")})

	s, err := f.coord.StartIdentification("zk-1")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateComplete, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Match)
	assert.True(t, outcome.Match.Match)
	assert.Equal(t, "bob", outcome.Match.UserID)
	assert.Equal(t, 91.0, outcome.Match.Confidence)
}

func TestIdentificationEmptyPool(t *testing.T) {
	f := newFixture(t, Config{})
	f.sim.QueueScan("zk-1", driver.Scan{Quality: 80, Template: []byte("probe")})

	s, err := f.coord.StartIdentification("zk-1")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateComplete, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Match)
	assert.False(t, outcome.Match.Match)
}

func TestLowQualityBudgetExhausted(t *testing.T) {
	f := newFixture(t, Config{CaptureRetries: 2})
	f.sim.QueueScan("zk-1",
		driver.Scan{Quality: 45},
		driver.Scan{Quality: 42},
		driver.Scan{Quality: 48},
	)
	require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
		ID: "enr-1", UserID: "alice", Template: []byte("finger-a"), Quality: 85, CreatedAt: time.Now(),
	}))

	s, err := f.coord.StartVerification("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateError, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Err)
	assert.Equal(t, fperr.CodeLowQuality, outcome.Err.Code)
	assert.Equal(t, 48, outcome.Err.Details["quality"])
}

func TestStopEmitsSingleTerminalEvent(t *testing.T) {
	f := newFixture(t, Config{})

	// Nothing queued: the session parks waiting for a finger
	s, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)

	ch, _ := f.bus.Subscribe(t.Context(), s.ID)

	f.coord.Stop(s.ID)
	f.coord.Stop(s.ID) // double stop is a no-op
	waitDone(t, s)

	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.Outcome().Err, "a requested stop is not a failure")

	var terminals int
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break drain
			}
			if ev.Terminal() {
				terminals++
				assert.Equal(t, events.TypeScanStopped, ev.Type)
			}
		case <-deadline:
			t.Fatal("subscriber channel never closed after terminal event")
		}
	}
	assert.Equal(t, 1, terminals)

	arch := archived(t, f, s.ID)
	assert.Equal(t, "stopped", arch.State)
	assert.Equal(t, 0, arch.ErrorCode)
}

func TestStopUnknownSessionIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Stop("no-such-session")
}

func TestSessionTimeout(t *testing.T) {
	f := newFixture(t, Config{SessionTimeout: 50 * time.Millisecond})

	require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
		ID: "enr-1", UserID: "alice", Template: []byte("finger-a"), Quality: 85, CreatedAt: time.Now(),
	}))

	// No finger ever arrives; the session deadline fires first
	s, err := f.coord.StartVerification("zk-1", "alice")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, StateTimeout, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Err)
	assert.Equal(t, fperr.CodeSessionTimeout, outcome.Err.Code)

	arch := archived(t, f, s.ID)
	assert.Equal(t, "timeout", arch.State)
	assert.Equal(t, fperr.CodeSessionTimeout, arch.ErrorCode)
}

func TestSessionEventsAreOrdered(t *testing.T) {
	f := newFixture(t, Config{})
	// Delay the first scan so the subscriber attaches before any progress
	f.sim.QueueScan("zk-1",
		driver.Scan{Quality: 85, Template: []byte("finger-a"), Delay: 100 * time.Millisecond},
		driver.Scan{Quality: 88, Template: []byte("finger-a")},
		driver.Scan{Quality: 90, Template: []byte("finger-a")},
	)

	s, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)

	ch, _ := f.bus.Subscribe(t.Context(), s.ID)
	waitDone(t, s)

	var last uint64
	sawDetected, sawTerminal := false, false
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break drain
			}
			assert.Greater(t, ev.Seq, last, "sequence numbers must be strictly increasing")
			last = ev.Seq
			assert.False(t, sawTerminal, "no events may follow the terminal event")
			switch ev.Type {
			case events.TypeFingerDetected:
				sawDetected = true
			case events.TypeScanComplete:
				sawTerminal = true
				assert.Equal(t, "alice", ev.UserID)
				assert.Equal(t, 3, ev.ScansCompleted)
			}
		case <-deadline:
			t.Fatal("subscriber channel never closed")
		}
	}
	assert.True(t, sawDetected)
	assert.True(t, sawTerminal)
}

func TestDeviceDetachFailsSession(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.store.SaveTemplate(t.Context(), &store.EnrollmentRecord{
		ID: "enr-1", UserID: "alice", Template: []byte("finger-a"), Quality: 85, CreatedAt: time.Now(),
	}))

	// Session parks waiting for a finger, then the reader is yanked
	s, err := f.coord.StartVerification("zk-1", "alice")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	f.hub.Detach("zk-1")
	waitDone(t, s)

	assert.Equal(t, StateError, s.State())
	outcome := s.Outcome()
	require.NotNil(t, outcome.Err)
	assert.Equal(t, fperr.CodeDeviceDisconnected, outcome.Err.Code)
}

func TestConcurrentSessionsOnDifferentDevices(t *testing.T) {
	f := newFixture(t, Config{})
	f.hub.Attach(device.Info{ID: "zk-2", Serial: "ZK4500-002", Model: "ZK4500"})

	f.sim.QueueScan("zk-1",
		driver.Scan{Quality: 85, Template: []byte("finger-a")},
		driver.Scan{Quality: 88, Template: []byte("finger-a")},
		driver.Scan{Quality: 90, Template: []byte("finger-a")},
	)
	f.sim.QueueScan("zk-2",
		driver.Scan{Quality: 85, Template: []byte("finger-b")},
		driver.Scan{Quality: 88, Template: []byte("finger-b")},
		driver.Scan{Quality: 90, Template: []byte("finger-b")},
	)

	s1, err := f.coord.StartEnrollment("zk-1", "alice")
	require.NoError(t, err)
	s2, err := f.coord.StartEnrollment("zk-2", "bob")
	require.NoError(t, err)

	waitDone(t, s1)
	waitDone(t, s2)

	assert.Equal(t, StateComplete, s1.State())
	assert.Equal(t, StateComplete, s2.State())

	a, err := f.store.LoadTemplate(t.Context(), "alice")
	require.NoError(t, err)
	b, err := f.store.LoadTemplate(t.Context(), "bob")
	require.NoError(t, err)
	assert.NotEqual(t, a.Template, b.Template)
}
