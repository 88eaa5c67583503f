// ABOUTME: Enrollment orchestrator: three gated captures merged into one template
// ABOUTME: Explicit state machine with per-slot retry budget and consistency-checked merge

package enroll

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/devkazuto/fingerprint-service/internal/capture"
	"github.com/devkazuto/fingerprint-service/internal/driver"
	"github.com/devkazuto/fingerprint-service/internal/fperr"
)

// Phase is the enrollment state machine phase.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseAwaitingScan Phase = "awaiting_scan"
	PhaseValidating   Phase = "validating"
	PhaseMerging      Phase = "merging"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// State is a snapshot of the machine: the phase plus which sample slot is
// being filled and how many retries that slot has burned.
type State struct {
	Phase   Phase
	Slot    int // 1-based sample slot
	Retries int // failed attempts on the current slot
}

// Progress is reported to the observer on every transition.
type Progress struct {
	State          State
	ScansCompleted int
	ScansRequired  int
	// Quality of the attempt that caused this transition; -1 when the
	// attempt failed before scoring.
	Quality int
}

// Capturer produces one scan attempt per call. The session layer binds it
// to a device lease and purpose.
type Capturer interface {
	Capture(ctx context.Context) (*capture.Attempt, error)
}

// Merger combines consistent samples, normally a driver.Driver.
type Merger interface {
	MergeTemplates(ctx context.Context, parts [][]byte) ([]byte, error)
}

// Config holds enrollment policy.
type Config struct {
	Samples           int           // captures required, 3 per the protocol
	MinQuality        int           // gate for accepting a capture, 60
	MaxRetriesPerSlot int           // failed attempts tolerated per slot
	InterScanDelay    time.Duration // pause between accepted captures
}

// Template is the durable enrollment artifact. Persistence is the
// caller's responsibility.
type Template struct {
	ID        string
	UserID    string
	Template  []byte
	Quality   int
	CreatedAt time.Time
}

// Orchestrator runs enrollments. Stateless between runs; all per-run
// state lives on the stack of Run.
type Orchestrator struct {
	cfg    Config
	merger Merger
	logger *slog.Logger
}

// NewOrchestrator creates an enrollment orchestrator.
func NewOrchestrator(cfg Config, merger Merger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 3
	}
	return &Orchestrator{
		cfg:    cfg,
		merger: merger,
		logger: logger.With("component", "enroll"),
	}
}

// Run drives one enrollment to completion. Each accepted capture advances
// the slot; a rejected one stays on the same slot and burns a retry. The
// retry budget exhausting, or the merged samples proving mutually
// inconsistent, fails the whole enrollment with ENROLLMENT_FAILED.
// Device-level failures from the capturer propagate unchanged.
func (o *Orchestrator) Run(ctx context.Context, userID string, capturer Capturer, notify func(Progress)) (*Template, error) {
	if notify == nil {
		notify = func(Progress) {}
	}

	state := State{Phase: PhaseAwaitingScan, Slot: 1}
	accepted := make([]*capture.Attempt, 0, o.cfg.Samples)

	report := func(quality int) {
		notify(Progress{
			State:          state,
			ScansCompleted: len(accepted),
			ScansRequired:  o.cfg.Samples,
			Quality:        quality,
		})
	}
	report(-1)

	for len(accepted) < o.cfg.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt, err := capturer.Capture(ctx)
		if err != nil {
			var fe *fperr.Error
			if errors.As(err, &fe) && fe.Retryable() {
				if failed := o.slotFailed(&state, report); failed != nil {
					return nil, failed
				}
				continue
			}
			return nil, err
		}

		state.Phase = PhaseValidating
		report(attempt.Quality)

		if !attempt.MeetsThreshold {
			o.logger.Info("capture rejected by quality gate",
				"user_id", userID,
				"slot", state.Slot,
				"quality", attempt.Quality,
				"gate", o.cfg.MinQuality,
			)
			if failed := o.slotFailed(&state, report); failed != nil {
				return nil, failed
			}
			continue
		}

		accepted = append(accepted, attempt)
		state = State{Phase: PhaseAwaitingScan, Slot: state.Slot + 1}
		report(attempt.Quality)

		if len(accepted) < o.cfg.Samples && o.cfg.InterScanDelay > 0 {
			select {
			case <-time.After(o.cfg.InterScanDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	state = State{Phase: PhaseMerging, Slot: o.cfg.Samples}
	report(-1)

	parts := make([][]byte, len(accepted))
	qualities := make([]int, len(accepted))
	for i, a := range accepted {
		parts[i] = a.Template
		qualities[i] = a.Quality
	}

	merged, err := o.merger.MergeTemplates(ctx, parts)
	if err != nil {
		if errors.Is(err, driver.ErrInconsistentSamples) {
			return nil, fperr.New(fperr.EnrollmentFailed, "scans are inconsistent - captures do not appear to be the same finger").
				WithDetails(map[string]any{"scans_completed": len(accepted)})
		}
		return nil, fperr.Wrap(fperr.EnrollmentFailed, err)
	}

	tpl := &Template{
		ID:        uuid.New().String(),
		UserID:    userID,
		Template:  merged,
		Quality:   mergedQuality(qualities, o.cfg.MinQuality),
		CreatedAt: time.Now(),
	}

	state = State{Phase: PhaseComplete, Slot: o.cfg.Samples}
	report(tpl.Quality)

	o.logger.Info("enrollment complete",
		"user_id", userID,
		"enrollment_id", tpl.ID,
		"quality", tpl.Quality,
	)
	return tpl, nil
}

// slotFailed burns one retry on the current slot, failing the enrollment
// once the budget is spent.
func (o *Orchestrator) slotFailed(state *State, report func(int)) *fperr.Error {
	state.Retries++
	if state.Retries >= o.cfg.MaxRetriesPerSlot {
		state.Phase = PhaseError
		report(-1)
		return fperr.New(fperr.EnrollmentFailed, "retry budget exhausted on scan %d", state.Slot).
			WithDetails(map[string]any{"slot": state.Slot, "retries": state.Retries})
	}
	state.Phase = PhaseAwaitingScan
	report(-1)
	return nil
}

// mergedQuality folds constituent qualities into the final enrollment
// quality. The mean is penalized by half the spread, so three consistent
// 85s outscore an 85/60/95 mix; the result never exceeds the best
// constituent and never drops below the gating floor.
func mergedQuality(qualities []int, floor int) int {
	if len(qualities) == 0 {
		return 0
	}

	var sum, max float64
	for _, q := range qualities {
		v := float64(q)
		sum += v
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(qualities))

	var sq float64
	for _, q := range qualities {
		d := float64(q) - mean
		sq += d * d
	}
	spread := math.Sqrt(sq / float64(len(qualities)))

	merged := int(math.Round(mean - spread/2))
	if merged > int(max) {
		merged = int(max)
	}
	if merged < floor {
		merged = floor
	}
	return merged
}
