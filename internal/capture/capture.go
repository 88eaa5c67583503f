// ABOUTME: Single scan attempt pipeline: wait-for-finger, capture, score, extract
// ABOUTME: Low-quality attempts are returned to the caller, never promoted to templates

package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devkazuto/fingerprint-service/internal/device"
	"github.com/devkazuto/fingerprint-service/internal/driver"
	"github.com/devkazuto/fingerprint-service/internal/fperr"
)

// Purpose is what a scan will be used for. It selects the quality gate.
type Purpose string

const (
	PurposeEnroll   Purpose = "enroll"
	PurposeVerify   Purpose = "verify"
	PurposeIdentify Purpose = "identify"
)

// Attempt is one completed capture. Immutable once created. A below-gate
// attempt has MeetsThreshold=false and no template; the orchestrator
// decides whether to retry.
type Attempt struct {
	ID             string
	SessionID      string
	DeviceID       string
	Quality        int
	Template       []byte
	MeetsThreshold bool
	CapturedAt     time.Time
}

// Hooks are optional pipeline progress callbacks.
type Hooks struct {
	// FingerDetected fires after the sensor reports finger presence,
	// before the image is read.
	FingerDetected func()
}

// Config holds the pipeline quality gates and timing.
type Config struct {
	FingerTimeout     time.Duration
	EnrollmentMinimum int
	MatchMinimum      int
}

// Pipeline drives single scan attempts against a leased device.
type Pipeline struct {
	drv    driver.Driver
	cfg    Config
	logger *slog.Logger
}

// NewPipeline creates a Pipeline on the given driver.
func NewPipeline(drv driver.Driver, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FingerTimeout <= 0 {
		cfg.FingerTimeout = 30 * time.Second
	}
	return &Pipeline{
		drv:    drv,
		cfg:    cfg,
		logger: logger.With("component", "capture"),
	}
}

// MinQuality returns the gate for a purpose: 60 for enrollment, 50 for
// verification and identification.
func (p *Pipeline) MinQuality(purpose Purpose) int {
	if purpose == PurposeEnroll {
		return p.cfg.EnrollmentMinimum
	}
	return p.cfg.MatchMinimum
}

// Capture runs one scan attempt on the leased device. The ctx should be
// derived from the session (and transitively the lease); finger wait is
// additionally bounded by the configured finger timeout.
//
// Failure modes: NO_FINGERPRINT_DETECTED when no finger arrives in time,
// TEMPLATE_EXTRACTION_FAILED when the algorithm cannot extract features,
// and whatever ended the lease (DEVICE_TIMEOUT, DEVICE_DISCONNECTED) when
// the device went away mid-scan. A low-quality scan is not a failure: the
// attempt is returned with MeetsThreshold=false and no template.
func (p *Pipeline) Capture(ctx context.Context, lease *device.Lease, sessionID string, purpose Purpose, hooks Hooks) (*Attempt, error) {
	deviceID := lease.DeviceID()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.FingerTimeout)
	defer cancel()

	if err := p.drv.WaitForFinger(waitCtx, deviceID); err != nil {
		if leaseErr := lease.Err(); leaseErr != nil {
			return nil, leaseErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, driver.ErrNoFinger) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fperr.New(fperr.NoFingerprintDetected, "no finger placed on device %s within %s", deviceID, p.cfg.FingerTimeout)
		}
		return nil, fperr.Wrap(fperr.Internal, err)
	}

	if hooks.FingerDetected != nil {
		hooks.FingerDetected()
	}

	frame, err := p.drv.CaptureImage(ctx, deviceID)
	if err != nil {
		if leaseErr := lease.Err(); leaseErr != nil {
			return nil, leaseErr
		}
		return nil, fperr.Wrap(fperr.Internal, err)
	}

	quality, err := p.drv.ScoreQuality(frame)
	if err != nil {
		return nil, fperr.Wrap(fperr.Internal, err)
	}
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	attempt := &Attempt{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Quality:    quality,
		CapturedAt: time.Now(),
	}

	gate := p.MinQuality(purpose)
	if quality < gate {
		// Below the gate: the scan is reported so the orchestrator can
		// retry, but extraction is never attempted on it.
		p.logger.Debug("scan below quality gate",
			"session_id", sessionID,
			"device_id", deviceID,
			"quality", quality,
			"gate", gate,
		)
		return attempt, nil
	}

	template, err := p.drv.ExtractTemplate(frame)
	if err != nil {
		if errors.Is(err, driver.ErrExtractionFailed) {
			return nil, fperr.New(fperr.TemplateExtractionFailed,
				"extraction failed on device %s despite quality %d", deviceID, quality).
				WithDetails(map[string]any{"device_id": deviceID, "quality": quality})
		}
		return nil, fperr.Wrap(fperr.Internal, err)
	}

	attempt.Template = template
	attempt.MeetsThreshold = true

	p.logger.Debug("scan captured",
		"session_id", sessionID,
		"device_id", deviceID,
		"quality", quality,
		"template_bytes", len(template),
	)
	return attempt, nil
}
