// ABOUTME: Vendor SDK boundary for fingerprint hardware and biometrics
// ABOUTME: Defines the Driver interface the capture, enroll, and match layers call into

package driver

import (
	"context"
	"errors"
)

// ErrNoFinger indicates no finger was placed on the sensor before the wait deadline.
var ErrNoFinger = errors.New("no finger detected")

// ErrExtractionFailed indicates the biometric algorithm could not extract a
// template from the captured image (e.g. insufficient minutiae). Distinct
// from low quality: extraction can fail even on a decently-scored image.
var ErrExtractionFailed = errors.New("template extraction failed")

// ErrInconsistentSamples indicates the enrollment samples do not appear to
// be scans of the same finger and cannot be merged.
var ErrInconsistentSamples = errors.New("samples are not mutually consistent")

// Driver is the opaque vendor capability the engine drives scans through.
// Implementations wrap a real biometric SDK or simulate one for tests.
// Templates are opaque byte blobs; only a Driver can interpret them.
type Driver interface {
	// WaitForFinger blocks until a finger is present on the sensor or ctx
	// expires, in which case ErrNoFinger is returned.
	WaitForFinger(ctx context.Context, deviceID string) error

	// CaptureImage acquires one raw image from the sensor.
	CaptureImage(ctx context.Context, deviceID string) ([]byte, error)

	// ScoreQuality rates a raw image in [0,100]. Scoring happens before
	// extraction is attempted so low-quality frames never reach the
	// extractor.
	ScoreQuality(image []byte) (int, error)

	// ExtractTemplate converts a raw image into a matchable template.
	// Returns ErrExtractionFailed when the algorithm cannot find enough
	// features.
	ExtractTemplate(image []byte) ([]byte, error)

	// Compare scores two templates against each other, returning a
	// confidence in [0,100]. Deterministic for a given pair.
	Compare(ctx context.Context, probe, candidate []byte) (float64, error)

	// MergeTemplates combines enrollment samples of the same finger into a
	// single template. Returns ErrInconsistentSamples when the samples are
	// judged to be of different fingers.
	MergeTemplates(ctx context.Context, parts [][]byte) ([]byte, error)
}

// FrameSource is the hardware half of the capability: finger detection and
// raw image acquisition. The SourceAFIS driver delegates these to an
// injected source since the matching library has no sensor access.
type FrameSource interface {
	WaitForFinger(ctx context.Context, deviceID string) error
	CaptureImage(ctx context.Context, deviceID string) ([]byte, error)
}
