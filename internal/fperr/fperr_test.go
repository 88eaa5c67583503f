// ABOUTME: Tests for the error taxonomy: code matching, retryability, extraction
// ABOUTME: Validates errors.Is semantics against sentinel values

package fperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	err := New(DeviceBusy, "device %s has an active session", "zk-1")

	assert.True(t, errors.Is(err, DeviceBusy))
	assert.False(t, errors.Is(err, DeviceNotFound))
	assert.Equal(t, 1002, err.Code)
	assert.Equal(t, "DEVICE_BUSY", err.Name)
	assert.Contains(t, err.Error(), "zk-1")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("usb read: broken pipe")
	err := Wrap(DeviceDisconnected, cause)

	assert.True(t, errors.Is(err, DeviceDisconnected))
	assert.ErrorIs(t, err, cause)
}

func TestRetryable(t *testing.T) {
	retryable := []*Error{DeviceBusy, DeviceTimeout, LowQuality, NoFingerprintDetected, TemplateExtractionFailed, MatchFailed}
	for _, e := range retryable {
		assert.True(t, e.Retryable(), "%s should be retryable", e.Name)
	}

	terminal := []*Error{DeviceNotFound, DeviceDisconnected, EnrollmentFailed, TemplateNotFound, Internal, SessionTimeout}
	for _, e := range terminal {
		assert.False(t, e.Retryable(), "%s should not be retryable", e.Name)
	}
}

func TestWithDetails(t *testing.T) {
	err := New(EnrollmentFailed, "retry budget exhausted").WithDetails(map[string]any{
		"slot":    1,
		"retries": 3,
	})

	require.NotNil(t, err.Details)
	assert.Equal(t, 1, err.Details["slot"])
	assert.True(t, errors.Is(err, EnrollmentFailed))
}

func TestFrom(t *testing.T) {
	t.Run("extracts engine errors through wrapping", func(t *testing.T) {
		inner := New(LowQuality, "quality 42 below minimum 60")
		wrapped := fmt.Errorf("capture: %w", inner)

		got := From(wrapped)
		assert.Equal(t, CodeLowQuality, got.Code)
	})

	t.Run("maps foreign errors to INTERNAL_ERROR", func(t *testing.T) {
		got := From(fmt.Errorf("something unexpected"))
		assert.Equal(t, CodeInternal, got.Code)
		assert.Equal(t, "INTERNAL_ERROR", got.Name)
	})
}
