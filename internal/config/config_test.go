// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files; asserts documented defaults survive partial configs

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/fp.db
logging:
  level: debug
  format: json
quality:
  enrollment_minimum: 65
  match_minimum: 55
  verify_threshold: 80
capture:
  finger_timeout: 10s
  operation_timeout: 20s
  inter_scan_delay: 250ms
enrollment:
  samples: 3
  max_retries_per_slot: 5
events:
  heartbeat_interval: 15s
  subscriber_timeout: 45s
devices:
  driver: simulated
  simulated:
    - id: zk-1
      serial: ZK4500-001
      model: ZK4500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fp.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 65, cfg.Quality.EnrollmentMinimum)
	assert.Equal(t, 55, cfg.Quality.MatchMinimum)
	assert.Equal(t, 80.0, cfg.Quality.VerifyThreshold)
	assert.Equal(t, 10*time.Second, cfg.Capture.FingerTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.InterScanDelay)
	assert.Equal(t, 5, cfg.Enrollment.MaxRetriesPerSlot)
	assert.Equal(t, 15*time.Second, cfg.Events.HeartbeatInterval)
	require.Len(t, cfg.Devices.Simulated, 1)
	assert.Equal(t, "ZK4500-001", cfg.Devices.Simulated[0].Serial)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/fp.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Documented protocol defaults
	assert.Equal(t, 60, cfg.Quality.EnrollmentMinimum)
	assert.Equal(t, 50, cfg.Quality.MatchMinimum)
	assert.Equal(t, 70.0, cfg.Quality.VerifyThreshold)
	assert.Equal(t, 70.0, cfg.Quality.IdentifyThreshold)
	assert.Equal(t, 30*time.Second, cfg.Capture.FingerTimeout)
	assert.Equal(t, 30*time.Second, cfg.Capture.OperationTimeout)
	assert.Equal(t, 3, cfg.Enrollment.Samples)
	assert.Equal(t, 30*time.Second, cfg.Events.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Events.SubscriberTimeout)
	assert.Equal(t, "simulated", cfg.Devices.Driver)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("FP_DB_PATH", "/var/lib/fp/templates.db")

	path := writeConfig(t, `
database:
  path: ${FP_DB_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fp/templates.db", cfg.Database.Path)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing database path",
			yaml:    `logging: {level: info}`,
			wantErr: "database.path is required",
		},
		{
			name: "quality gate out of range",
			yaml: `
database: {path: /tmp/fp.db}
quality: {enrollment_minimum: 150}
`,
			wantErr: "enrollment_minimum",
		},
		{
			name: "too many samples",
			yaml: `
database: {path: /tmp/fp.db}
enrollment: {samples: 5}
`,
			wantErr: "samples",
		},
		{
			name: "subscriber timeout below heartbeat",
			yaml: `
database: {path: /tmp/fp.db}
events: {heartbeat_interval: 30s, subscriber_timeout: 10s}
`,
			wantErr: "subscriber_timeout",
		},
		{
			name: "unknown driver",
			yaml: `
database: {path: /tmp/fp.db}
devices: {driver: cloud}
`,
			wantErr: "devices.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBadDuration(t *testing.T) {
	path := writeConfig(t, `
database: {path: /tmp/fp.db}
capture: {finger_timeout: "ten seconds"}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finger_timeout")
}
