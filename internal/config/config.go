// ABOUTME: Configuration loading and parsing for the fingerprint service
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fingerprint service configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Quality    QualityConfig    `yaml:"quality"`
	Capture    CaptureConfig    `yaml:"capture"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Events     EventsConfig     `yaml:"events"`
	Devices    DevicesConfig    `yaml:"devices"`
}

// DatabaseConfig holds template store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// QualityConfig holds the quality gates and match thresholds.
// Quality scores are integers in [0,100]; confidence thresholds are
// floating point in the same range.
type QualityConfig struct {
	EnrollmentMinimum    int     `yaml:"enrollment_minimum"`
	MatchMinimum         int     `yaml:"match_minimum"`
	VerifyThreshold      float64 `yaml:"verify_threshold"`
	IdentifyThreshold    float64 `yaml:"identify_threshold"`
	ConsistencyThreshold float64 `yaml:"consistency_threshold"`
}

// CaptureConfig holds scan timing configuration
type CaptureConfig struct {
	FingerTimeout    time.Duration `yaml:"-"`
	OperationTimeout time.Duration `yaml:"-"`
	InterScanDelay   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	FingerTimeoutRaw    string `yaml:"finger_timeout"`
	OperationTimeoutRaw string `yaml:"operation_timeout"`
	InterScanDelayRaw   string `yaml:"inter_scan_delay"`
}

// EnrollmentConfig holds enrollment flow configuration
type EnrollmentConfig struct {
	Samples           int `yaml:"samples"`
	MaxRetriesPerSlot int `yaml:"max_retries_per_slot"`
}

// EventsConfig holds broadcaster timing configuration
type EventsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	SubscriberTimeout time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	SubscriberTimeoutRaw string `yaml:"subscriber_timeout"`
}

// DevicesConfig holds device enumeration configuration.
// Simulated entries are attached at startup when no physical reader is
// present, which keeps dev environments usable without hardware.
type DevicesConfig struct {
	// Driver selects the biometric backend: "simulated" or "sourceafis".
	Driver    string            `yaml:"driver"`
	Simulated []SimulatedDevice `yaml:"simulated"`
}

// SimulatedDevice describes one simulated reader to enumerate at startup
type SimulatedDevice struct {
	ID     string `yaml:"id"`
	Serial string `yaml:"serial"`
	Model  string `yaml:"model"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Quality: QualityConfig{
			EnrollmentMinimum:    60,
			MatchMinimum:         50,
			VerifyThreshold:      70,
			IdentifyThreshold:    70,
			ConsistencyThreshold: 40,
		},
		Capture: CaptureConfig{
			FingerTimeout:    30 * time.Second,
			OperationTimeout: 30 * time.Second,
			InterScanDelay:   500 * time.Millisecond,
		},
		Enrollment: EnrollmentConfig{
			Samples:           3,
			MaxRetriesPerSlot: 3,
		},
		Events: EventsConfig{
			HeartbeatInterval: 30 * time.Second,
			SubscriberTimeout: 60 * time.Second,
		},
		Devices: DevicesConfig{Driver: "simulated"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Quality.EnrollmentMinimum < 0 || c.Quality.EnrollmentMinimum > 100 {
		return fmt.Errorf("quality.enrollment_minimum must be in [0,100], got %d", c.Quality.EnrollmentMinimum)
	}
	if c.Quality.MatchMinimum < 0 || c.Quality.MatchMinimum > 100 {
		return fmt.Errorf("quality.match_minimum must be in [0,100], got %d", c.Quality.MatchMinimum)
	}
	if c.Quality.VerifyThreshold < 0 || c.Quality.VerifyThreshold > 100 {
		return fmt.Errorf("quality.verify_threshold must be in [0,100], got %v", c.Quality.VerifyThreshold)
	}
	if c.Quality.IdentifyThreshold < 0 || c.Quality.IdentifyThreshold > 100 {
		return fmt.Errorf("quality.identify_threshold must be in [0,100], got %v", c.Quality.IdentifyThreshold)
	}

	if c.Enrollment.Samples < 1 || c.Enrollment.Samples > 3 {
		return fmt.Errorf("enrollment.samples must be in [1,3], got %d", c.Enrollment.Samples)
	}
	if c.Enrollment.MaxRetriesPerSlot < 0 {
		return fmt.Errorf("enrollment.max_retries_per_slot must be >= 0, got %d", c.Enrollment.MaxRetriesPerSlot)
	}

	if c.Events.HeartbeatInterval <= 0 {
		return fmt.Errorf("events.heartbeat_interval must be positive")
	}
	if c.Events.SubscriberTimeout < c.Events.HeartbeatInterval {
		return fmt.Errorf("events.subscriber_timeout must be at least events.heartbeat_interval")
	}

	switch c.Devices.Driver {
	case "", "simulated", "sourceafis":
	default:
		return fmt.Errorf("devices.driver must be \"simulated\" or \"sourceafis\", got %q", c.Devices.Driver)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Capture.FingerTimeoutRaw, &cfg.Capture.FingerTimeout, "finger_timeout"},
		{cfg.Capture.OperationTimeoutRaw, &cfg.Capture.OperationTimeout, "operation_timeout"},
		{cfg.Capture.InterScanDelayRaw, &cfg.Capture.InterScanDelay, "inter_scan_delay"},
		{cfg.Events.HeartbeatIntervalRaw, &cfg.Events.HeartbeatInterval, "heartbeat_interval"},
		{cfg.Events.SubscriberTimeoutRaw, &cfg.Events.SubscriberTimeout, "subscriber_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
