// Package config loads and validates the service configuration.
//
// Configuration is YAML with ${VAR} environment expansion. Timing fields
// are written as Go duration strings ("30s", "500ms") and parsed into
// time.Duration after unmarshaling. Defaults match the documented
// protocol: 60/50 quality gates, 70 match thresholds, 30s timeouts.
package config
