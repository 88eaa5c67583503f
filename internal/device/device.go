// ABOUTME: Device model for ZKTeco-style USB fingerprint readers
// ABOUTME: Lifecycle states and capability descriptors used by the Hub

package device

import "time"

// State is the lifecycle state of a reader.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateBusy         State = "busy"
	StateError        State = "error"
)

// Capability describes what a reader can produce.
type Capability struct {
	ResolutionDPI int
	ImageWidth    int
	ImageHeight   int
}

// Info is the public snapshot of a device.
type Info struct {
	ID         string
	Serial     string
	Model      string
	Firmware   string
	Capability Capability
	State      State
	AttachedAt time.Time
}
