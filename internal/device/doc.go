// Package device manages the lifecycle of attached fingerprint readers.
//
// # Hub
//
// The Hub is the registry of enumerated devices. Each device moves through
// disconnected -> connected -> busy and back; exactly one Lease may be
// outstanding per device. Acquire fails fast with DEVICE_BUSY rather than
// queuing — callers that want an enrollment queue build it on top.
//
// # Leases
//
// A Lease carries a context that is cancelled when the lease ends:
//
//   - Release(): normal return to connected, idempotent
//   - operation timeout: forced revocation surfacing DEVICE_TIMEOUT
//   - Detach(): USB removal surfacing DEVICE_DISCONNECTED
//
// Capture code derives its per-step contexts from Lease.Context so a
// disconnect mid-scan aborts the scan immediately.
package device
