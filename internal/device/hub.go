// ABOUTME: Registry of attached fingerprint readers with exclusive leasing
// ABOUTME: One lease per device; second acquire fails fast with DEVICE_BUSY, no queuing

package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devkazuto/fingerprint-service/internal/fperr"
)

// Hub tracks every attached reader and enforces the one-lease-per-device
// invariant. Operations against different devices run fully concurrently;
// operations against the same device are serialized by lease acquisition.
type Hub struct {
	mu        sync.Mutex
	devices   map[string]*slot
	opTimeout time.Duration
	logger    *slog.Logger
}

type slot struct {
	info  Info
	lease *Lease
}

// NewHub creates a Hub. opTimeout bounds how long a lease may be held
// before it is forcibly revoked with DEVICE_TIMEOUT; zero means the
// documented default of 30s.
func NewHub(opTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &Hub{
		devices:   make(map[string]*slot),
		opTimeout: opTimeout,
		logger:    logger.With("component", "device-hub"),
	}
}

// Attach registers a reader (or reconnects a previously detached one).
// Called by hardware enumeration.
func (h *Hub) Attach(info Info) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info.State = StateConnected
	info.AttachedAt = time.Now()
	h.devices[info.ID] = &slot{info: info}

	h.logger.Info("device attached",
		"device_id", info.ID,
		"serial", info.Serial,
		"model", info.Model,
	)
}

// Detach transitions a reader to disconnected, cancelling any in-flight
// lease with DEVICE_DISCONNECTED. Called on USB removal.
func (h *Hub) Detach(deviceID string) {
	h.mu.Lock()
	s, ok := h.devices[deviceID]
	if !ok {
		h.mu.Unlock()
		return
	}
	s.info.State = StateDisconnected
	lease := s.lease
	s.lease = nil
	h.mu.Unlock()

	if lease != nil {
		lease.expire(fperr.New(fperr.DeviceDisconnected, "device %s removed during operation", deviceID))
	}

	h.logger.Info("device detached", "device_id", deviceID)
}

// MarkError moves a reader into the error state (driver init failure).
// The device stays enumerated but cannot be acquired until re-attached.
func (h *Hub) MarkError(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.devices[deviceID]; ok {
		s.info.State = StateError
	}
}

// Get returns a snapshot of one device.
func (h *Hub) Get(deviceID string) (Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.devices[deviceID]
	if !ok {
		return Info{}, fperr.New(fperr.DeviceNotFound, "device %s is not attached", deviceID)
	}
	return s.info, nil
}

// List returns snapshots of all known devices.
func (h *Hub) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	infos := make([]Info, 0, len(h.devices))
	for _, s := range h.devices {
		infos = append(infos, s.info)
	}
	return infos
}

// Acquire takes the exclusive lease on a device. A second acquire on a
// busy device fails immediately with DEVICE_BUSY before any hardware I/O;
// queuing is a caller concern. The lease is forcibly revoked with
// DEVICE_TIMEOUT if held past the hub's operation timeout.
func (h *Hub) Acquire(deviceID string) (*Lease, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.devices[deviceID]
	if !ok {
		return nil, fperr.New(fperr.DeviceNotFound, "device %s is not attached", deviceID)
	}

	switch s.info.State {
	case StateBusy:
		return nil, fperr.New(fperr.DeviceBusy, "device %s has an active session", deviceID)
	case StateDisconnected:
		return nil, fperr.New(fperr.DeviceDisconnected, "device %s is disconnected", deviceID)
	case StateError:
		return nil, fperr.New(fperr.DeviceInitFailed, "device %s failed initialization", deviceID)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	lease := &Lease{
		id:       uuid.New().String(),
		deviceID: deviceID,
		hub:      h,
		ctx:      ctx,
		cancel:   cancel,
	}
	lease.timer = time.AfterFunc(h.opTimeout, func() {
		h.revoke(lease, fperr.New(fperr.DeviceTimeout, "operation on device %s exceeded %s", deviceID, h.opTimeout))
	})

	s.info.State = StateBusy
	s.lease = lease

	h.logger.Debug("lease acquired", "device_id", deviceID, "lease_id", lease.id)
	return lease, nil
}

// revoke releases the device slot and cancels the lease context with the
// given cause. A nil cause is a normal release.
func (h *Hub) revoke(lease *Lease, cause *fperr.Error) {
	h.mu.Lock()
	s, ok := h.devices[lease.deviceID]
	if ok && s.lease == lease {
		s.lease = nil
		if s.info.State == StateBusy {
			s.info.State = StateConnected
		}
	}
	h.mu.Unlock()

	if cause != nil {
		lease.expire(cause)
		h.logger.Warn("lease revoked",
			"device_id", lease.deviceID,
			"lease_id", lease.id,
			"cause", cause.Name,
		)
		return
	}

	lease.expire(nil)
	h.logger.Debug("lease released", "device_id", lease.deviceID, "lease_id", lease.id)
}

// Lease is the exclusive right to drive one device. Its context is
// cancelled when the lease is released, revoked on timeout, or the device
// disconnects; in-flight captures observe the cancellation.
type Lease struct {
	id       string
	deviceID string
	hub      *Hub
	ctx      context.Context
	cancel   context.CancelCauseFunc
	timer    *time.Timer

	once  sync.Once
	cause *fperr.Error
}

// DeviceID returns the leased device's identifier.
func (l *Lease) DeviceID() string { return l.deviceID }

// Context is cancelled when the lease ends for any reason.
func (l *Lease) Context() context.Context { return l.ctx }

// Release returns the device to the connected state. Idempotent.
func (l *Lease) Release() {
	l.hub.revoke(l, nil)
}

// Err reports why the lease ended: DEVICE_TIMEOUT, DEVICE_DISCONNECTED,
// or nil for a normal release (or a still-active lease).
func (l *Lease) Err() *fperr.Error {
	select {
	case <-l.ctx.Done():
		return l.cause
	default:
		return nil
	}
}

// expire cancels the lease context exactly once, recording the cause.
func (l *Lease) expire(cause *fperr.Error) {
	l.once.Do(func() {
		l.cause = cause
		if l.timer != nil {
			l.timer.Stop()
		}
		if cause != nil {
			l.cancel(cause)
		} else {
			l.cancel(context.Canceled)
		}
	})
}
