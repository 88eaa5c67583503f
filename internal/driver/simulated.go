// ABOUTME: Scriptable in-memory Driver for dev mode and tests
// ABOUTME: Scans are queued per device; comparison defaults to byte-overlap similarity

package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Scan is one scripted scan attempt for the simulated driver.
type Scan struct {
	// Quality reported by ScoreQuality for this frame.
	Quality int
	// Template returned by ExtractTemplate for this frame.
	Template []byte
	// Delay before the finger is "placed". WaitForFinger sleeps this long.
	Delay time.Duration
	// ExtractFails makes ExtractTemplate return ErrExtractionFailed.
	ExtractFails bool
}

// CompareFunc scores two templates. Tests install one to control
// confidence outcomes exactly.
type CompareFunc func(probe, candidate []byte) (float64, error)

// Simulated is an in-memory Driver. Scans are queued per device with
// QueueScan; an empty queue means no finger is ever placed, so
// WaitForFinger blocks until its context expires.
type Simulated struct {
	mu      sync.Mutex
	queues  map[string][]Scan
	compare CompareFunc
}

// NewSimulated creates an empty simulated driver.
func NewSimulated() *Simulated {
	return &Simulated{
		queues: make(map[string][]Scan),
	}
}

// QueueScan appends scripted scans for a device.
func (d *Simulated) QueueScan(deviceID string, scans ...Scan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[deviceID] = append(d.queues[deviceID], scans...)
}

// SetCompare overrides the comparison function.
func (d *Simulated) SetCompare(fn CompareFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compare = fn
}

// WaitForFinger waits for the next scripted scan's delay, or blocks until
// ctx expires when nothing is queued.
func (d *Simulated) WaitForFinger(ctx context.Context, deviceID string) error {
	d.mu.Lock()
	queue := d.queues[deviceID]
	var delay time.Duration
	if len(queue) > 0 {
		delay = queue[0].Delay
	}
	empty := len(queue) == 0
	d.mu.Unlock()

	if empty {
		<-ctx.Done()
		return ErrNoFinger
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ErrNoFinger
		}
	}
	return nil
}

// simFrame is the synthetic "raw image" carrying the scripted outcome
// through the capture pipeline.
type simFrame struct {
	Quality      int    `json:"quality"`
	Template     []byte `json:"template"`
	ExtractFails bool   `json:"extract_fails"`
}

// CaptureImage pops the next scripted scan and encodes it as a frame.
func (d *Simulated) CaptureImage(ctx context.Context, deviceID string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue := d.queues[deviceID]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scan queued for device %s", deviceID)
	}
	scan := queue[0]
	d.queues[deviceID] = queue[1:]

	return json.Marshal(simFrame{
		Quality:      scan.Quality,
		Template:     scan.Template,
		ExtractFails: scan.ExtractFails,
	})
}

// ScoreQuality reads the scripted quality out of the frame.
func (d *Simulated) ScoreQuality(image []byte) (int, error) {
	frame, err := decodeFrame(image)
	if err != nil {
		return 0, err
	}
	return frame.Quality, nil
}

// ExtractTemplate returns the scripted template or failure.
func (d *Simulated) ExtractTemplate(image []byte) ([]byte, error) {
	frame, err := decodeFrame(image)
	if err != nil {
		return nil, err
	}
	if frame.ExtractFails {
		return nil, ErrExtractionFailed
	}
	return frame.Template, nil
}

// Compare uses the installed CompareFunc, falling back to byte-overlap
// similarity: identical templates score 100, disjoint ones near 0.
func (d *Simulated) Compare(ctx context.Context, probe, candidate []byte) (float64, error) {
	d.mu.Lock()
	fn := d.compare
	d.mu.Unlock()

	if fn != nil {
		return fn(probe, candidate)
	}
	return byteOverlap(probe, candidate), nil
}

// MergeTemplates requires every pair to clear the default consistency
// floor and returns the first sample as the representative.
func (d *Simulated) MergeTemplates(ctx context.Context, parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no samples to merge")
	}
	for i := 0; i < len(parts); i++ {
		for j := i + 1; j < len(parts); j++ {
			conf, err := d.Compare(ctx, parts[i], parts[j])
			if err != nil {
				return nil, err
			}
			if conf < defaultScoreCeiling {
				return nil, fmt.Errorf("%w: samples %d and %d score %.1f", ErrInconsistentSamples, i, j, conf)
			}
		}
	}
	return parts[0], nil
}

func decodeFrame(image []byte) (*simFrame, error) {
	var frame simFrame
	if err := json.Unmarshal(image, &frame); err != nil {
		return nil, fmt.Errorf("decoding simulated frame: %w", err)
	}
	return &frame, nil
}

// byteOverlap scores the fraction of positions where both templates carry
// the same byte.
func byteOverlap(a, b []byte) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if bytes.Equal(a, b) {
		return 100
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	same := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			same++
		}
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 100 * float64(same) / float64(longest)
}
