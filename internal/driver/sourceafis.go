// ABOUTME: SourceAFIS-backed implementation of the Driver biometric half
// ABOUTME: Extraction and matching via github.com/jtejido/sourceafis, templates serialized as CBOR

package driver

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/jtejido/sourceafis"
	safisconfig "github.com/jtejido/sourceafis/config"
	"github.com/jtejido/sourceafis/templates"
)

// defaultScoreCeiling is the raw SourceAFIS score mapped onto confidence
// saturation. The library reports unbounded similarity scores; 40 is the
// conventional accept threshold, so the mapping puts it at 50 confidence
// and saturates toward 100 for self-matches.
const defaultScoreCeiling = 40.0

var loadConfigOnce sync.Once

// SourceAFIS implements Driver using the SourceAFIS matching algorithm for
// the biometric operations and an injected FrameSource for sensor access.
type SourceAFIS struct {
	frames           FrameSource
	scoreCeiling     float64
	consistencyFloor float64
}

// NewSourceAFIS creates a driver backed by the SourceAFIS library.
// The frame source supplies raw sensor images; pass the simulated driver
// in dev mode. consistencyFloor is the minimum pairwise confidence for
// enrollment samples to be treated as the same finger (<=0 uses the
// default of 40).
func NewSourceAFIS(frames FrameSource, consistencyFloor float64) *SourceAFIS {
	loadConfigOnce.Do(func() {
		safisconfig.LoadDefaultConfig()
		safisconfig.Config.Workers = runtime.NumCPU()
	})
	if consistencyFloor <= 0 {
		consistencyFloor = defaultScoreCeiling
	}
	return &SourceAFIS{
		frames:           frames,
		scoreCeiling:     defaultScoreCeiling,
		consistencyFloor: consistencyFloor,
	}
}

// WaitForFinger delegates to the frame source.
func (d *SourceAFIS) WaitForFinger(ctx context.Context, deviceID string) error {
	return d.frames.WaitForFinger(ctx, deviceID)
}

// CaptureImage delegates to the frame source.
func (d *SourceAFIS) CaptureImage(ctx context.Context, deviceID string) ([]byte, error) {
	return d.frames.CaptureImage(ctx, deviceID)
}

// ScoreQuality rates a raw frame from its grayscale statistics. Ridge
// detail shows up as intensity variance and a wide dynamic range; flat or
// smeared frames score low.
func (d *SourceAFIS) ScoreQuality(image []byte) (int, error) {
	gray, err := decodeGray(image)
	if err != nil {
		return 0, fmt.Errorf("decoding frame: %w", err)
	}

	_, stddev, dynRange := grayStats(gray)

	// Weighted blend: contrast carries most of the signal.
	score := (stddev/64.0)*70.0 + (float64(dynRange)/255.0)*30.0
	q := int(math.Round(score))
	if q > 100 {
		q = 100
	}
	if q < 0 {
		q = 0
	}
	return q, nil
}

// ExtractTemplate runs SourceAFIS feature extraction on a raw frame and
// serializes the resulting search template as CBOR.
func (d *SourceAFIS) ExtractTemplate(image []byte) ([]byte, error) {
	gray, err := decodeGray(image)
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	img, err := sourceafis.NewFromGray(gray)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	tc := sourceafis.NewTemplateCreator(transparency())
	tpl, err := tc.Template(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	data, err := cbor.Marshal(tpl)
	if err != nil {
		return nil, fmt.Errorf("serializing template: %w", err)
	}
	return data, nil
}

// Compare scores candidate against probe and maps the raw SourceAFIS
// similarity onto a saturating [0,100] confidence.
func (d *SourceAFIS) Compare(ctx context.Context, probe, candidate []byte) (float64, error) {
	probeTpl, err := d.decodeTemplate(probe)
	if err != nil {
		return 0, err
	}
	candidateTpl, err := d.decodeTemplate(candidate)
	if err != nil {
		return 0, err
	}

	matcher, err := sourceafis.NewMatcher(transparency(), probeTpl)
	if err != nil {
		return 0, fmt.Errorf("creating matcher: %w", err)
	}

	raw := matcher.Match(ctx, candidateTpl)
	return d.confidence(raw), nil
}

// MergeTemplates keeps enrollment samples only when every pair of them
// matches above the consistency floor, then returns the sample that agrees
// best with its siblings as the merged representative. The exact merge
// strategy is an SDK detail; swapping in a true minutiae-level merge only
// requires replacing this method.
func (d *SourceAFIS) MergeTemplates(ctx context.Context, parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no samples to merge")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	totals := make([]float64, len(parts))
	for i := 0; i < len(parts); i++ {
		for j := i + 1; j < len(parts); j++ {
			conf, err := d.Compare(ctx, parts[i], parts[j])
			if err != nil {
				return nil, fmt.Errorf("comparing samples %d and %d: %w", i, j, err)
			}
			if conf < d.consistencyFloor {
				return nil, fmt.Errorf("%w: samples %d and %d score %.1f", ErrInconsistentSamples, i, j, conf)
			}
			totals[i] += conf
			totals[j] += conf
		}
	}

	best := 0
	for i := 1; i < len(parts); i++ {
		if totals[i] > totals[best] {
			best = i
		}
	}
	return parts[best], nil
}

func (d *SourceAFIS) decodeTemplate(data []byte) (*templates.SearchTemplate, error) {
	var tpl templates.SearchTemplate
	if err := cbor.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("deserializing template: %w", err)
	}
	return &tpl, nil
}

// confidence maps an unbounded raw score onto [0,100). Monotonic, and a
// self-match's large raw score saturates near 100.
func (d *SourceAFIS) confidence(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return 100.0 * raw / (raw + d.scoreCeiling)
}

// transparency returns a no-op transparency logger; the engine does not
// collect algorithm internals.
func transparency() *sourceafis.TransparencyLogger {
	return sourceafis.NewTransparencyLogger(discardTransparency{})
}

type discardTransparency struct{}

func (discardTransparency) Accepts(key string) bool { return false }

func (discardTransparency) Accept(key, mime string, data []byte) error { return nil }
