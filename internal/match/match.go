// ABOUTME: 1:1 verification and 1:N identification over stored templates
// ABOUTME: Full linear pool scan, highest confidence wins, deterministic tie-break on userID

package match

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devkazuto/fingerprint-service/internal/fperr"
)

// Comparer is the biometric comparison capability, satisfied by any
// driver.Driver.
type Comparer interface {
	Compare(ctx context.Context, probe, candidate []byte) (float64, error)
}

// Pool enumerates stored templates for identification. The pool is
// read-only from the engine's perspective; it may change between
// invocations and no snapshot isolation is promised.
type Pool interface {
	Iterate(ctx context.Context, fn func(userID string, template []byte) error) error
}

// Result is the outcome of a verify or identify call. A non-match is a
// normal result, not an error.
type Result struct {
	Match      bool
	Confidence float64
	UserID     string
	Elapsed    time.Duration
}

// Engine performs template matching through an injected comparer.
type Engine struct {
	cmp    Comparer
	logger *slog.Logger
}

// NewEngine creates a match engine.
func NewEngine(cmp Comparer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cmp:    cmp,
		logger: logger.With("component", "match"),
	}
}

// Verify compares a candidate against one stored template. Deterministic
// for a given pair: no session state is consulted. A comparison error
// surfaces as MATCH_FAILED; a confidence below threshold is match=false.
func (e *Engine) Verify(ctx context.Context, candidate, stored []byte, threshold float64) (*Result, error) {
	start := time.Now()

	confidence, err := e.cmp.Compare(ctx, stored, candidate)
	if err != nil {
		return nil, fperr.Wrap(fperr.MatchFailed, err)
	}

	result := &Result{
		Match:      confidence >= threshold,
		Confidence: confidence,
		Elapsed:    time.Since(start),
	}

	e.logger.Debug("verify complete",
		"confidence", confidence,
		"threshold", threshold,
		"match", result.Match,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// Identify scans the full pool and returns the highest-confidence entry
// clearing the threshold. Ties on confidence break toward the
// lexicographically lowest userID, which keeps results deterministic when
// duplicate templates exist. Runtime is linear in pool size by design;
// callers needing sub-linear behavior pre-filter the pool.
//
// An empty pool is a normal no-match result.
func (e *Engine) Identify(ctx context.Context, candidate []byte, pool Pool, threshold float64) (*Result, error) {
	start := time.Now()

	var (
		bestUser string
		bestConf float64
		found    bool
		examined int
	)

	err := pool.Iterate(ctx, func(userID string, template []byte) error {
		confidence, err := e.cmp.Compare(ctx, candidate, template)
		if err != nil {
			return fperr.Wrap(fperr.MatchFailed, err)
		}
		examined++

		if !found || confidence > bestConf || (confidence == bestConf && userID < bestUser) {
			bestUser = userID
			bestConf = confidence
			found = true
		}
		return nil
	})
	if err != nil {
		var fe *fperr.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, fperr.Wrap(fperr.StoreUnavailable, err)
	}

	result := &Result{Elapsed: time.Since(start)}
	if found && bestConf >= threshold {
		result.Match = true
		result.Confidence = bestConf
		result.UserID = bestUser
	} else if found {
		result.Confidence = bestConf
	}

	e.logger.Debug("identify complete",
		"examined", examined,
		"best_confidence", bestConf,
		"threshold", threshold,
		"match", result.Match,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
