package machine

import (
	"time"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

// Auto-stop watches just-lift sets for the lifter parking the cables near
// the bottom of their range. Holding the danger zone for the full dwell
// means the set is over and the machine should release.
const (
	// minQualifyingSpan is the travel a cable must show before its range
	// estimate is trusted for danger-zone checks.
	minQualifyingSpan = 50

	// dangerFraction of the span above the bottom marks the danger zone.
	dangerFraction = 0.05

	// autoStopDwell is how long the danger zone must be held.
	autoStopDwell = 5 * time.Second
)

// AutoStopDecision is the result of evaluating one monitor sample.
type AutoStopDecision struct {
	Stop     bool
	Armed    bool
	Progress float64 // 0..1 fraction of the dwell elapsed, for UI only
}

// AutoStop arms a wall-clock timer while any qualifying cable sits in its
// danger zone and fires a single stop when the timer runs out. Only
// meaningful during just-lift blocks; the session does not evaluate it
// otherwise. Not safe for concurrent use.
type AutoStop struct {
	now     func() time.Time
	armedAt time.Time
	fired   bool
}

// NewAutoStop creates an AutoStop reading time from now, or time.Now when
// nil.
func NewAutoStop(now func() time.Time) *AutoStop {
	if now == nil {
		now = time.Now
	}
	return &AutoStop{now: now}
}

// Evaluate checks sample against the current per-cable range estimates.
// Cables without an established range are excluded; with no qualifying
// cable at all the monitor stays disarmed.
func (a *AutoStop) Evaluate(sample protocol.MonitorSample, rangeA, rangeB RangeEstimate) AutoStopDecision {
	if a.fired {
		return AutoStopDecision{}
	}

	inDanger := false
	qualifying := false
	for _, c := range []struct {
		rng RangeEstimate
		pos uint16
	}{
		{rangeA, sample.PosA},
		{rangeB, sample.PosB},
	} {
		if !c.rng.Valid || c.rng.Span() <= minQualifyingSpan {
			continue
		}
		qualifying = true
		threshold := float64(c.rng.Bottom) + dangerFraction*float64(c.rng.Span())
		if float64(c.pos) <= threshold {
			inDanger = true
		}
	}

	if !qualifying || !inDanger {
		a.armedAt = time.Time{}
		return AutoStopDecision{}
	}

	now := a.now()
	if a.armedAt.IsZero() {
		a.armedAt = now
	}
	elapsed := now.Sub(a.armedAt)
	progress := float64(elapsed) / float64(autoStopDwell)
	if progress > 1 {
		progress = 1
	}
	if elapsed >= autoStopDwell {
		a.fired = true
		return AutoStopDecision{Stop: true, Armed: true, Progress: 1}
	}
	return AutoStopDecision{Armed: true, Progress: progress}
}

// Reset prepares the monitor for a new block.
func (a *AutoStop) Reset() {
	a.armedAt = time.Time{}
	a.fired = false
}
