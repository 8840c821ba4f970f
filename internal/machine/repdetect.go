package machine

import (
	"time"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

// Phase tracks where the active block is in its rep lifecycle.
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseWorking
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "Warmup"
	case PhaseWorking:
		return "Working"
	case PhaseCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Cable identifies one of the machine's two cables.
type Cable int

const (
	CableA Cable = iota
	CableB
)

// Window bounds for the rep-range estimate. Early reps are noisy while the
// lifter settles into the movement, so warmup keeps a short window.
const (
	warmupWindowBound  = 2
	workingWindowBound = 3
)

// DefaultWarmupReps is how many reps count as warmup before working reps
// accumulate. The machine itself uses the same count for echo mode.
const DefaultWarmupReps = 3

// CounterDelta is the number of increments between two readings of a
// wrapping 16-bit device counter. Unsigned subtraction handles wraparound.
func CounterDelta(last, current uint16) int {
	return int(current - last)
}

// RangeEstimate is the per-cable movement range derived from the rolling
// windows: Bottom/Top are rounded averages of the recent rep extremes, the
// Band pairs carry the min/max spread of the retained values.
type RangeEstimate struct {
	Bottom     int
	Top        int
	BottomBand [2]int
	TopBand    [2]int
	Valid      bool
}

// Span is the estimated travel distance between bottom and top.
func (r RangeEstimate) Span() int { return r.Top - r.Bottom }

// TrackerConfig describes the block the tracker is counting reps for.
// TargetReps 0 means unlimited (just-lift relies on auto-stop instead).
type TrackerConfig struct {
	TargetReps   int
	WarmupTarget int
	StopAtTop    bool
	JustLift     bool
}

// Outcome reports what one rep notification caused.
type Outcome struct {
	TopEvent    bool
	RepComplete bool
	RequestStop bool // device must be told to stop before completion counts
	Completed   bool
}

// Snapshot is the externally visible rep state, published on every change.
type Snapshot struct {
	Phase       Phase
	WarmupReps  int
	WorkingReps int
	TargetReps  int
}

// RepTracker converts the device's wrapping top/bottom counters plus the
// latest position sample into warmup/working rep counts and per-cable
// range estimates. It is not safe for concurrent use; the session owns it
// and serializes access.
type RepTracker struct {
	cfg TrackerConfig

	topSeen    bool
	bottomSeen bool
	lastTop    uint16
	lastBottom uint16

	warmupReps  int
	workingReps int
	completed   bool
	warmupEnded time.Time

	topA, topB       *rollingWindow
	bottomA, bottomB *rollingWindow
}

func NewRepTracker(cfg TrackerConfig) *RepTracker {
	if cfg.WarmupTarget <= 0 {
		cfg.WarmupTarget = DefaultWarmupReps
	}
	return &RepTracker{
		cfg:     cfg,
		topA:    newRollingWindow(warmupWindowBound),
		topB:    newRollingWindow(warmupWindowBound),
		bottomA: newRollingWindow(warmupWindowBound),
		bottomB: newRollingWindow(warmupWindowBound),
	}
}

// HandleCounters processes one rep notification against the most recent
// monitor sample. The first notification only seeds the counters; any
// positive delta afterwards is exactly one event, regardless of how many
// device-side increments it collapses.
func (t *RepTracker) HandleCounters(c protocol.RepCounters, sample protocol.MonitorSample) Outcome {
	var out Outcome
	if t.completed {
		return out
	}

	topDelta := 0
	if t.topSeen {
		topDelta = CounterDelta(t.lastTop, c.Top)
	}
	bottomDelta := 0
	if t.bottomSeen {
		bottomDelta = CounterDelta(t.lastBottom, c.Bottom)
	}
	t.lastTop, t.topSeen = c.Top, true
	t.lastBottom, t.bottomSeen = c.Bottom, true

	if topDelta > 0 {
		out.TopEvent = true
		t.pushTop(sample)
		if t.cfg.StopAtTop && !t.cfg.JustLift && t.cfg.TargetReps > 0 &&
			t.workingReps == t.cfg.TargetReps-1 {
			// The device only finalizes a set at the bottom of the last
			// rep; completing at the top needs an explicit stop first.
			t.completed = true
			out.RequestStop = true
			out.Completed = true
			return out
		}
	}

	if bottomDelta > 0 {
		out.RepComplete = true
		t.pushBottom(sample)
		if t.warmupReps+t.workingReps+1 <= t.cfg.WarmupTarget {
			t.warmupReps++
			if t.warmupReps == t.cfg.WarmupTarget && t.warmupEnded.IsZero() {
				t.warmupEnded = sample.Timestamp
			}
		} else {
			t.workingReps++
		}
		if !t.cfg.StopAtTop && !t.cfg.JustLift && t.cfg.TargetReps > 0 &&
			t.workingReps >= t.cfg.TargetReps {
			t.completed = true
			out.Completed = true
		}
	}
	return out
}

func (t *RepTracker) pushTop(sample protocol.MonitorSample) {
	bound := t.windowBound()
	t.topA.SetBound(bound)
	t.topB.SetBound(bound)
	t.topA.Push(int(sample.PosA))
	t.topB.Push(int(sample.PosB))
}

func (t *RepTracker) pushBottom(sample protocol.MonitorSample) {
	bound := t.windowBound()
	t.bottomA.SetBound(bound)
	t.bottomB.SetBound(bound)
	t.bottomA.Push(int(sample.PosA))
	t.bottomB.Push(int(sample.PosB))
}

func (t *RepTracker) windowBound() int {
	if t.warmupReps+t.workingReps < t.cfg.WarmupTarget {
		return warmupWindowBound
	}
	return workingWindowBound
}

// Range returns the estimated movement range for one cable. Valid only
// once both the top and bottom windows hold at least one value.
func (t *RepTracker) Range(cable Cable) RangeEstimate {
	top, bottom := t.topA, t.bottomA
	if cable == CableB {
		top, bottom = t.topB, t.bottomB
	}
	if top.Len() == 0 || bottom.Len() == 0 {
		return RangeEstimate{}
	}
	return RangeEstimate{
		Bottom:     bottom.Average(),
		Top:        top.Average(),
		BottomBand: [2]int{bottom.Min(), bottom.Max()},
		TopBand:    [2]int{top.Min(), top.Max()},
		Valid:      true,
	}
}

func (t *RepTracker) Snapshot() Snapshot {
	phase := PhaseWarmup
	switch {
	case t.completed:
		phase = PhaseCompleted
	case t.warmupReps >= t.cfg.WarmupTarget:
		phase = PhaseWorking
	}
	return Snapshot{
		Phase:       phase,
		WarmupReps:  t.warmupReps,
		WorkingReps: t.workingReps,
		TargetReps:  t.cfg.TargetReps,
	}
}

// WarmupEndedAt is when the last warmup rep completed, zero until then.
func (t *RepTracker) WarmupEndedAt() time.Time { return t.warmupEnded }

// MarkCompleted forces the tracker into the completed phase; used when
// something other than the rep count ends the block (auto-stop, user).
func (t *RepTracker) MarkCompleted() { t.completed = true }
