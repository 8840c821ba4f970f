package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

func TestCounterDelta(t *testing.T) {
	cases := []struct {
		last, current uint16
		want          int
	}{
		{0, 0, 0},
		{5, 6, 1},
		{5, 10, 5},
		{65535, 0, 1},
		{65534, 2, 4},
		{0, 65535, 65535},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CounterDelta(tc.last, tc.current),
			"delta(%d, %d)", tc.last, tc.current)
	}
}

func TestRollingWindow_RetainsBoundedRecentValues(t *testing.T) {
	w := newRollingWindow(3)
	for _, v := range []int{10, 20, 30, 40, 50} {
		w.Push(v)
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 40, w.Average())
	assert.Equal(t, 30, w.Min())
	assert.Equal(t, 50, w.Max())
}

func TestRollingWindow_AverageRounds(t *testing.T) {
	w := newRollingWindow(2)
	w.Push(10)
	w.Push(11)
	assert.Equal(t, 11, w.Average(), "10.5 rounds up")
}

func TestRollingWindow_ShrinkDropsOldest(t *testing.T) {
	w := newRollingWindow(3)
	w.Push(1)
	w.Push(2)
	w.Push(3)
	w.SetBound(2)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.Min())
}

func sampleAt(posA, posB uint16) protocol.MonitorSample {
	return protocol.MonitorSample{PosA: posA, PosB: posB, Timestamp: time.Now()}
}

func TestRepTracker_FirstNotificationOnlySeeds(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 5})
	out := tr.HandleCounters(protocol.RepCounters{Top: 5, Bottom: 2}, sampleAt(300, 300))
	assert.Equal(t, Outcome{}, out)
}

func TestRepTracker_TopOnlyMovement(t *testing.T) {
	// Top counter 5 -> 6 with the bottom counter unchanged yields exactly
	// one top event and no rep completion.
	tr := NewRepTracker(TrackerConfig{TargetReps: 5})
	tr.HandleCounters(protocol.RepCounters{Top: 5, Bottom: 2}, sampleAt(100, 100))
	out := tr.HandleCounters(protocol.RepCounters{Top: 6, Bottom: 2}, sampleAt(400, 410))

	assert.True(t, out.TopEvent)
	assert.False(t, out.RepComplete)
	assert.False(t, out.Completed)
}

func TestRepTracker_LargeDeltaCollapsesToOneEvent(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 5})
	tr.HandleCounters(protocol.RepCounters{Top: 10, Bottom: 10}, sampleAt(100, 100))
	out := tr.HandleCounters(protocol.RepCounters{Top: 14, Bottom: 13}, sampleAt(400, 400))

	assert.True(t, out.TopEvent)
	assert.True(t, out.RepComplete)
	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.WarmupReps, "a delta of 3 is still one rep")
}

func TestRepTracker_CounterWraparound(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 5})
	tr.HandleCounters(protocol.RepCounters{Top: 65535, Bottom: 65535}, sampleAt(100, 100))
	out := tr.HandleCounters(protocol.RepCounters{Top: 0, Bottom: 0}, sampleAt(400, 400))

	assert.True(t, out.TopEvent)
	assert.True(t, out.RepComplete)
}

// drive runs full reps through the tracker: top then bottom per rep.
func drive(t *testing.T, tr *RepTracker, reps int, start protocol.RepCounters) (protocol.RepCounters, []Outcome) {
	t.Helper()
	var outs []Outcome
	c := start
	for i := 0; i < reps; i++ {
		c.Top++
		outs = append(outs, tr.HandleCounters(c, sampleAt(500, 520)))
		if tr.Snapshot().Phase == PhaseCompleted {
			break
		}
		c.Bottom++
		outs = append(outs, tr.HandleCounters(c, sampleAt(100, 90)))
		if tr.Snapshot().Phase == PhaseCompleted {
			break
		}
	}
	return c, outs
}

func TestRepTracker_WarmupThenWorking(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 10})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))

	drive(t, tr, 3, protocol.RepCounters{})
	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.WarmupReps)
	assert.Equal(t, 0, snap.WorkingReps)
	assert.Equal(t, PhaseWorking, snap.Phase)
	assert.False(t, tr.WarmupEndedAt().IsZero())

	drive(t, tr, 2, protocol.RepCounters{Top: 3, Bottom: 3})
	snap = tr.Snapshot()
	assert.Equal(t, 3, snap.WarmupReps)
	assert.Equal(t, 2, snap.WorkingReps)
}

func TestRepTracker_BottomAnchoredCompletion(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 2})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))

	// 3 warmup reps then 2 working reps; completion on the last bottom.
	_, outs := drive(t, tr, 5, protocol.RepCounters{})
	last := outs[len(outs)-1]
	assert.True(t, last.RepComplete)
	assert.True(t, last.Completed)
	assert.False(t, last.RequestStop, "bottom-anchored completion needs no explicit stop")
	assert.Equal(t, PhaseCompleted, tr.Snapshot().Phase)

	// Completed trackers ignore further counters.
	out := tr.HandleCounters(protocol.RepCounters{Top: 20, Bottom: 20}, sampleAt(100, 100))
	assert.Equal(t, Outcome{}, out)
}

func TestRepTracker_StopAtTopCompletion(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 2, StopAtTop: true})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))

	// 3 warmup reps, one working rep, then the top of the final rep.
	c, _ := drive(t, tr, 4, protocol.RepCounters{})
	require.Equal(t, 1, tr.Snapshot().WorkingReps)

	c.Top++
	out := tr.HandleCounters(c, sampleAt(500, 500))
	assert.True(t, out.TopEvent)
	assert.True(t, out.RequestStop, "the device must be stopped explicitly at the top")
	assert.True(t, out.Completed)
}

func TestRepTracker_JustLiftNeverCompletesOnCount(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 2, JustLift: true})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))
	_, outs := drive(t, tr, 8, protocol.RepCounters{})
	for _, out := range outs {
		assert.False(t, out.Completed)
		assert.False(t, out.RequestStop)
	}
}

func TestRepTracker_RangeEstimate(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 10})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))

	c := protocol.RepCounters{}
	tops := []uint16{500, 520}
	bottoms := []uint16{100, 90}
	for i := 0; i < 2; i++ {
		c.Top++
		tr.HandleCounters(c, sampleAt(tops[i], tops[i]))
		c.Bottom++
		tr.HandleCounters(c, sampleAt(bottoms[i], bottoms[i]))
	}

	rng := tr.Range(CableA)
	require.True(t, rng.Valid)
	assert.Equal(t, 510, rng.Top)
	assert.Equal(t, 95, rng.Bottom)
	assert.Equal(t, [2]int{500, 520}, rng.TopBand)
	assert.Equal(t, [2]int{90, 100}, rng.BottomBand)
	assert.Equal(t, 415, rng.Span())
}

func TestRepTracker_RangeInvalidWithoutBothWindows(t *testing.T) {
	tr := NewRepTracker(TrackerConfig{TargetReps: 10})
	tr.HandleCounters(protocol.RepCounters{}, sampleAt(100, 100))
	tr.HandleCounters(protocol.RepCounters{Top: 1}, sampleAt(500, 500))
	assert.False(t, tr.Range(CableA).Valid, "no bottom observed yet")
}
