package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/cable-trainer/internal/protocol"
)

// fakeClock advances only when told to, keeping dwell timing exact.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func qualifyingRange() RangeEstimate {
	return RangeEstimate{Bottom: 100, Top: 300, Valid: true}
}

func posSample(posA, posB uint16) protocol.MonitorSample {
	return protocol.MonitorSample{PosA: posA, PosB: posB}
}

func TestAutoStop_FiresAfterDwellInDangerZone(t *testing.T) {
	clock := newFakeClock()
	as := NewAutoStop(clock.now)
	rng := qualifyingRange() // span 200, threshold 110

	// Holding at or below the threshold arms and counts up.
	d := as.Evaluate(posSample(110, 500), rng, RangeEstimate{})
	assert.True(t, d.Armed)
	assert.False(t, d.Stop)
	assert.Equal(t, 0.0, d.Progress)

	clock.advance(2500 * time.Millisecond)
	d = as.Evaluate(posSample(105, 500), rng, RangeEstimate{})
	assert.True(t, d.Armed)
	assert.InDelta(t, 0.5, d.Progress, 0.001)

	clock.advance(2500 * time.Millisecond)
	d = as.Evaluate(posSample(102, 500), rng, RangeEstimate{})
	assert.True(t, d.Stop)
	assert.Equal(t, 1.0, d.Progress)

	// Exactly one stop; afterwards the monitor stays quiet.
	d = as.Evaluate(posSample(102, 500), rng, RangeEstimate{})
	assert.False(t, d.Stop)
	assert.False(t, d.Armed)
}

func TestAutoStop_LeavingZoneDisarms(t *testing.T) {
	clock := newFakeClock()
	as := NewAutoStop(clock.now)
	rng := qualifyingRange()

	require.True(t, as.Evaluate(posSample(108, 500), rng, RangeEstimate{}).Armed)
	clock.advance(4 * time.Second)

	// Above the threshold: disarmed, timer gone.
	d := as.Evaluate(posSample(111, 500), rng, RangeEstimate{})
	assert.False(t, d.Armed)

	// Re-entering restarts the dwell from zero.
	clock.advance(2 * time.Second)
	d = as.Evaluate(posSample(108, 500), rng, RangeEstimate{})
	assert.True(t, d.Armed)
	assert.Equal(t, 0.0, d.Progress)
	clock.advance(4 * time.Second)
	d = as.Evaluate(posSample(108, 500), rng, RangeEstimate{})
	assert.False(t, d.Stop, "only 4s since re-entry")
}

func TestAutoStop_InsufficientRangeExcluded(t *testing.T) {
	clock := newFakeClock()
	as := NewAutoStop(clock.now)

	// Span of exactly 50 does not qualify.
	narrow := RangeEstimate{Bottom: 100, Top: 150, Valid: true}
	d := as.Evaluate(posSample(100, 100), narrow, RangeEstimate{})
	assert.False(t, d.Armed)

	// An invalid estimate never qualifies either.
	d = as.Evaluate(posSample(0, 0), RangeEstimate{}, RangeEstimate{})
	assert.False(t, d.Armed)
}

func TestAutoStop_EitherCableArms(t *testing.T) {
	clock := newFakeClock()
	as := NewAutoStop(clock.now)
	rng := qualifyingRange()

	// Cable B in its danger zone while A is clear still arms.
	d := as.Evaluate(posSample(250, 104), rng, rng)
	assert.True(t, d.Armed)

	// All qualifying cables clear: disarmed.
	d = as.Evaluate(posSample(250, 260), rng, rng)
	assert.False(t, d.Armed)
}

func TestAutoStop_ResetRearms(t *testing.T) {
	clock := newFakeClock()
	as := NewAutoStop(clock.now)
	rng := qualifyingRange()

	as.Evaluate(posSample(105, 500), rng, RangeEstimate{})
	clock.advance(6 * time.Second)
	require.True(t, as.Evaluate(posSample(105, 500), rng, RangeEstimate{}).Stop)

	as.Reset()
	d := as.Evaluate(posSample(105, 500), rng, RangeEstimate{})
	assert.True(t, d.Armed)
	assert.False(t, d.Stop)
}
