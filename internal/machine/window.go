package machine

import "math"

// rollingWindow keeps the most recent values up to a bound and derives the
// rounded average plus the min/max band used as the rep-range estimate.
// Shrinking the bound drops the oldest values.
type rollingWindow struct {
	values []int
	bound  int
}

func newRollingWindow(bound int) *rollingWindow {
	if bound < 1 {
		panic("machine: window bound must be at least 1")
	}
	return &rollingWindow{bound: bound}
}

func (w *rollingWindow) Push(v int) {
	w.values = append(w.values, v)
	w.trim()
}

// SetBound resizes the window. Warmup uses a short window so early noisy
// reps wash out quickly; working sets widen it for a steadier estimate.
func (w *rollingWindow) SetBound(bound int) {
	if bound < 1 {
		panic("machine: window bound must be at least 1")
	}
	w.bound = bound
	w.trim()
}

func (w *rollingWindow) trim() {
	if len(w.values) > w.bound {
		w.values = w.values[len(w.values)-w.bound:]
	}
}

func (w *rollingWindow) Len() int { return len(w.values) }

// Average is the rounded mean of the retained values, 0 when empty.
func (w *rollingWindow) Average() int {
	if len(w.values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range w.values {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(w.values))))
}

func (w *rollingWindow) Min() int {
	if len(w.values) == 0 {
		return 0
	}
	m := w.values[0]
	for _, v := range w.values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (w *rollingWindow) Max() int {
	if len(w.values) == 0 {
		return 0
	}
	m := w.values[0]
	for _, v := range w.values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *rollingWindow) Reset() {
	w.values = w.values[:0]
}
