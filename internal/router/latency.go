package router

import (
	"sync"
	"time"
)

// latencyWindow keeps round-trip samples of dispatched actions for a
// sliding window and reports their average.
type latencyWindow struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	samples []latencySample
}

type latencySample struct {
	at  time.Time
	dur time.Duration
}

func newLatencyWindow(window time.Duration, now func() time.Time) *latencyWindow {
	return &latencyWindow{window: window, now: now, samples: make([]latencySample, 0, 128)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, latencySample{at: w.now(), dur: d})
	w.trimLocked()
}

// average returns the mean round trip in milliseconds and the sample count.
func (w *latencyWindow) average() (avgMs int64, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trimLocked()
	if len(w.samples) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, s := range w.samples {
		total += s.dur
	}
	return (total / time.Duration(len(w.samples))).Milliseconds(), len(w.samples)
}

// trimLocked drops samples older than the window; samples are in time order.
func (w *latencyWindow) trimLocked() {
	cutoff := w.now().Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
