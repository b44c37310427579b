package scheduler

import (
	"sync"
	"time"
)

// window tracks upstream calls across a sliding span. It is the single
// rate-limit authority shared by every user's sync; keeping it behind the
// scheduler's one worker keeps the accounting exact.
type window struct {
	quota int
	span  time.Duration
	now   func() time.Time

	mu   sync.Mutex
	sent []time.Time
}

func newWindow(quota int, span time.Duration, now func() time.Time) *window {
	return &window{quota: quota, span: span, now: now}
}

// CanProceed reports whether another call fits in the current window.
func (w *window) CanProceed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.sent) < w.quota
}

// RecordSent appends a send timestamp to the window.
func (w *window) RecordSent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	w.sent = append(w.sent, now)
	inWindowGauge.Set(float64(len(w.sent)))
}

// prune drops timestamps that have slid out of the span. Caller holds mu.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.sent) && !w.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.sent = append(w.sent[:0], w.sent[i:]...)
	}
}
