package governor

import (
	"sync"
	"time"

	"github.com/kyra-ai/kyra/pkg/resource"
)

// sampleWindow is a rolling window of scalar samples. Pruning happens on
// every access so idle windows decay without a background sweeper; the cron
// maintenance pass only reclaims memory for windows nobody touches.
type sampleWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []scalarSample
}

type scalarSample struct {
	at    time.Time
	value float64
}

func newSampleWindow(span time.Duration) *sampleWindow {
	return &sampleWindow{span: span}
}

func (w *sampleWindow) add(now time.Time, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.samples = append(w.samples, scalarSample{at: now, value: v})
}

func (w *sampleWindow) count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.samples)
}

func (w *sampleWindow) sum(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	total := 0.0
	for _, s := range w.samples {
		total += s.value
	}
	return total
}

func (w *sampleWindow) avg(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if len(w.samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range w.samples {
		total += s.value
	}
	return total / float64(len(w.samples))
}

func (w *sampleWindow) prune(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

func (w *sampleWindow) setSpan(span time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.span = span
}

func (w *sampleWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	idx := 0
	for idx < len(w.samples) && w.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.samples = append(w.samples[:0], w.samples[idx:]...)
	}
}

// usageHistory is a per-user rolling window of resource usage attributions,
// retained long enough to answer both the 1-hour and 24-hour quota windows.
type usageHistory struct {
	mu      sync.Mutex
	samples []usageSample
}

type usageSample struct {
	at    time.Time
	usage resource.Usage
}

const historyRetention = 24 * time.Hour

func (h *usageHistory) add(now time.Time, u resource.Usage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(now)
	h.samples = append(h.samples, usageSample{at: now, usage: u})
}

// aggregate sums usage attributed within the trailing window ending at now.
func (h *usageHistory) aggregate(now time.Time, window time.Duration) resource.Usage {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(now)

	cutoff := now.Add(-window)
	var total resource.Usage
	for _, s := range h.samples {
		if s.at.Before(cutoff) {
			continue
		}
		total = total.Add(s.usage)
	}
	return total
}

func (h *usageHistory) prune(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(now)
}

func (h *usageHistory) empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples) == 0
}

func (h *usageHistory) pruneLocked(now time.Time) {
	cutoff := now.Add(-historyRetention)
	idx := 0
	for idx < len(h.samples) && h.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		h.samples = append(h.samples[:0], h.samples[idx:]...)
	}
}
