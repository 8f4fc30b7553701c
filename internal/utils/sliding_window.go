package utils

import (
	"sync"
	"time"
)

type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	return len(w.hits)
}

// TryAdd records the hit only when the window holds fewer than limit
// entries. On refusal it reports how long until the oldest entry rolls
// out of the window. A non-positive limit always admits.
func (w *SlidingWindow) TryAdd(now time.Time, limit int) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	if limit > 0 && len(w.hits) >= limit {
		retry := w.hits[0].Add(w.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return false, retry
	}
	w.hits = append(w.hits, now)
	return true, 0
}

func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
