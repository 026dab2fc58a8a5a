package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultMax       = 3
	DefaultWindow    = 10 * time.Second
	DefaultRetention = 60 * time.Second
)

// Window is a sliding-window trigger counter.
//
// Timestamps are kept for max(retention, queried window) and pruned on every
// call. Safe for concurrent use.
type Window struct {
	mu        sync.Mutex
	retention time.Duration
	times     []time.Time
}

func NewWindow(retention time.Duration) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Window{retention: retention}
}

func (w *Window) SetRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	w.mu.Lock()
	w.retention = retention
	w.mu.Unlock()
}

// Record appends a trigger at now.
func (w *Window) Record(now time.Time) {
	w.mu.Lock()
	w.prune(now, 0)
	w.times = append(w.times, now)
	w.mu.Unlock()
}

// CountWithin returns how many recorded triggers fall in (now-window, now].
func (w *Window) CountWithin(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, window)
	return w.countLocked(now, window)
}

// Decision is the result of Admit.
type Decision struct {
	Allowed bool
	Current int
	Limit   int
	Window  time.Duration
}

func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	return fmt.Sprintf("rate limit exceeded: %d/%d triggers in %s window", d.Current, d.Limit, d.Window)
}

// Admit counts triggers inside window and, if fewer than max, records now.
// Count and record happen under one lock.
func (w *Window) Admit(now time.Time, window time.Duration, max int) Decision {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, window)
	n := w.countLocked(now, window)
	d := Decision{Current: n, Limit: max, Window: window}
	if n >= max {
		return d
	}
	w.times = append(w.times, now)
	d.Allowed = true
	return d
}

// Len reports the number of retained timestamps.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.times)
}

func (w *Window) countLocked(now time.Time, window time.Duration) int {
	cut := now.Add(-window)
	n := 0
	for _, t := range w.times {
		if t.After(cut) && !t.After(now) {
			n++
		}
	}
	return n
}

func (w *Window) prune(now time.Time, window time.Duration) {
	keep := w.retention
	if window > keep {
		keep = window
	}
	cut := now.Add(-keep)
	i := 0
	for i < len(w.times) && !w.times[i].After(cut) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
