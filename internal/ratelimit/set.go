package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Scope selects how triggers share a window.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeChannel Scope = "channel"
	ScopeUser    Scope = "user"
)

func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeChannel:
		return ScopeChannel
	case ScopeUser:
		return ScopeUser
	default:
		return ScopeGlobal
	}
}

// Key returns the window key for a trigger under scope.
func (s Scope) Key(channel, requester string) string {
	switch s {
	case ScopeChannel:
		return "c:" + strings.ToLower(channel)
	case ScopeUser:
		return "u:" + requester
	default:
		return ""
	}
}

// Set holds one Window per key. Windows idle past retention are evicted by Sweep.
type Set struct {
	mu        sync.Mutex
	retention time.Duration
	windows   map[string]*Window
}

func NewSet(retention time.Duration) *Set {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Set{retention: retention, windows: map[string]*Window{}}
}

// Get returns the window for key, creating it on first use.
func (s *Set) Get(key string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = NewWindow(s.retention)
		s.windows[key] = w
	}
	return w
}

// SetRetention changes retention for the set and every existing window,
// keeping recorded triggers.
func (s *Set) SetRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = retention
	for _, w := range s.windows {
		w.SetRetention(retention)
	}
}

// Sweep drops windows with no retained timestamps.
func (s *Set) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.windows {
		w.mu.Lock()
		w.prune(now, 0)
		empty := len(w.times) == 0
		w.mu.Unlock()
		if empty {
			delete(s.windows, k)
			n++
		}
	}
	return n
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
