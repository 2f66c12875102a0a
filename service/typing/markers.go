// Package typing keeps server-side typing markers that expire on their own
// when a client stops refreshing them.
package typing

import (
	"sort"
	"time"
)

const DefaultWindow = 3 * time.Second

// Set maps marker keys to deadlines. It is not safe for concurrent use; the
// owner guards it with its own lock.
type Set struct {
	window    time.Duration
	deadlines map[string]time.Time
}

func NewSet(window time.Duration) *Set {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Set{window: window, deadlines: make(map[string]time.Time)}
}

// Mark inserts or refreshes key. It reports true only when the marker is new.
func (s *Set) Mark(key string, now time.Time) bool {
	_, had := s.deadlines[key]
	s.deadlines[key] = now.Add(s.window)
	return !had
}

// Clear removes key and reports whether it was present.
func (s *Set) Clear(key string) bool {
	if _, ok := s.deadlines[key]; !ok {
		return false
	}
	delete(s.deadlines, key)
	return true
}

// Expire removes every marker whose deadline is not after now and returns
// their keys sorted.
func (s *Set) Expire(now time.Time) []string {
	var out []string
	for k, d := range s.deadlines {
		if !d.After(now) {
			out = append(out, k)
			delete(s.deadlines, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Set) Len() int { return len(s.deadlines) }
