// Package eventtest provides an in-memory Emitter for tests.
package eventtest

import (
	"sync"

	"LobbyHub/service/event"
)

type Delivery struct {
	UserID string
	Event  event.Event
}

// Recorder records every delivery in emission order. Users listed in Offline
// are treated as having no connections.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	offline    map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{offline: make(map[string]bool)}
}

func (r *Recorder) SetOffline(userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline[userID] = offline
}

func (r *Recorder) Emit(ev event.Event, userIDs ...string) event.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res event.Result
	for _, u := range userIDs {
		if r.offline[u] {
			continue
		}
		r.deliveries = append(r.deliveries, Delivery{UserID: u, Event: ev})
		res.Sent++
	}
	return res
}

func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// For returns the events delivered to userID, oldest first.
func (r *Recorder) For(userID string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, d := range r.deliveries {
		if d.UserID == userID {
			out = append(out, d.Event)
		}
	}
	return out
}

// OfType returns the events of type t delivered to userID.
func (r *Recorder) OfType(userID string, t event.Type) []event.Event {
	var out []event.Event
	for _, ev := range r.For(userID) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many deliveries of type t happened across all users.
func (r *Recorder) Count(t event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deliveries {
		if d.Event.Type == t {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}
