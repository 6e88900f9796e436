// Package eventstest records published events for assertions.
package eventstest

import (
	"context"
	"sync"

	"election_engine/pkg/events"
)

// Recorder is an events.Publisher that keeps everything it is given
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns the recorded events in publish order
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
