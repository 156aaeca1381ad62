package engine

import (
	"sync"
	"time"

	"techdebtsim/internal/domain"
)

type EventKind string

const (
	EventStarted       EventKind = "simulationStarted"
	EventPaused        EventKind = "simulationPaused"
	EventResumed       EventKind = "simulationResumed"
	EventStopped       EventKind = "simulationStopped"
	EventReset         EventKind = "simulationReset"
	EventStepCompleted EventKind = "stepCompleted"
)

// EventKinds lists every kind in lifecycle order.
var EventKinds = []EventKind{
	EventStarted, EventPaused, EventResumed, EventStopped, EventReset, EventStepCompleted,
}

func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is delivered to listeners. Report and Snapshot are set only for
// stepCompleted.
type Event struct {
	Kind     EventKind          `json:"kind"`
	Step     int                `json:"step"`
	Time     time.Time          `json:"time" format:"date-time"`
	Report   *domain.StepReport `json:"report,omitempty"`
	Snapshot *domain.Snapshot   `json:"snapshot,omitempty"`
}

type Listener func(Event)

type listenerEntry struct {
	id   int
	kind EventKind
	fn   Listener
}

// registry fans events out to listeners in registration order. An empty kind
// subscribes to every event.
type registry struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry
}

func (r *registry) add(kind EventKind, fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, listenerEntry{id: id, kind: kind, fn: fn})
	return func() { r.remove(id) }
}

func (r *registry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry) dispatch(events ...Event) {
	r.mu.Lock()
	entries := append([]listenerEntry(nil), r.entries...)
	r.mu.Unlock()
	for _, ev := range events {
		for _, e := range entries {
			if e.kind == "" || e.kind == ev.Kind {
				e.fn(ev)
			}
		}
	}
}
