package testutil

import (
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modhub"
)

// Recorder is a listener that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []modhub.Event
}

func (r *Recorder) HandleEvent(e modhub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []modhub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ModuleEvents returns the recorded module events of the given types, or of
// every type when none is given.
func (r *Recorder) ModuleEvents(types ...modhub.ModuleEventType) []*modhub.ModuleEvent {
	var out []*modhub.ModuleEvent
	for _, e := range r.Events() {
		me, ok := e.(*modhub.ModuleEvent)
		if !ok {
			continue
		}
		if len(types) == 0 || slices.Contains(types, me.Type) {
			out = append(out, me)
		}
	}
	return out
}

// States returns the states announced for moduleID, replays excluded.
func (r *Recorder) States(moduleID string) []modhub.ModuleState {
	var out []modhub.ModuleState
	for _, e := range r.ModuleEvents(modhub.EventStateChanged) {
		if e.ModuleID == moduleID && !e.Replay {
			out = append(out, e.NewState)
		}
	}
	return out
}

// WaitFor polls until cond holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
