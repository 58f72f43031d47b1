package testutil

import (
	"sync"

	"github.com/roach88/epicflow/pkg/epic"
)

// Recorder is an epic.Observer that keeps everything it is told.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu      sync.Mutex
	events  []epic.ReducerEvent
	reports []epic.CycleReport
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ReducerInvoked implements epic.Observer.
func (r *Recorder) ReducerInvoked(ev epic.ReducerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// CycleFinished implements epic.Observer.
func (r *Recorder) CycleFinished(rep epic.CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

// Events returns a copy of the recorded invocations.
func (r *Recorder) Events() []epic.ReducerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]epic.ReducerEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Reports returns a copy of the recorded cycle reports.
func (r *Recorder) Reports() []epic.CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]epic.CycleReport, len(r.reports))
	copy(out, r.reports)
	return out
}

// IDs returns the invocation IDs ("epic/reducer" or "listener:name") in order.
func (r *Recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.ID()
	}
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.reports = nil
}
