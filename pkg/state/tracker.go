package state

import "sync"

// Tracker answers whether an execution was already loaded and collects the
// executions loaded during a run.
type Tracker struct {
	mu    sync.Mutex
	state State
	dirty bool
}

func NewTracker(initial State) *Tracker {
	if initial == nil {
		initial = State{}
	}
	return &Tracker{state: initial.Clone()}
}

func (t *Tracker) IsLoaded(month, executionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Has(month, executionID)
}

// MarkLoaded records a completed load. Marking the same execution twice is
// a no-op.
func (t *Tracker) MarkLoaded(month, executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Add(month, executionID) {
		t.dirty = true
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// Dirty reports whether anything was marked since the tracker was created.
func (t *Tracker) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}
