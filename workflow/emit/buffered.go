package emit

import "sync"

// BufferedEmitter stores events in memory, organized by execution ID, and
// provides query capabilities over the captured history.
//
// This is the standard test harness emitter: the event-ordering properties
// of the executor are asserted against its history. It also serves ad-hoc
// debugging of live processes.
//
// Warning: all events stay in memory until cleared. Long-lived processes
// with many runs should Clear finished executions.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects a subset of an execution's history. All fields are
// optional and combine with AND.
type HistoryFilter struct {
	// NodeID keeps only events for the given node.
	NodeID string

	// Type keeps only events of the given variant.
	Type EventType
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its execution's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns a copy of all events recorded for the execution, in
// emission order.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[executionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// HistoryWithFilter returns the execution's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events[executionID] {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the history of one execution, or of all executions when
// executionID is empty.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if executionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, executionID)
}
