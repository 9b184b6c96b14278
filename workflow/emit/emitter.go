package emit

// Emitter receives execution events from the workflow executor.
//
// Implementations should be:
//   - Non-blocking: never stall the scheduler's driving goroutine
//   - Thread-safe: concurrent runs emit from separate goroutines
//   - Resilient: a broken backend must not crash a run
//
// Emit must not panic; internal failures should be logged and swallowed.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to a fixed set of emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters; nil entries are dropped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every configured emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// NullEmitter discards all events. Use it when observability output is not
// wanted; it is safe for concurrent use and has zero overhead.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
