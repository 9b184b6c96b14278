package emit

import "sync"

// ChannelEmitter multiplexes events to per-execution subscriber channels.
// It backs the orchestrator's OnExecutionUpdate stream.
//
// Subscribers receive every event for their execution ID in emission order.
// After a terminal event (executionCompleted/executionFailed) is delivered,
// the subscriber channels for that execution are closed and removed, which
// is how stream consumers learn the run is over.
//
// Delivery is best-effort per subscriber: a full subscriber buffer drops
// the event for that subscriber rather than blocking the executor. Size
// buffers generously (the default is 64) for slow consumers.
type ChannelEmitter struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
	buffer int
}

// DefaultSubscriberBuffer is the channel capacity used when NewChannelEmitter
// receives a non-positive buffer size.
const DefaultSubscriberBuffer = 64

// NewChannelEmitter creates a ChannelEmitter with the given per-subscriber
// buffer capacity.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &ChannelEmitter{
		subs:   make(map[string]map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers interest in one execution's events. The returned
// cancel function detaches the subscriber; it is safe to call more than
// once and after the stream has closed.
func (c *ChannelEmitter) Subscribe(executionID string) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, c.buffer)
	id := c.nextID
	c.nextID++
	if c.subs[executionID] == nil {
		c.subs[executionID] = make(map[int]chan Event)
	}
	c.subs[executionID][id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if m, ok := c.subs[executionID]; ok {
			if sub, ok := m[id]; ok {
				delete(m, id)
				close(sub)
			}
			if len(m) == 0 {
				delete(c.subs, executionID)
			}
		}
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber of its execution, then closes
// the stream if the event is terminal.
func (c *ChannelEmitter) Emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs[event.ExecutionID] {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block the run.
		}
	}
	if event.Type.Terminal() {
		for _, ch := range c.subs[event.ExecutionID] {
			close(ch)
		}
		delete(c.subs, event.ExecutionID)
	}
}
