// Package bus provides the shared in-process event bus connecting the
// dispatcher bridge to the external task runtime.
//
// The bus is deliberately minimal: named channels, fire-and-forget publish,
// and buffered subscriptions. It makes no ordering promise across unrelated
// messages; consumers that care about a specific task filter by payload.
package bus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channel names forming the wire-level contract with the task runtime.
const (
	// ChannelDispatchTask carries DispatchPayload messages published by the
	// dispatcher bridge and consumed by the task runtime.
	ChannelDispatchTask = "DispatchTask"

	// ChannelCompleteTask carries CompletePayload messages published by the
	// task runtime when a task finishes successfully.
	ChannelCompleteTask = "CompleteTask"
)

// DefaultSubscriptionBuffer is the channel capacity of a subscription when
// the caller passes buffer <= 0.
const DefaultSubscriptionBuffer = 16

// Message is one published envelope. IDs are ULIDs, so they sort by publish
// time even when collected from several channels.
type Message struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Subscription is a live listener on one channel. The caller must invoke
// Unsubscribe on every exit path; an abandoned subscription leaks and may
// cause publishers to drop messages once its buffer fills.
type Subscription struct {
	// C receives published messages. It is closed by Unsubscribe.
	C <-chan Message

	bus     *Bus
	channel string
	id      uint64
	once    sync.Once
}

// Unsubscribe detaches the subscription and closes C. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.channel, s.id)
	})
}

// Bus is a thread-safe in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan Message
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[uint64]chan Message)}
}

// Subscribe registers a listener on the named channel. buffer <= 0 selects
// DefaultSubscriptionBuffer.
func (b *Bus) Subscribe(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]chan Message)
	}
	b.subs[channel][id] = ch

	return &Subscription{C: ch, bus: b, channel: channel, id: id}
}

// Publish delivers payload to every current subscriber of the channel and
// returns the assigned message. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the message.
func (b *Bus) Publish(channel string, payload any) Message {
	msg := Message{
		ID:          ulid.Make().String(),
		Channel:     channel,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg
}

// SubscriberCount reports the number of live subscriptions on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Bus) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
	close(ch)
}
