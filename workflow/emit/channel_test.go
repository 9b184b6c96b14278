package emit

import (
	"testing"
	"time"
)

func TestChannelEmitter_Subscribe(t *testing.T) {
	t.Run("subscriber receives events in order", func(t *testing.T) {
		c := NewChannelEmitter(8)
		ch, cancel := c.Subscribe("exec-1")
		defer cancel()

		c.Emit(Event{Type: EventExecutionStarted, ExecutionID: "exec-1"})
		c.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-1", NodeID: "a"})

		first := <-ch
		second := <-ch
		if first.Type != EventExecutionStarted || second.Type != EventNodeStarted {
			t.Errorf("events out of order: %s, %s", first.Type, second.Type)
		}
	})

	t.Run("events for other executions are not delivered", func(t *testing.T) {
		c := NewChannelEmitter(8)
		ch, cancel := c.Subscribe("exec-1")
		defer cancel()

		c.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-2", NodeID: "a"})
		select {
		case ev := <-ch:
			t.Errorf("unexpected event delivered: %+v", ev)
		case <-time.After(20 * time.Millisecond):
		}
	})

	t.Run("terminal event closes the stream", func(t *testing.T) {
		c := NewChannelEmitter(8)
		ch, cancel := c.Subscribe("exec-1")
		defer cancel()

		c.Emit(Event{Type: EventExecutionCompleted, ExecutionID: "exec-1"})

		ev, ok := <-ch
		if !ok || ev.Type != EventExecutionCompleted {
			t.Fatalf("expected the terminal event, got %+v ok=%v", ev, ok)
		}
		if _, ok := <-ch; ok {
			t.Error("channel should be closed after the terminal event")
		}
	})

	t.Run("cancel is idempotent and safe after close", func(t *testing.T) {
		c := NewChannelEmitter(8)
		_, cancel := c.Subscribe("exec-1")
		c.Emit(Event{Type: EventExecutionFailed, ExecutionID: "exec-1"})
		cancel()
		cancel()
	})

	t.Run("full subscriber buffer drops instead of blocking", func(t *testing.T) {
		c := NewChannelEmitter(1)
		ch, cancel := c.Subscribe("exec-1")
		defer cancel()

		done := make(chan struct{})
		go func() {
			c.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-1", NodeID: "a"})
			c.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-1", NodeID: "b"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Emit blocked on a slow subscriber")
		}
		ev := <-ch
		if ev.NodeID != "a" {
			t.Errorf("expected the first event to survive, got %s", ev.NodeID)
		}
	})
}
