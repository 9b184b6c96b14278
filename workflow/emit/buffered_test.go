package emit

import "testing"

func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: EventExecutionStarted, ExecutionID: "exec-1"})
	b.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-1", NodeID: "a"})
	b.Emit(Event{Type: EventNodeCompleted, ExecutionID: "exec-1", NodeID: "a"})
	b.Emit(Event{Type: EventNodeStarted, ExecutionID: "exec-2", NodeID: "x"})

	t.Run("history is per execution and ordered", func(t *testing.T) {
		history := b.History("exec-1")
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
		if history[0].Type != EventExecutionStarted || history[2].Type != EventNodeCompleted {
			t.Errorf("history out of order: %v", history)
		}
	})

	t.Run("filter by node", func(t *testing.T) {
		got := b.HistoryWithFilter("exec-1", HistoryFilter{NodeID: "a"})
		if len(got) != 2 {
			t.Errorf("expected 2 events for node a, got %d", len(got))
		}
	})

	t.Run("filter by type", func(t *testing.T) {
		got := b.HistoryWithFilter("exec-1", HistoryFilter{Type: EventNodeCompleted})
		if len(got) != 1 || got[0].NodeID != "a" {
			t.Errorf("unexpected filter result: %v", got)
		}
	})

	t.Run("history copies do not alias the buffer", func(t *testing.T) {
		history := b.History("exec-1")
		history[0].ExecutionID = "mutated"
		if b.History("exec-1")[0].ExecutionID != "exec-1" {
			t.Error("mutating a returned history leaked into the buffer")
		}
	})

	t.Run("clear one execution", func(t *testing.T) {
		b.Clear("exec-1")
		if len(b.History("exec-1")) != 0 {
			t.Error("exec-1 history should be empty")
		}
		if len(b.History("exec-2")) != 1 {
			t.Error("exec-2 history should survive")
		}
	})
}

func TestEventType_Terminal(t *testing.T) {
	terminal := []EventType{EventExecutionCompleted, EventExecutionFailed}
	for _, tt := range terminal {
		if !tt.Terminal() {
			t.Errorf("%s should be terminal", tt)
		}
	}
	for _, tt := range []EventType{EventExecutionStarted, EventNodeStarted, EventNodeCompleted, EventNodeFailed} {
		if tt.Terminal() {
			t.Errorf("%s should not be terminal", tt)
		}
	}
}
