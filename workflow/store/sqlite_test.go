package store

import (
	"context"
	"errors"
	"testing"

	"github.com/synthos-ai/orchestrator/workflow"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	run := sampleRun("exec-1", "wf-1", 1000)

	if err := s.SaveExecution(ctx, run); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}
	loaded, err := s.LoadExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("LoadExecution failed: %v", err)
	}
	assertRunEqual(t, run, loaded)
}

func TestSQLiteStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	run := sampleRun("exec-1", "wf-1", 1000)
	if err := s.SaveExecution(ctx, run); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	run.Status = workflow.ExecutionStatusFailed
	run.Error = "node work exploded"
	run.NodeStates["work"].Status = workflow.NodeStatusFailed
	run.NodeStates["work"].Result.Success = false
	run.NodeStates["work"].Result.Error = "exploded"
	if err := s.SaveExecution(ctx, run); err != nil {
		t.Fatalf("second SaveExecution failed: %v", err)
	}

	loaded, err := s.LoadExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("LoadExecution failed: %v", err)
	}
	if loaded.Status != workflow.ExecutionStatusFailed || loaded.Error != "node work exploded" {
		t.Errorf("header upsert not applied: %+v", loaded)
	}
	ws := loaded.NodeStates["work"]
	if ws.Status != workflow.NodeStatusFailed || ws.Result.Error != "exploded" {
		t.Errorf("node upsert not applied: %+v", ws)
	}
	if len(loaded.NodeStates) != 2 {
		t.Errorf("upsert duplicated node states: %d", len(loaded.NodeStates))
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	if _, err := s.LoadExecution(context.Background(), "ghost"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
		if err := s.SaveExecution(ctx, sampleRun(id, "wf-1", int64(1000+i))); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}
	if err := s.SaveExecution(ctx, sampleRun("exec-other", "wf-2", 5000)); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	runs, err := s.ListExecutions(ctx, "wf-1", 0)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ExecutionID != "exec-c" {
		t.Errorf("expected newest first, got %s", runs[0].ExecutionID)
	}
	for _, run := range runs {
		if len(run.NodeStates) != 2 {
			t.Errorf("listed run %s not fully populated: %d node states",
				run.ExecutionID, len(run.NodeStates))
		}
	}

	limited, err := s.ListExecutions(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("ListExecutions with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ExecutionID != "exec-c" {
		t.Errorf("limit result wrong: %v", limited)
	}
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	if err := s.SaveExecution(ctx, sampleRun("exec-1", "wf-1", 1000)); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}
	if err := s.DeleteExecution(ctx, "exec-1"); err != nil {
		t.Fatalf("DeleteExecution failed: %v", err)
	}
	if _, err := s.LoadExecution(ctx, "exec-1"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM node_states").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected node states to cascade, %d rows remain", count)
	}
}
