package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/synthos-ai/orchestrator/workflow"
)

// ExecutionsFileName is the single store file kept under the configured
// database base path.
const ExecutionsFileName = "synthos_workflow_executions"

// SQLiteStore is a single-file SQLite ExecutionStore.
//
// Designed for:
//   - The default single-process deployment (one coordinator per host)
//   - Development and testing with zero setup (":memory:" supported)
//
// The store uses WAL mode so listing queries never block the executor's
// writes, and wraps every SaveExecution in a transaction so a concurrent
// loader never observes a partially-updated run.
//
// Schema:
//   - executions: run headers with the serialized definition snapshot
//   - node_states: per-node status/result, cascade-deleted with the run
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and migrates) the store file named
// ExecutionsFileName under basePath. Pass ":memory:" as basePath for an
// in-memory database.
func NewSQLiteStore(basePath string) (*SQLiteStore, error) {
	path := basePath
	if basePath != ":memory:" {
		path = filepath.Join(basePath, ExecutionsFileName)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// also keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			error TEXT NOT NULL DEFAULT '',
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	nodeStatesTable := `
		CREATE TABLE IF NOT EXISTS node_states (
			execution_id TEXT NOT NULL REFERENCES executions(execution_id) ON DELETE CASCADE,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, node_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, nodeStatesTable); err != nil {
		return fmt.Errorf("failed to create node_states table: %w", err)
	}

	for _, index := range []string{
		"CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions(workflow_id)",
		"CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)",
		"CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at)",
		"CREATE INDEX IF NOT EXISTS idx_node_states_execution_id ON node_states(execution_id)",
	} {
		if _, err := s.db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SaveExecution upserts the run header and all node states in a single
// transaction.
func (s *SQLiteStore) SaveExecution(ctx context.Context, run *workflow.WorkflowExecution) error {
	snapshot, err := json.Marshal(run.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	headerQuery := `
		INSERT INTO executions (execution_id, workflow_id, status, started_at, completed_at, error, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`
	var completedAt any
	if run.CompletedAt != 0 {
		completedAt = run.CompletedAt
	}
	if _, err := tx.ExecContext(ctx, headerQuery,
		run.ExecutionID, run.WorkflowID, string(run.Status),
		run.StartedAt, completedAt, run.Error, string(snapshot)); err != nil {
		return fmt.Errorf("failed to upsert execution header: %w", err)
	}

	nodeQuery := `
		INSERT INTO node_states (execution_id, node_id, status, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(execution_id, node_id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			updated_at = CURRENT_TIMESTAMP
	`
	for _, ns := range run.NodeStates {
		var result any
		if ns.Result != nil {
			data, err := json.Marshal(ns.Result)
			if err != nil {
				return fmt.Errorf("failed to marshal result for node %q: %w", ns.NodeID, err)
			}
			result = string(data)
		}
		if _, err := tx.ExecContext(ctx, nodeQuery,
			run.ExecutionID, ns.NodeID, string(ns.Status), result); err != nil {
			return fmt.Errorf("failed to upsert node state %q: %w", ns.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution save: %w", err)
	}
	return nil
}

// LoadExecution returns the fully populated run, or workflow.ErrNotFound.
func (s *SQLiteStore) LoadExecution(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	run, err := s.loadHeader(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := s.loadNodeStates(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) loadHeader(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	query := `
		SELECT execution_id, workflow_id, status, started_at, completed_at, error, snapshot
		FROM executions
		WHERE execution_id = ?
	`
	return scanHeader(s.db.QueryRowContext(ctx, query, executionID))
}

// headerRow abstracts sql.Row / sql.Rows scanning.
type headerRow interface {
	Scan(dest ...any) error
}

func scanHeader(row headerRow) (*workflow.WorkflowExecution, error) {
	var run workflow.WorkflowExecution
	var status, errMsg, snapshot string
	var completedAt sql.NullInt64
	err := row.Scan(&run.ExecutionID, &run.WorkflowID, &status,
		&run.StartedAt, &completedAt, &errMsg, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution header: %w", err)
	}
	run.Status = workflow.ExecutionStatus(status)
	run.Error = errMsg
	if completedAt.Valid {
		run.CompletedAt = completedAt.Int64
	}
	run.Snapshot = &workflow.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(snapshot), run.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	run.NodeStates = make(map[string]*workflow.NodeState)
	return &run, nil
}

func (s *SQLiteStore) loadNodeStates(ctx context.Context, run *workflow.WorkflowExecution) error {
	query := `
		SELECT node_id, status, result
		FROM node_states
		WHERE execution_id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, run.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load node states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var nodeID, status string
		var result sql.NullString
		if err := rows.Scan(&nodeID, &status, &result); err != nil {
			return fmt.Errorf("failed to scan node state: %w", err)
		}
		ns := &workflow.NodeState{NodeID: nodeID, Status: workflow.NodeStatus(status)}
		if result.Valid {
			ns.Result = &workflow.NodeExecutionResult{}
			if err := json.Unmarshal([]byte(result.String), ns.Result); err != nil {
				return fmt.Errorf("failed to unmarshal result for node %q: %w", nodeID, err)
			}
		}
		run.NodeStates[nodeID] = ns
	}
	return rows.Err()
}

// ListExecutions returns the workflow's runs ordered by started_at
// descending, each fully populated with node states.
func (s *SQLiteStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.WorkflowExecution, error) {
	query := `
		SELECT execution_id, workflow_id, status, started_at, completed_at, error, snapshot
		FROM executions
		WHERE workflow_id = ?
		ORDER BY started_at DESC
	`
	args := []any{workflowID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.WorkflowExecution
	for rows.Next() {
		run, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := s.loadNodeStates(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteExecution removes the run; node states cascade.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE execution_id = ?", executionID); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
