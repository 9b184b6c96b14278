package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/synthos-ai/orchestrator/workflow"
)

// MySQLStore is a MySQL/MariaDB ExecutionStore for shared deployments where
// several services need to read run history.
//
// The logical schema matches SQLiteStore: an executions header table and a
// node_states table cascade-deleted with its execution. Snapshot and result
// payloads are stored as JSON columns and round-trip byte-for-byte.
//
// DSN format (go-sql-driver/mysql):
//
//	user:password@tcp(host:3306)/dbname?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a pooled connection and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT NULL,
			error TEXT,
			snapshot JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_executions_workflow_id (workflow_id),
			INDEX idx_executions_status (status),
			INDEX idx_executions_started_at (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	nodeStatesTable := `
		CREATE TABLE IF NOT EXISTS node_states (
			execution_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			result JSON NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY unique_execution_node (execution_id, node_id),
			CONSTRAINT fk_node_states_execution FOREIGN KEY (execution_id)
				REFERENCES executions(execution_id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, nodeStatesTable); err != nil {
		return fmt.Errorf("failed to create node_states table: %w", err)
	}
	return nil
}

// SaveExecution upserts the header and node states in one transaction.
func (m *MySQLStore) SaveExecution(ctx context.Context, run *workflow.WorkflowExecution) error {
	snapshot, err := json.Marshal(run.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	headerQuery := `
		INSERT INTO executions (execution_id, workflow_id, status, started_at, completed_at, error, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			completed_at = VALUES(completed_at),
			error = VALUES(error)
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			result = VALUES(result)
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
func (m *MySQLStore) LoadExecution(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	query := `
		SELECT execution_id, workflow_id, status, started_at, completed_at, error, snapshot
		FROM executions
		WHERE execution_id = ?
	`
	run, err := scanMySQLHeader(m.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		return nil, err
	}
	if err := m.loadNodeStates(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func scanMySQLHeader(row headerRow) (*workflow.WorkflowExecution, error) {
	var run workflow.WorkflowExecution
	var status, snapshot string
	var errMsg sql.NullString
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
	if errMsg.Valid {
		run.Error = errMsg.String
	}
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

func (m *MySQLStore) loadNodeStates(ctx context.Context, run *workflow.WorkflowExecution) error {
	query := `
		SELECT node_id, status, result
		FROM node_states
		WHERE execution_id = ?
	`
	rows, err := m.db.QueryContext(ctx, query, run.ExecutionID)
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
// descending, fully populated.
func (m *MySQLStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.WorkflowExecution, error) {
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
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.WorkflowExecution
	for rows.Next() {
		run, err := scanMySQLHeader(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := m.loadNodeStates(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteExecution removes the run; node states cascade.
func (m *MySQLStore) DeleteExecution(ctx context.Context, executionID string) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM executions WHERE execution_id = ?", executionID); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (m *MySQLStore) Close() error {
	return m.db.Close()
}
