package workflow

import (
	"errors"
	"fmt"
)

// Validation error codes produced by ParsePlan and definition checks.
const (
	CodeEdgeRefsUnknownNode      = "EDGE_REFS_UNKNOWN_NODE"
	CodeMissingStart             = "MISSING_START"
	CodeDuplicateStart           = "DUPLICATE_START"
	CodeMissingEnd               = "MISSING_END"
	CodeDuplicateEnd             = "DUPLICATE_END"
	CodeUnreachable              = "UNREACHABLE"
	CodeCycle                    = "CYCLE"
	CodeMissingRequiredNodeField = "MISSING_REQUIRED_NODE_FIELD"
	CodeUnsupportedNodeKind      = "UNSUPPORTED_NODE_KIND"
)

// Runtime error codes attached to NodeError.
const (
	CodeNodeTimeout         = "NODE_TIMEOUT"
	CodeNodeExecutionFailed = "NODE_EXECUTION_FAILED"
	CodeAdapterFailure      = "ADAPTER_FAILURE"
)

// ErrNotFound is returned when a workflow or execution does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownTaskType is returned by adapters when a task node names a task
// kind absent from the registry.
var ErrUnknownTaskType = errors.New("unknown task type")

// ErrBusTimeout is returned by the dispatcher bridge when no matching
// completion arrives before its timer fires.
var ErrBusTimeout = errors.New("timed out waiting for task completion on bus")

// ValidationError is a structural defect of a workflow definition detected
// by the parser. Code is one of the validation code constants above.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// newValidationError formats a ValidationError in one call.
func newValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NodeError is a runtime failure attributed to a specific node.
type NodeError struct {
	NodeID  string
	Code    string
	Message string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// NewNodeTimeoutError reports that a single attempt of nodeID exceeded its
// configured timeout.
func NewNodeTimeoutError(nodeID string, timeoutMs int64) *NodeError {
	return &NodeError{
		NodeID:  nodeID,
		Code:    CodeNodeTimeout,
		Message: fmt.Sprintf("exceeded timeout of %dms", timeoutMs),
	}
}
