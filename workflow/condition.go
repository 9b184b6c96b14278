package workflow

import (
	"reflect"
	"strings"

	"github.com/rs/zerolog"
)

// ConditionEvaluator decides branch truth for condition nodes. It is a pure
// reader of the execution context: evaluation never mutates run state.
type ConditionEvaluator struct {
	log zerolog.Logger
}

// NewConditionEvaluator creates an evaluator logging through the given
// logger.
func NewConditionEvaluator(log zerolog.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{log: log}
}

// Evaluate resolves the expression against the context.
//
// Semantics per variant:
//   - previousNodeSuccess / previousNodeFailed consult the terminal status
//     recorded for prevNodeID (the condition node's single predecessor).
//   - keyValueMatch splits KeyPath on "."; the first segment names a node
//     whose recorded result is the root, remaining segments navigate into
//     the result's fields and nested mappings by exact key presence. The
//     final value is compared with ExpectedValue by strict equality (same
//     type and same value). Unresolvable paths yield false.
//   - customExpression is reserved: always false, with a warning.
//   - unknown variants yield false and log an error.
func (ev *ConditionEvaluator) Evaluate(expr *ConditionExpression, prevNodeID string, ec *ExecutionContext) bool {
	if expr == nil {
		ev.log.Error().Str("executionId", ec.ExecutionID()).Msg("condition node has no expression")
		return false
	}
	switch expr.Kind {
	case ConditionPreviousNodeSuccess:
		return ec.IsNodeSuccess(prevNodeID)
	case ConditionPreviousNodeFailed:
		return ec.IsNodeFailed(prevNodeID)
	case ConditionKeyValueMatch:
		return ev.evaluateKeyValueMatch(expr, ec)
	case ConditionCustomExpression:
		ev.log.Warn().
			Str("executionId", ec.ExecutionID()).
			Msg("customExpression conditions are reserved and always evaluate to false")
		return false
	default:
		ev.log.Error().
			Str("executionId", ec.ExecutionID()).
			Str("kind", string(expr.Kind)).
			Msg("unknown condition expression variant")
		return false
	}
}

// evaluateKeyValueMatch walks the dotted key path and compares the final
// value against ExpectedValue.
func (ev *ConditionEvaluator) evaluateKeyValueMatch(expr *ConditionExpression, ec *ExecutionContext) bool {
	segments := strings.Split(expr.KeyPath, ".")
	if len(segments) == 0 || segments[0] == "" {
		return false
	}

	result := ec.NodeResult(segments[0])
	if result == nil {
		return false
	}

	var current any = result
	for _, seg := range segments[1:] {
		next, ok := navigate(current, seg)
		if !ok {
			return false
		}
		current = next
	}
	return strictEqual(current, expr.ExpectedValue)
}

// navigate resolves one path segment against the current value. The result
// struct exposes its three fields by name; nested values resolve by exact
// key presence in string-keyed mappings.
func navigate(current any, segment string) (any, bool) {
	switch v := current.(type) {
	case *NodeExecutionResult:
		switch segment {
		case "success":
			return v.Success, true
		case "output":
			return v.Output, true
		case "error":
			return v.Error, true
		}
		return nil, false
	case map[string]any:
		val, ok := v[segment]
		return val, ok
	default:
		return nil, false
	}
}

// strictEqual compares two values requiring identical dynamic types.
// reflect.DeepEqual alone would treat nil interfaces loosely; the explicit
// type check keeps "1" != 1 and true != "true".
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
