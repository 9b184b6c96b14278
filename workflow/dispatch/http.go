package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/synthos-ai/orchestrator/workflow"
)

// maxResponseBytes caps how much of an HTTP response body a node records in
// its result. Larger bodies are truncated, not failed.
const maxResponseBytes = 1 << 20

// HTTPRunner implements workflow.HTTPExecutor with net/http.
//
// A node's outcome follows the response status: 2xx is success, anything
// else is a failed result carrying the status line. Transport-level faults
// (DNS, connection refused) are failed results too so retryCount applies.
type HTTPRunner struct {
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPRunner creates a runner. A nil client selects a default whose
// per-attempt deadline comes from the node strategy's context.
func NewHTTPRunner(client *http.Client, log zerolog.Logger) *HTTPRunner {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRunner{client: client, log: log}
}

// ExecuteHTTPNode performs the configured request.
func (h *HTTPRunner) ExecuteHTTPNode(ctx context.Context, nodeID string, cfg *workflow.HTTPConfig, _ *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeAdapterFailure,
			Message: "http node has no url configured",
		}
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cfg.Body != "" {
		body = bytes.NewBufferString(cfg.Body)
	}

	startedAt := time.Now().UnixMilli()

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeAdapterFailure,
			Message: "failed to build request",
			Cause:   err,
		}
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("request failed: %v", err),
			StartedAt:   startedAt,
			CompletedAt: time.Now().UnixMilli(),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("failed to read response body: %v", err),
			StartedAt:   startedAt,
			CompletedAt: time.Now().UnixMilli(),
		}, nil
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = values
		}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := &workflow.NodeExecutionResult{
		Success: success,
		Output: map[string]any{
			"statusCode": resp.StatusCode,
			"headers":    headers,
			"body":       string(respBody),
		},
		StartedAt:   startedAt,
		CompletedAt: time.Now().UnixMilli(),
	}
	if !success {
		result.Error = fmt.Sprintf("unexpected status: %s", resp.Status)
	}

	h.log.Debug().
		Str("node_id", nodeID).
		Str("method", method).
		Str("url", cfg.URL).
		Int("status_code", resp.StatusCode).
		Msg("http node completed")
	return result, nil
}
