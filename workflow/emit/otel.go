package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter creates an OpenTelemetry span per event.
//
// Each event becomes a short-lived span whose name is the event type and
// whose attributes carry the execution ID, node ID, timestamp, and all Meta
// fields. Failure events set the span status to Error, so trace backends
// highlight failed nodes and runs without extra configuration.
//
// Usage:
//
//	tracer := otel.Tracer("synthos-orchestrator")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span.
func (o *OTelEmitter) Emit(event Event) {
	if o.tracer == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("execution.id", event.ExecutionID),
		attribute.Int64("event.timestamp_ms", event.Timestamp),
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("node.id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}

	_, span := o.tracer.Start(context.Background(), string(event.Type),
		trace.WithAttributes(attrs...))
	switch event.Type {
	case EventNodeFailed, EventExecutionFailed:
		span.SetStatus(codes.Error, string(event.Type))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
