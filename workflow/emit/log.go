package emit

import "github.com/rs/zerolog"

// LogEmitter writes each event as a structured zerolog entry.
//
// Node and execution failures log at warn level, everything else at debug,
// so production logs stay quiet unless something goes wrong.
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing through the given logger.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit logs the event.
func (l *LogEmitter) Emit(event Event) {
	var entry *zerolog.Event
	switch event.Type {
	case EventNodeFailed, EventExecutionFailed:
		entry = l.log.Warn()
	default:
		entry = l.log.Debug()
	}
	entry = entry.
		Str("type", string(event.Type)).
		Str("executionId", event.ExecutionID).
		Int64("timestamp", event.Timestamp)
	if event.NodeID != "" {
		entry = entry.Str("nodeId", event.NodeID)
	}
	if len(event.Meta) > 0 {
		entry = entry.Interface("meta", event.Meta)
	}
	entry.Msg("execution update")
}
