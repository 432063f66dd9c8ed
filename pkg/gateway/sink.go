package gateway

import (
	"context"
	"strings"

	"github.com/kyra-ai/kyra/pkg/audit"
)

// EventSink adapts the broadcaster to the audit sink interface so every
// record written to the audit trail is also streamed to connected clients.
// Wire it next to the persistent store with audit.MultiSink.
type EventSink struct {
	broadcaster *EventBroadcaster
}

// NewEventSink creates a sink that broadcasts audit records
func NewEventSink(broadcaster *EventBroadcaster) *EventSink {
	return &EventSink{broadcaster: broadcaster}
}

// Write broadcasts the record to all authenticated clients
func (s *EventSink) Write(_ context.Context, rec audit.Record) error {
	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     rec.Event,
		Stream:    streamFor(rec.Event),
		AgentID:   rec.AgentID,
		UserID:    rec.UserID,
		Data:      recordData(rec),
		Timestamp: rec.Timestamp.UnixMilli(),
	})
	return nil
}

// Close implements audit.Sink
func (s *EventSink) Close() error { return nil }

func streamFor(event string) StreamType {
	switch {
	case strings.HasPrefix(event, "approval_"):
		return StreamApproval
	case strings.HasPrefix(event, "breaker_"),
		strings.HasPrefix(event, "tempo_"),
		strings.HasPrefix(event, "hierarchy_"):
		return StreamGovernor
	default:
		return StreamLifecycle
	}
}

func recordData(rec audit.Record) interface{} {
	if rec.Detail == "" && len(rec.Fields) == 0 {
		return nil
	}
	data := make(map[string]interface{}, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		data[k] = v
	}
	if rec.Detail != "" {
		data["detail"] = rec.Detail
	}
	return data
}
