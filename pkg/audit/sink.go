// Package audit provides the structured event sink every lifecycle, phase
// transition and admission decision is written to. The sink is an interface
// boundary: production wires a SQLite store plus the gateway broadcaster,
// tests use NopSink.
package audit

import (
	"context"
	"time"
)

// Record is one structured audit event.
type Record struct {
	AgentID   string                 `json:"agent_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Event     string                 `json:"event"`
	Detail    string                 `json:"detail,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives audit records. Implementations must be safe for concurrent
// use; writes are best-effort and must not block callers on failure.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Write(context.Context, Record) error { return nil }
func (NopSink) Close() error                        { return nil }

// MultiSink fans a record out to several sinks. The first write error is
// returned but later sinks still receive the record.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var firstErr error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
