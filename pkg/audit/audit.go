// Package audit records every enforcement decision to an append-only
// sink: each analyze verdict, ticket transition, and sanitizer redaction
// leaves one event.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind categorizes an audit event.
type EventKind string

// Event kinds.
const (
	KindDecision   EventKind = "DECISION"
	KindTicket     EventKind = "TICKET"
	KindSanitize   EventKind = "SANITIZE"
	KindEscalation EventKind = "ESCALATION"
)

// Event is one structured audit record.
type Event struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	Tool        string         `json:"tool,omitempty"`
	Action      string         `json:"action,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Cached      bool           `json:"cached,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Sink is the recording interface. Implementations must be safe for
// concurrent use; Record failures are reported but the enforcement path
// never blocks on them.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// Nop discards all events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Event) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }

// writerSink appends one JSON line per event.
type writerSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink records events as JSON lines on w. Passing nil writes to
// os.Stdout.
func NewWriterSink(w io.Writer) Sink {
	if w == nil {
		w = os.Stdout
	}
	return &writerSink{writer: w}
}

// Record implements Sink.
func (s *writerSink) Record(_ context.Context, event Event) error {
	stamp(&event)
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(line)
	return err
}

// Close implements Sink.
func (s *writerSink) Close() error { return nil }

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
}
