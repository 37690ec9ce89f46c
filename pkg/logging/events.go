// pkg/logging/events.go - structured events for external monitoring tools

package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogEvent represents an individual action within a session.
type LogEvent struct {
	EventID   string                 `json:"event_id"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	EventType string                 `json:"event_type"` // detect, remove, schedule, log
	Item      string                 `json:"item,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Status    string                 `json:"status,omitempty"` // started, completed, deferred, failed, cancelled
	Outcome   string                 `json:"outcome,omitempty"`
	Message   string                 `json:"message"`
	Duration  *time.Duration         `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// EventOption customizes a LogEvent.
type EventOption func(*LogEvent)

// WithItem names the catalog item the event is about.
func WithItem(id string) EventOption {
	return func(e *LogEvent) {
		e.Item = id
	}
}

// WithOutcome records a removal outcome.
func WithOutcome(outcome fmt.Stringer) EventOption {
	return func(e *LogEvent) {
		e.Outcome = outcome.String()
	}
}

// WithDuration records how long the action took.
func WithDuration(d time.Duration) EventOption {
	return func(e *LogEvent) {
		e.Duration = &d
	}
}

// WithError records an error.
func WithError(err error) EventOption {
	return func(e *LogEvent) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithContext adds a single context value.
func WithContext(key string, value interface{}) EventOption {
	return func(e *LogEvent) {
		if e.Context == nil {
			e.Context = make(map[string]interface{})
		}
		e.Context[key] = value
	}
}

// WithLevel sets the event level.
func WithLevel(level LogLevel) EventOption {
	return func(e *LogEvent) {
		e.Level = level.String()
	}
}

// LogEvent records a structured event and mirrors it into the text log.
func (l *Logger) LogEvent(eventType, action, status, message string, opts ...EventOption) {
	event := LogEvent{
		EventType: eventType,
		Action:    action,
		Status:    status,
		Message:   message,
		Level:     LevelInfo.String(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	kv := []interface{}{"event", eventType, "status", status}
	if event.Item != "" {
		kv = append(kv, "item", event.Item)
	}
	if event.Outcome != "" {
		kv = append(kv, "outcome", event.Outcome)
	}
	if event.Error != "" {
		kv = append(kv, "error", event.Error)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	level := ParseLevel(event.Level)
	if level <= l.logLevel && l.logFile != nil {
		line := formatLine(time.Now(), level, message, kv)
		l.logger.Println(line)
		if l.console != nil {
			levelColor(level).Fprintln(l.console, line)
		}
	}
	if l.jsonFile != nil {
		l.writeEvent(event)
	}
}

// writeEvent appends one JSON line. Callers hold l.mu.
func (l *Logger) writeEvent(event LogEvent) {
	event.EventID = uuid.NewString()
	event.SessionID = l.sessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = l.jsonFile.Write(append(data, '\n'))
}
