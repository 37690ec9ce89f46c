// pkg/logging/helpers.go - package-level helpers for removal and detection events

package logging

import (
	"fmt"
	"time"
)

// Event records a structured event on the session logger.
func Event(eventType, action, status, message string, opts ...EventOption) {
	if instance == nil {
		return
	}
	instance.LogEvent(eventType, action, status, message, opts...)
}

// LogRemovalStart logs the start of a removal.
func LogRemovalStart(itemID, method string) {
	Event("remove", "start", "started",
		fmt.Sprintf("Starting removal of %s", itemID),
		WithItem(itemID),
		WithContext("method", method))
}

// LogRemovalComplete logs the final outcome of a removal.
func LogRemovalComplete(itemID string, outcome fmt.Stringer, duration time.Duration) {
	Event("remove", "complete", outcome.String(),
		fmt.Sprintf("Removal of %s finished: %s", itemID, outcome),
		WithItem(itemID),
		WithOutcome(outcome),
		WithDuration(duration))
}

// LogRemovalFailed logs a failed removal.
func LogRemovalFailed(itemID string, err error) {
	Event("remove", "complete", "failed",
		fmt.Sprintf("Failed to remove %s", itemID),
		WithItem(itemID),
		WithError(err),
		WithLevel(LevelError))
}

// LogDetectionSummary logs per-tier detection counts.
func LogDetectionSummary(counts map[string]int, duration time.Duration) {
	opts := []EventOption{WithDuration(duration)}
	for k, v := range counts {
		opts = append(opts, WithContext(k, v))
	}
	Event("detect", "resolve", "completed", "Detection pass finished", opts...)
}
