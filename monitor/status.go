// Package monitor tracks live operations (LLM calls, agent tasks, crew runs)
// and streams progress snapshots to registered sinks.
package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationStatus is the lifecycle state of a live operation.
//
// Queued, Initializing, Processing, Streaming and Finalizing are non-terminal.
// Completed, Failed and Cancelled are terminal: once reached, the operation
// accepts no further updates.
type OperationStatus int

const (
	StatusQueued OperationStatus = iota
	StatusInitializing
	StatusProcessing
	StatusStreaming
	StatusFinalizing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OperationStatus{
	StatusQueued,
	StatusInitializing,
	StatusProcessing,
	StatusStreaming,
	StatusFinalizing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// String returns the wire name of the status.
func (s OperationStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusInitializing:
		return "initializing"
	case StatusProcessing:
		return "processing"
	case StatusStreaming:
		return "streaming"
	case StatusFinalizing:
		return "finalizing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("OperationStatus(%d)", int(s))
	}
}

// IsTerminal reports whether the status ends the operation's lifecycle.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusQueued, StatusInitializing, StatusProcessing, StatusStreaming, StatusFinalizing:
		return false
	default:
		return false
	}
}

// Valid reports whether s is one of the declared statuses.
func (s OperationStatus) Valid() bool {
	return s >= StatusQueued && s <= StatusCancelled
}

// ParseOperationStatus converts a wire name back into a status.
// Matching is case-insensitive.
func ParseOperationStatus(name string) (OperationStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, s := range AllStatuses {
		if s.String() == normalized {
			return s, nil
		}
	}
	return StatusQueued, fmt.Errorf("unknown operation status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s OperationStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid operation status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OperationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON encodes the status as its wire name.
func (s OperationStatus) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON decodes a status from its wire name.
func (s *OperationStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(name))
}
