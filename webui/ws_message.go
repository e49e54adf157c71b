package webui

import (
	"time"

	"crewmonitor/display"
	"crewmonitor/health"
	"crewmonitor/monitor"
)

// Message type constants for WebSocket communication.
const (
	// MessageTypeProgress carries one monitor.ProgressUpdate.
	MessageTypeProgress = "progress"

	// MessageTypeHealth carries the current health.SystemStatus.
	MessageTypeHealth = "health"

	// MessageTypeInitial contains the operation snapshot sent on connection.
	MessageTypeInitial = "initial"

	// MessageTypeError indicates a server-side error message.
	MessageTypeError = "error"
)

// WSMessage is the envelope for all WebSocket messages, with the
// type-specific payload in Data.
type WSMessage struct {
	// Type identifies the message kind (use MessageType* constants)
	Type string `json:"type"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Data contains the type-specific payload
	Data any `json:"data,omitempty"`
}

// NewWSMessage creates a new WebSocket message with the current timestamp.
func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// InitialData is the snapshot a client receives right after connecting.
type InitialData struct {
	Operations map[string]display.OperationSnapshot `json:"operations"`
	Health     *health.SystemStatus                  `json:"health,omitempty"`
}

// ErrorData describes a server-side error.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewProgressMessage wraps a progress update.
func NewProgressMessage(u monitor.ProgressUpdate) WSMessage {
	return NewWSMessage(MessageTypeProgress, u)
}

// NewHealthMessage wraps a health roll-up.
func NewHealthMessage(status health.SystemStatus) WSMessage {
	return NewWSMessage(MessageTypeHealth, status)
}

// NewInitialMessage wraps the connection snapshot.
func NewInitialMessage(data InitialData) WSMessage {
	return NewWSMessage(MessageTypeInitial, data)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) WSMessage {
	return NewWSMessage(MessageTypeError, ErrorData{Code: code, Message: message})
}
