// Package health runs system, endpoint and configuration probes, keeps a
// rolling history of results, and rolls them up into an overall status.
package health

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Status is the classification of a health check.
type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// severity orders statuses for roll-ups. Unknown carries no evidence of
// a problem and ranks with healthy.
func (s Status) severity() int {
	switch s {
	case StatusHealthy, StatusUnknown:
		return 0
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	default:
		return 0
	}
}

// Worse returns whichever of s and other is more severe.
func (s Status) Worse(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// ParseStatus converts a wire name back into a Status.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "healthy":
		return StatusHealthy, nil
	case "warning":
		return StatusWarning, nil
	case "critical":
		return StatusCritical, nil
	case "unknown":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown health status %q", name)
	}
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Check is the result of one probe.
type Check struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"-"`
	Details   map[string]any `json:"details,omitempty"`
}

// ResponseTimeMs returns the probe duration in milliseconds.
func (c Check) ResponseTimeMs() float64 {
	return float64(c.Duration) / float64(time.Millisecond)
}

// MarshalJSON adds response_time_ms to the encoded check.
func (c Check) MarshalJSON() ([]byte, error) {
	type plain Check
	return json.Marshal(struct {
		plain
		ResponseTimeMs float64 `json:"response_time_ms"`
	}{plain(c), c.ResponseTimeMs()})
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c Check) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", c.Name)
	enc.AddString("status", c.Status.String())
	enc.AddString("message", c.Message)
	enc.AddDuration("duration", c.Duration)
	return nil
}

// Threshold is a warning/critical pair. A reading at or above Critical
// is critical; at or above Warning is a warning.
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Classify maps a reading onto a status.
func (t Threshold) Classify(v float64) Status {
	switch {
	case v >= t.Critical:
		return StatusCritical
	case v >= t.Warning:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Threshold names understood by the resource and responsiveness probes.
const (
	ThresholdCPU          = "cpu_usage"
	ThresholdMemory       = "memory_usage"
	ThresholdDisk         = "disk_usage"
	ThresholdResponseTime = "response_time"
)

// DefaultThresholds returns the built-in thresholds. CPU, memory and disk
// are percentages; response time is milliseconds.
// This is a pure function with no side effects.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		ThresholdCPU:          {Warning: 70, Critical: 90},
		ThresholdMemory:       {Warning: 80, Critical: 95},
		ThresholdDisk:         {Warning: 85, Critical: 95},
		ThresholdResponseTime: {Warning: 5000, Critical: 10000},
	}
}
