package display

import (
	"encoding/json"
	"fmt"
	"time"

	"crewmonitor/monitor"
)

// OperationSource is the read side of the registry used for snapshots.
type OperationSource interface {
	GetOperationStatus(id string) (monitor.LiveOperation, bool)
	GetActiveOperations() map[string]monitor.LiveOperation
}

var _ OperationSource = (*monitor.Registry)(nil)

// OperationSnapshot is the JSON view of one operation. An unknown ETA is
// encoded as a null estimated_remaining_seconds with eta "unknown".
type OperationSnapshot struct {
	OperationID               string                  `json:"operation_id"`
	OperationType             string                  `json:"operation_type"`
	Status                    monitor.OperationStatus `json:"status"`
	ProgressPercent           float64                 `json:"progress_percent"`
	CurrentStep               string                  `json:"current_step"`
	ElapsedSeconds            float64                 `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64                `json:"estimated_remaining_seconds"`
	ETA                       string                  `json:"eta"`
	TokensProcessed           int64                   `json:"tokens_processed"`
	TokensPerSecond           float64                 `json:"tokens_per_second"`
	StartTime                 time.Time               `json:"start_time"`
	EndTime                   *time.Time              `json:"end_time,omitempty"`
	Metadata                  monitor.Metadata        `json:"metadata"`
}

// Snapshot builds the JSON view of op as of now.
func Snapshot(op monitor.LiveOperation, now time.Time) OperationSnapshot {
	s := OperationSnapshot{
		OperationID:     op.ID,
		OperationType:   op.Type,
		Status:          op.Status,
		ProgressPercent: op.ProgressPercent,
		CurrentStep:     op.CurrentStep,
		ElapsedSeconds:  op.ElapsedSeconds(now),
		TokensProcessed: op.TokensProcessed,
		TokensPerSecond: op.TokensPerSecond(now),
		StartTime:       op.StartTime,
		EndTime:         op.EndTime,
		Metadata:        op.Metadata,
	}
	if s.Metadata == nil {
		s.Metadata = monitor.Metadata{}
	}
	if remaining, ok := op.EstimatedRemainingSeconds(now); ok {
		s.EstimatedRemainingSeconds = &remaining
	}
	s.ETA = FormatETA(s.EstimatedRemainingSeconds)
	return s
}

// Snapshots returns the JSON view of every operation in src.
func Snapshots(src OperationSource, now time.Time) map[string]OperationSnapshot {
	ops := src.GetActiveOperations()
	out := make(map[string]OperationSnapshot, len(ops))
	for id, op := range ops {
		out[id] = Snapshot(op, now)
	}
	return out
}

// OperationJSON returns the indented JSON snapshot of one operation. An
// unknown id yields monitor.ErrOperationNotFound.
func OperationJSON(src OperationSource, id string) ([]byte, error) {
	op, ok := src.GetOperationStatus(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", monitor.ErrOperationNotFound, id)
	}
	return json.MarshalIndent(Snapshot(op, time.Now()), "", "  ")
}

// OperationsJSON returns the indented JSON snapshots of every operation,
// keyed by id. An empty registry yields "{}".
func OperationsJSON(src OperationSource) ([]byte, error) {
	return json.MarshalIndent(Snapshots(src, time.Now()), "", "  ")
}
