package monitor

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Step texts written by the registry itself.
const (
	StepInitializing = "Initializing..."
	StepCompleted    = "Completed"
	StepFailed       = "Failed"
	StepCancelled    = "Cancelled"
	StepExecuting    = "Executing..."
)

// Metadata keys written by the registry and its helpers.
const (
	MetaTokensProcessed = "tokens_processed"
	MetaError           = "error"
	MetaErrorType       = "error_type"
)

// LiveOperation is a point-in-time copy of one tracked operation.
// Values returned by the Registry are snapshots; mutating them has no
// effect on the registry.
type LiveOperation struct {
	ID              string          `json:"operation_id"`
	Type            string          `json:"operation_type"`
	Status          OperationStatus `json:"status"`
	ProgressPercent float64         `json:"progress_percent"`
	CurrentStep     string          `json:"current_step"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	// EstimatedDuration is the expected total run time in seconds,
	// nil when nothing is known about the operation type.
	EstimatedDuration *float64 `json:"estimated_duration,omitempty"`
	TokensProcessed   int64    `json:"tokens_processed"`
	Metadata          Metadata `json:"metadata,omitempty"`
}

// ElapsedSeconds returns seconds since start. Once the operation has an
// end time the value is frozen at end minus start.
func (op LiveOperation) ElapsedSeconds(now time.Time) float64 {
	end := now
	if op.EndTime != nil {
		end = *op.EndTime
	}
	elapsed := end.Sub(op.StartTime).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// EstimatedRemainingSeconds extrapolates the remaining run time from the
// fraction already done. The boolean is false when no estimate can be
// made: progress is still zero or the operation type has no duration
// estimate. At 100% the remaining time is zero.
func (op LiveOperation) EstimatedRemainingSeconds(now time.Time) (float64, bool) {
	if op.ProgressPercent <= 0 || op.EstimatedDuration == nil {
		return 0, false
	}
	if op.ProgressPercent >= 100 {
		return 0, true
	}
	elapsed := op.ElapsedSeconds(now)
	total := elapsed / (op.ProgressPercent / 100)
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// TokensPerSecond returns the token throughput so far, or 0 when there are
// no tokens or no elapsed time.
func (op LiveOperation) TokensPerSecond(now time.Time) float64 {
	elapsed := op.ElapsedSeconds(now)
	if op.TokensProcessed <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(op.TokensProcessed) / elapsed
}

// clone deep-copies the pointer and map fields.
func (op LiveOperation) clone() LiveOperation {
	out := op
	if op.EndTime != nil {
		end := *op.EndTime
		out.EndTime = &end
	}
	if op.EstimatedDuration != nil {
		est := *op.EstimatedDuration
		out.EstimatedDuration = &est
	}
	out.Metadata = op.Metadata.Clone()
	return out
}

// ProgressUpdate is the immutable notification delivered to sinks.
type ProgressUpdate struct {
	OperationID   string          `json:"operation_id"`
	OperationType string          `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	Progress      float64         `json:"progress"`
	CurrentStep   string          `json:"current_step"`
	// EstimatedRemaining is nil when the remaining time is unknown.
	EstimatedRemaining *float64  `json:"estimated_remaining"`
	ElapsedSeconds     float64   `json:"elapsed_time"`
	TokensProcessed    int64     `json:"tokens_processed"`
	TokensPerSecond    float64   `json:"tokens_per_second"`
	Metadata           Metadata  `json:"metadata,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewProgressUpdate builds the notification for op as of now.
func NewProgressUpdate(op LiveOperation, now time.Time) ProgressUpdate {
	u := ProgressUpdate{
		OperationID:     op.ID,
		OperationType:   op.Type,
		Status:          op.Status,
		Progress:        op.ProgressPercent,
		CurrentStep:     op.CurrentStep,
		ElapsedSeconds:  op.ElapsedSeconds(now),
		TokensProcessed: op.TokensProcessed,
		TokensPerSecond: op.TokensPerSecond(now),
		Metadata:        op.Metadata.Clone(),
		Timestamp:       now,
	}
	if remaining, ok := op.EstimatedRemainingSeconds(now); ok {
		u.EstimatedRemaining = &remaining
	}
	return u
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (u ProgressUpdate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation_id", u.OperationID)
	enc.AddString("operation_type", u.OperationType)
	enc.AddString("status", u.Status.String())
	enc.AddFloat64("progress", u.Progress)
	enc.AddString("current_step", u.CurrentStep)
	enc.AddFloat64("elapsed_seconds", u.ElapsedSeconds)
	if u.EstimatedRemaining != nil {
		enc.AddFloat64("eta_seconds", *u.EstimatedRemaining)
	}
	if u.TokensProcessed > 0 {
		enc.AddInt64("tokens_processed", u.TokensProcessed)
		enc.AddFloat64("tokens_per_second", u.TokensPerSecond)
	}
	if len(u.Metadata) > 0 {
		return enc.AddObject("metadata", u.Metadata)
	}
	return nil
}
