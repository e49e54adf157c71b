// Package metrics collects execution metrics for operations, LLM calls,
// agents and crews, and renders them as dashboards and exports.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetricType classifies a recorded point.
type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	Timer
)

// String returns the lowercase type name.
func (t MetricType) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Histogram:
		return "histogram"
	case Timer:
		return "timer"
	default:
		return fmt.Sprintf("MetricType(%d)", int(t))
	}
}

// MarshalJSON encodes the type by name.
func (t MetricType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// MetricPoint is one recorded sample.
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Type      MetricType        `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// PerformanceStats aggregates executions of one named operation.
// SuccessCount + ErrorCount always equals TotalExecutions.
type PerformanceStats struct {
	OperationName   string    `json:"operation_name"`
	TotalExecutions int64     `json:"total_executions"`
	TotalDurationMs float64   `json:"total_duration_ms"`
	MinDurationMs   float64   `json:"min_duration_ms"`
	MaxDurationMs   float64   `json:"max_duration_ms"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	LastExecution   time.Time `json:"last_execution"`
	SuccessCount    int64     `json:"success_count"`
	ErrorCount      int64     `json:"error_count"`
	SuccessRate     float64   `json:"success_rate"`
}

// record folds one execution into the aggregate.
func (s *PerformanceStats) record(durationMs float64, success bool, at time.Time) {
	if s.TotalExecutions == 0 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
	s.TotalExecutions++
	s.TotalDurationMs += durationMs
	s.AvgDurationMs = s.TotalDurationMs / float64(s.TotalExecutions)
	s.LastExecution = at
	if success {
		s.SuccessCount++
	} else {
		s.ErrorCount++
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalExecutions)
}

// LLMUsageStats aggregates calls to one provider/model pair.
type LLMUsageStats struct {
	Provider            string    `json:"provider"`
	Model               string    `json:"model"`
	TotalRequests       int64     `json:"total_requests"`
	TotalTokens         int64     `json:"total_tokens"`
	TotalCost           float64   `json:"total_cost"`
	TotalDurationMs     float64   `json:"total_duration_ms"`
	AvgTokensPerRequest float64   `json:"avg_tokens_per_request"`
	AvgDurationMs       float64   `json:"avg_duration_ms"`
	SuccessCount        int64     `json:"success_count"`
	ErrorCount          int64     `json:"error_count"`
	SuccessRate         float64   `json:"success_rate"`
	LastUsed            time.Time `json:"last_used"`
}

func (s *LLMUsageStats) record(u LLMUsage, at time.Time) {
	s.TotalRequests++
	s.TotalTokens += u.Tokens
	s.TotalCost += u.Cost
	s.TotalDurationMs += u.DurationMs
	s.AvgTokensPerRequest = float64(s.TotalTokens) / float64(s.TotalRequests)
	s.AvgDurationMs = s.TotalDurationMs / float64(s.TotalRequests)
	if u.Success {
		s.SuccessCount++
	} else {
		s.ErrorCount++
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalRequests)
	s.LastUsed = at
}

// AgentStats aggregates tasks executed by agents sharing one role.
type AgentStats struct {
	Role            string  `json:"role"`
	TotalTasks      int64   `json:"total_tasks"`
	SuccessCount    int64   `json:"success_count"`
	ErrorCount      int64   `json:"error_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	TotalTokens     int64   `json:"total_tokens"`
	// AvgQualityScore averages only the tasks that reported a score.
	AvgQualityScore float64 `json:"avg_quality_score"`
	QualitySamples  int64   `json:"quality_samples"`
}

func (s *AgentStats) record(t AgentTask) {
	s.TotalTasks++
	s.TotalDurationMs += t.DurationMs
	s.AvgDurationMs = s.TotalDurationMs / float64(s.TotalTasks)
	s.TotalTokens += t.Tokens
	if t.Success {
		s.SuccessCount++
	} else {
		s.ErrorCount++
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalTasks)
	if t.QualityScore != nil {
		total := s.AvgQualityScore*float64(s.QualitySamples) + *t.QualityScore
		s.QualitySamples++
		s.AvgQualityScore = total / float64(s.QualitySamples)
	}
}

// CrewStats aggregates crew executions.
type CrewStats struct {
	TotalExecutions int64   `json:"total_executions"`
	SuccessCount    int64   `json:"success_count"`
	ErrorCount      int64   `json:"error_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	AvgAgents       float64 `json:"avg_agents"`
	AvgTasks        float64 `json:"avg_tasks"`
	totalAgents     int64
	totalTasks      int64
}

func (s *CrewStats) record(c CrewExecution) {
	s.TotalExecutions++
	s.TotalDurationMs += c.DurationMs
	s.AvgDurationMs = s.TotalDurationMs / float64(s.TotalExecutions)
	s.totalAgents += int64(c.AgentsCount)
	s.totalTasks += int64(c.TasksCount)
	s.AvgAgents = float64(s.totalAgents) / float64(s.TotalExecutions)
	s.AvgTasks = float64(s.totalTasks) / float64(s.TotalExecutions)
	if c.Success {
		s.SuccessCount++
	} else {
		s.ErrorCount++
	}
	s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalExecutions)
}

// LLMUsage describes one completed LLM call.
type LLMUsage struct {
	Provider string
	Model    string
	// Operation names the kind of call, e.g. "chat" or "completion".
	Operation  string
	Tokens     int64
	DurationMs float64
	// Cost is in the provider's billing currency; zero means unknown or free.
	Cost    float64
	Success bool
	// ErrorType classifies a failed call; empty is recorded as "none".
	ErrorType   string
	OperationID string
}

// AgentTask describes one task executed by an agent.
type AgentTask struct {
	AgentID      string
	Role         string
	TaskType     string
	DurationMs   float64
	Tokens       int64
	Success      bool
	QualityScore *float64
}

// CrewExecution describes one crew run.
type CrewExecution struct {
	CrewID       string
	AgentsCount  int
	TasksCount   int
	DurationMs   float64
	Success      bool
	ResultLength int
}
