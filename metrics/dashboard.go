package metrics

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Dashboard is a point-in-time summary of everything the collector holds.
type Dashboard struct {
	Timestamp     time.Time             `json:"timestamp"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	System        SystemSummary         `json:"system"`
	Performance   PerformanceSummary    `json:"performance"`
	LLMUsage      LLMUsageSummary       `json:"llm_usage"`
	Agents        map[string]AgentStats `json:"agents"`
	Crew          CrewStats             `json:"crew"`
	Errors        ErrorSummary          `json:"errors"`
	Counters      map[string]float64    `json:"counters"`
	Gauges        map[string]float64    `json:"gauges"`
}

// SystemSummary describes the collector's own state plus the latest
// system_* gauges.
type SystemSummary struct {
	MetricsCount      int                `json:"metrics_count"`
	SeriesCount       int                `json:"series_count"`
	OperationsTracked int                `json:"operations_tracked"`
	SystemMetrics     map[string]float64 `json:"system_metrics"`
}

// OperationRank is one row of the top-operations table.
type OperationRank struct {
	Operation     string  `json:"operation"`
	Executions    int64   `json:"executions"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

// PerformanceSummary rolls up every operation aggregate.
type PerformanceSummary struct {
	OverallSuccessRate float64                     `json:"overall_success_rate"`
	TotalExecutions    int64                       `json:"total_executions"`
	TotalSuccesses     int64                       `json:"total_successes"`
	TopOperations      []OperationRank             `json:"top_operations"`
	OperationStats     map[string]PerformanceStats `json:"operation_stats"`
}

// LLMUsageSummary rolls up every provider/model aggregate.
type LLMUsageSummary struct {
	TotalRequests       int64                    `json:"total_requests"`
	TotalTokens         int64                    `json:"total_tokens"`
	TotalCost           float64                  `json:"total_cost"`
	AvgTokensPerRequest float64                  `json:"avg_tokens_per_request"`
	ProviderBreakdown   map[string]LLMUsageStats `json:"provider_breakdown"`
}

// ErrorSummary lists failure counts by pattern.
type ErrorSummary struct {
	Patterns    map[string]int64 `json:"patterns"`
	TotalErrors int64            `json:"total_errors"`
}

// Dashboard builds a consistent snapshot under one read lock.
func (c *Collector) Dashboard() Dashboard {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	d := Dashboard{
		Timestamp:     now,
		UptimeSeconds: now.Sub(c.startTime).Seconds(),
		Agents:        make(map[string]AgentStats, len(c.agents)),
		Crew:          c.crew,
		Counters:      copyFloatMap(c.counters),
		Gauges:        copyFloatMap(c.gauges),
	}

	d.System = SystemSummary{
		MetricsCount:      c.points.Len(),
		SeriesCount:       len(c.series),
		OperationsTracked: len(c.operations),
		SystemMetrics:     make(map[string]float64),
	}
	for name, v := range c.gauges {
		if strings.HasPrefix(name, "system_") {
			d.System.SystemMetrics[strings.TrimPrefix(name, "system_")] = v
		}
	}

	perf := PerformanceSummary{OperationStats: make(map[string]PerformanceStats, len(c.operations))}
	ranks := make([]OperationRank, 0, len(c.operations))
	for name, s := range c.operations {
		perf.OperationStats[name] = *s
		perf.TotalExecutions += s.TotalExecutions
		perf.TotalSuccesses += s.SuccessCount
		ranks = append(ranks, OperationRank{
			Operation:     name,
			Executions:    s.TotalExecutions,
			AvgDurationMs: s.AvgDurationMs,
			SuccessRate:   s.SuccessRate,
		})
	}
	if perf.TotalExecutions > 0 {
		perf.OverallSuccessRate = round(float64(perf.TotalSuccesses)/float64(perf.TotalExecutions), 3)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Executions != ranks[j].Executions {
			return ranks[i].Executions > ranks[j].Executions
		}
		return ranks[i].Operation < ranks[j].Operation
	})
	if len(ranks) > c.cfg.TopOperations {
		ranks = ranks[:c.cfg.TopOperations]
	}
	perf.TopOperations = ranks
	d.Performance = perf

	llm := LLMUsageSummary{ProviderBreakdown: make(map[string]LLMUsageStats, len(c.llm))}
	for key, s := range c.llm {
		llm.ProviderBreakdown[key] = *s
		llm.TotalRequests += s.TotalRequests
		llm.TotalTokens += s.TotalTokens
		llm.TotalCost += s.TotalCost
	}
	llm.TotalCost = round(llm.TotalCost, 4)
	if llm.TotalRequests > 0 {
		llm.AvgTokensPerRequest = float64(llm.TotalTokens) / float64(llm.TotalRequests)
	}
	d.LLMUsage = llm

	for role, s := range c.agents {
		d.Agents[role] = *s
	}

	errs := ErrorSummary{Patterns: make(map[string]int64, len(c.errorPatterns))}
	for k, v := range c.errorPatterns {
		errs.Patterns[k] = v
		errs.TotalErrors += v
	}
	d.Errors = errs

	return d
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
