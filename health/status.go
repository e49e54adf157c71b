package health

import (
	"sort"
	"time"
)

// Recommendation texts produced by SystemStatus.
const (
	RecommendCritical = "Address critical issues immediately"
	RecommendWarning  = "Monitor warning conditions"
	RecommendHealthy  = "System is operating normally"
)

// SystemStatus is the roll-up of the latest result of every probe.
type SystemStatus struct {
	OverallStatus   Status               `json:"overall_status"`
	Timestamp       time.Time            `json:"timestamp"`
	Components      map[string]Check     `json:"components"`
	CriticalIssues  []string             `json:"critical_issues"`
	WarningIssues   []string             `json:"warning_issues"`
	Recommendations []string             `json:"recommendations"`
	Thresholds      map[string]Threshold `json:"thresholds"`
	TotalChecks     int                  `json:"total_checks"`
	LastRun         *time.Time           `json:"last_run,omitempty"`
}

// SystemStatus rolls up the most recent check of each name. The overall
// status is the worst component status, or unknown when nothing has run.
func (c *Checker) SystemStatus() SystemStatus {
	c.mu.RLock()
	all := c.history.All()
	var lastRun *time.Time
	if !c.lastRun.IsZero() {
		t := c.lastRun
		lastRun = &t
	}
	c.mu.RUnlock()

	latest := make(map[string]Check)
	for _, check := range all {
		latest[check.Name] = check
	}

	status := SystemStatus{
		OverallStatus:   StatusUnknown,
		Timestamp:       c.now(),
		Components:      latest,
		CriticalIssues:  []string{},
		WarningIssues:   []string{},
		Recommendations: []string{},
		Thresholds:      c.Thresholds(),
		TotalChecks:     len(all),
		LastRun:         lastRun,
	}
	if len(latest) == 0 {
		return status
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := StatusHealthy
	for _, name := range names {
		check := latest[name]
		overall = overall.Worse(check.Status)
		switch check.Status {
		case StatusCritical:
			status.CriticalIssues = append(status.CriticalIssues, name+": "+check.Message)
		case StatusWarning:
			status.WarningIssues = append(status.WarningIssues, name+": "+check.Message)
		case StatusHealthy, StatusUnknown:
		}
	}
	status.OverallStatus = overall

	if len(status.CriticalIssues) > 0 {
		status.Recommendations = append(status.Recommendations, RecommendCritical)
	}
	if len(status.WarningIssues) > 0 {
		status.Recommendations = append(status.Recommendations, RecommendWarning)
	}
	if len(status.Recommendations) == 0 {
		status.Recommendations = append(status.Recommendations, RecommendHealthy)
	}
	return status
}

// CheckTrend summarises one probe over a window.
type CheckTrend struct {
	TotalChecks       int     `json:"total_checks"`
	HealthyRate       float64 `json:"healthy_rate"`
	WarningRate       float64 `json:"warning_rate"`
	CriticalRate      float64 `json:"critical_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	LatestStatus      Status  `json:"latest_status"`
}

// Trends summarises history within a window.
type Trends struct {
	WindowHours   float64               `json:"window_hours"`
	TotalChecks   int                   `json:"total_checks"`
	Checks        map[string]CheckTrend `json:"checks"`
	MostReliable  string                `json:"most_reliable,omitempty"`
	LeastReliable string                `json:"least_reliable,omitempty"`
	Fastest       string                `json:"fastest,omitempty"`
	Slowest       string                `json:"slowest,omitempty"`
}

// Trends computes per-probe rates over checks newer than now-window.
// Ties in the reliability and speed rankings resolve by name.
func (c *Checker) Trends(window time.Duration) Trends {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := c.now().Add(-window)

	c.mu.RLock()
	all := c.history.All()
	c.mu.RUnlock()

	type acc struct {
		total, healthy, warning, critical int
		responseMs                        float64
		latest                            Check
	}
	byName := make(map[string]*acc)
	total := 0
	for _, check := range all {
		if check.Timestamp.Before(cutoff) {
			continue
		}
		total++
		a := byName[check.Name]
		if a == nil {
			a = &acc{}
			byName[check.Name] = a
		}
		a.total++
		a.responseMs += check.ResponseTimeMs()
		a.latest = check
		switch check.Status {
		case StatusHealthy:
			a.healthy++
		case StatusWarning:
			a.warning++
		case StatusCritical:
			a.critical++
		case StatusUnknown:
		}
	}

	trends := Trends{
		WindowHours: window.Hours(),
		TotalChecks: total,
		Checks:      make(map[string]CheckTrend, len(byName)),
	}
	names := make([]string, 0, len(byName))
	for name, a := range byName {
		n := float64(a.total)
		trends.Checks[name] = CheckTrend{
			TotalChecks:       a.total,
			HealthyRate:       float64(a.healthy) / n,
			WarningRate:       float64(a.warning) / n,
			CriticalRate:      float64(a.critical) / n,
			AvgResponseTimeMs: a.responseMs / n,
			LatestStatus:      a.latest.Status,
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return trends
	}
	sort.Strings(names)

	most, least, fastest, slowest := names[0], names[0], names[0], names[0]
	for _, name := range names[1:] {
		t := trends.Checks[name]
		if t.HealthyRate > trends.Checks[most].HealthyRate {
			most = name
		}
		if t.HealthyRate < trends.Checks[least].HealthyRate {
			least = name
		}
		if t.AvgResponseTimeMs < trends.Checks[fastest].AvgResponseTimeMs {
			fastest = name
		}
		if t.AvgResponseTimeMs > trends.Checks[slowest].AvgResponseTimeMs {
			slowest = name
		}
	}
	trends.MostReliable, trends.LeastReliable = most, least
	trends.Fastest, trends.Slowest = fastest, slowest
	return trends
}
