package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"crewmonitor/display"
	"crewmonitor/health"
	"crewmonitor/metrics"
	"crewmonitor/monitor"
)

// DefaultTrendHours is the trend window used when ?hours= is absent.
const DefaultTrendHours = 24

// DefaultRecentPoints is the number of raw points returned when ?limit=
// is absent.
const DefaultRecentPoints = 100

// ProgressSource supplies the notification payload of every tracked
// operation. *monitor.Registry satisfies it.
type ProgressSource interface {
	ProgressAll() map[string]monitor.ProgressUpdate
}

var _ ProgressSource = (*monitor.Registry)(nil)

// DashboardAPI is a molecule serving the JSON endpoints of the monitor:
// live operations, the metrics dashboard and export, and health.
//
// Endpoints:
//   - GET /api/operations
//   - GET /api/operations/{id}
//   - GET /api/progress
//   - GET /api/dashboard
//   - GET /api/metrics/export?format=json|text|prometheus
//   - GET /api/metrics/recent?limit=N
//   - GET /api/health[?refresh=true]
//   - GET /api/health/trends?hours=N
type DashboardAPI struct {
	operations    display.OperationSource
	progress      ProgressSource
	collector     *metrics.Collector
	checker       *health.Checker
	healthOptions health.RunOptions
	logger        *zap.Logger
	now           func() time.Time
}

// DashboardAPIConfig configures the DashboardAPI.
type DashboardAPIConfig struct {
	// HealthOptions are the probes run by GET /api/health?refresh=true.
	HealthOptions health.RunOptions
	// Progress serves GET /api/progress; nil answers 503.
	Progress ProgressSource
}

// NewDashboardAPI creates the API over the given components. A nil
// collector or checker makes its endpoints answer 503.
func NewDashboardAPI(
	operations display.OperationSource,
	collector *metrics.Collector,
	checker *health.Checker,
	config DashboardAPIConfig,
	logger *zap.Logger,
) *DashboardAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardAPI{
		operations:    operations,
		progress:      config.Progress,
		collector:     collector,
		checker:       checker,
		healthOptions: config.HealthOptions,
		logger:        logger,
		now:           time.Now,
	}
}

// OperationsResponse represents the JSON response for /api/operations.
type OperationsResponse struct {
	Operations map[string]display.OperationSnapshot `json:"operations"`
	Count      int                                  `json:"count"`
}

// HandleOperations handles GET /api/operations.
func (api *DashboardAPI) HandleOperations(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	snapshots := display.Snapshots(api.operations, api.now())
	api.writeJSON(w, http.StatusOK, OperationsResponse{
		Operations: snapshots,
		Count:      len(snapshots),
	})
}

// HandleOperation handles GET /api/operations/{id}.
func (api *DashboardAPI) HandleOperation(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	id := r.PathValue("id")
	op, ok := api.operations.GetOperationStatus(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, "operation not found: "+id)
		return
	}
	api.writeJSON(w, http.StatusOK, display.Snapshot(op, api.now()))
}

// ProgressResponse represents the JSON response for /api/progress.
type ProgressResponse struct {
	Operations map[string]monitor.ProgressUpdate `json:"operations"`
	Count      int                               `json:"count"`
}

// HandleProgress handles GET /api/progress. The payloads are the ones
// pushed to WebSocket clients, so a client can resynchronize after a gap.
func (api *DashboardAPI) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.progress == nil {
		api.writeError(w, http.StatusServiceUnavailable, "progress payloads not configured")
		return
	}
	updates := api.progress.ProgressAll()
	api.writeJSON(w, http.StatusOK, ProgressResponse{
		Operations: updates,
		Count:      len(updates),
	})
}

// HandleDashboard handles GET /api/dashboard.
func (api *DashboardAPI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.collector == nil {
		api.writeError(w, http.StatusServiceUnavailable, "metrics collection not configured")
		return
	}
	api.writeJSON(w, http.StatusOK, api.collector.Dashboard())
}

// HandleExport handles GET /api/metrics/export?format=.
func (api *DashboardAPI) HandleExport(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.collector == nil {
		api.writeError(w, http.StatusServiceUnavailable, "metrics collection not configured")
		return
	}

	format, err := metrics.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := api.collector.Export(format)
	if err != nil {
		api.logger.Error("metrics export failed", zap.String("format", string(format)), zap.Error(err))
		api.writeError(w, http.StatusInternalServerError, "metrics export failed")
		return
	}

	contentType := "text/plain; charset=utf-8"
	switch format {
	case metrics.FormatJSON:
		contentType = "application/json"
	case metrics.FormatPrometheus:
		contentType = "text/plain; version=0.0.4; charset=utf-8"
	case metrics.FormatText:
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RecentPointsResponse represents the JSON response for /api/metrics/recent.
type RecentPointsResponse struct {
	Points []metrics.MetricPoint `json:"points"`
	Count  int                   `json:"count"`
}

// HandleRecentPoints handles GET /api/metrics/recent?limit=. Points are
// returned oldest first.
func (api *DashboardAPI) HandleRecentPoints(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.collector == nil {
		api.writeError(w, http.StatusServiceUnavailable, "metrics collection not configured")
		return
	}

	limit := DefaultRecentPoints
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	points := api.collector.RecentPoints(limit)
	if points == nil {
		points = []metrics.MetricPoint{}
	}
	api.writeJSON(w, http.StatusOK, RecentPointsResponse{Points: points, Count: len(points)})
}

// HandleHealth handles GET /api/health. With refresh=true the configured
// probes run first. A critical overall status answers 503.
func (api *DashboardAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.checker == nil {
		api.writeError(w, http.StatusServiceUnavailable, "health checking not configured")
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		api.checker.RunAll(r.Context(), api.healthOptions)
	}

	status := api.checker.SystemStatus()
	code := http.StatusOK
	if status.OverallStatus == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	api.writeJSON(w, code, status)
}

// HandleHealthTrends handles GET /api/health/trends?hours=.
func (api *DashboardAPI) HandleHealthTrends(w http.ResponseWriter, r *http.Request) {
	if !api.allowGet(w, r) {
		return
	}
	if api.checker == nil {
		api.writeError(w, http.StatusServiceUnavailable, "health checking not configured")
		return
	}

	hours := float64(DefaultTrendHours)
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			api.writeError(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
		hours = parsed
	}
	api.writeJSON(w, http.StatusOK, api.checker.Trends(time.Duration(hours*float64(time.Hour))))
}

// RegisterRoutes registers all API routes on the given ServeMux.
func (api *DashboardAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/operations", api.HandleOperations)
	mux.HandleFunc("/api/operations/{id}", api.HandleOperation)
	mux.HandleFunc("/api/progress", api.HandleProgress)
	mux.HandleFunc("/api/dashboard", api.HandleDashboard)
	mux.HandleFunc("/api/metrics/export", api.HandleExport)
	mux.HandleFunc("/api/metrics/recent", api.HandleRecentPoints)
	mux.HandleFunc("/api/health", api.HandleHealth)
	mux.HandleFunc("/api/health/trends", api.HandleHealthTrends)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (api *DashboardAPI) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	api.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// writeJSON writes a JSON response with the given status code.
func (api *DashboardAPI) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		api.logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		api.logger.Debug("failed to write response", zap.Error(err))
	}
}

// writeError writes an error response.
func (api *DashboardAPI) writeError(w http.ResponseWriter, status int, message string) {
	api.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
