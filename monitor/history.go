package monitor

// DefaultDurationEstimates are the fallback run times, in seconds, used
// for operation types that have no recorded history yet.
var DefaultDurationEstimates = map[string]float64{
	"llm_chat":       5.0,
	"llm_completion": 10.0,
	"llm_generation": 15.0,
	"crew_execution": 30.0,
	"agent_task":     8.0,
}

// durationHistory keeps the most recent completed durations per
// operation type. It is not safe for concurrent use; the Registry
// guards it with its own lock.
type durationHistory struct {
	limit    int
	defaults map[string]float64
	samples  map[string][]float64
}

func newDurationHistory(limit int, defaults map[string]float64) *durationHistory {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	d := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &durationHistory{
		limit:    limit,
		defaults: d,
		samples:  make(map[string][]float64),
	}
}

// record appends a duration, evicting the oldest sample past the limit.
func (h *durationHistory) record(opType string, seconds float64) {
	s := append(h.samples[opType], seconds)
	if len(s) > h.limit {
		s = append([]float64(nil), s[len(s)-h.limit:]...)
	}
	h.samples[opType] = s
}

// estimate returns the mean of recorded samples, falling back to the
// static table. The boolean is false when neither source knows the type.
func (h *durationHistory) estimate(opType string) (float64, bool) {
	if s := h.samples[opType]; len(s) > 0 {
		var sum float64
		for _, v := range s {
			sum += v
		}
		return sum / float64(len(s)), true
	}
	v, ok := h.defaults[opType]
	return v, ok
}

// snapshot returns a copy of the samples for one type.
func (h *durationHistory) snapshot(opType string) []float64 {
	return append([]float64(nil), h.samples[opType]...)
}
