// Package display renders operation progress for people and for JSON
// consumers: a colored single-line console renderer that plugs into the
// registry as a sink, and snapshot producers for the API.
package display

import (
	"fmt"
	"math"
	"time"
)

// ETAUnknown is shown when the remaining time cannot be estimated.
const ETAUnknown = "unknown"

// FormatETA renders a remaining-time estimate. Nil means unknown.
// This is a pure function with no side effects.
//
// Format rules:
//   - under a minute: one decimal, "12.5s"
//   - under an hour: "2m 30s"
//   - otherwise: "1h 5m"
func FormatETA(seconds *float64) string {
	if seconds == nil || math.IsNaN(*seconds) {
		return ETAUnknown
	}
	s := max(*seconds, 0)
	if s < 60 {
		return fmt.Sprintf("%.1fs", s)
	}
	return FormatDuration(time.Duration(s * float64(time.Second)))
}

// FormatDuration converts a duration to at most two units, e.g. "45s",
// "2m 30s", "2h 34m" or "3d 5h". Negative durations get a leading minus.
// This is a pure function with no side effects.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	const day = 24 * time.Hour

	days := d / day
	d %= day
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
