package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"crewmonitor/monitor"
)

// DefaultBarWidth is the number of cells in the progress bar.
const DefaultBarWidth = 30

// statusGlyphs maps each status to its console marker.
var statusGlyphs = map[monitor.OperationStatus]string{
	monitor.StatusQueued:       "⏳",
	monitor.StatusInitializing: "🔄",
	monitor.StatusProcessing:   "⚙️",
	monitor.StatusStreaming:    "📡",
	monitor.StatusFinalizing:   "🔄",
	monitor.StatusCompleted:    "✅",
	monitor.StatusFailed:       "❌",
	monitor.StatusCancelled:    "⏹️",
}

// ConsoleRenderer draws one carriage-return-refreshed progress line per
// update and ends the line when an operation reaches a terminal state.
// It implements monitor.Sink.
//
// Usage:
//
//	renderer := display.NewConsoleRenderer(os.Stdout)
//	unsubscribe := registry.Subscribe(renderer)
//	defer unsubscribe()
type ConsoleRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	barWidth int
	enabled  atomic.Bool
}

var _ monitor.Sink = (*ConsoleRenderer)(nil)

// NewConsoleRenderer creates an enabled renderer writing to w, or to
// stdout when w is nil.
func NewConsoleRenderer(w io.Writer) *ConsoleRenderer {
	if w == nil {
		w = os.Stdout
	}
	r := &ConsoleRenderer{out: w, barWidth: DefaultBarWidth}
	r.enabled.Store(true)
	return r
}

// Enable turns rendering on.
func (r *ConsoleRenderer) Enable() { r.enabled.Store(true) }

// Disable turns rendering off; updates are ignored until Enable.
func (r *ConsoleRenderer) Disable() { r.enabled.Store(false) }

// Enabled reports whether updates are rendered.
func (r *ConsoleRenderer) Enabled() bool { return r.enabled.Load() }

// OnProgress implements monitor.Sink.
func (r *ConsoleRenderer) OnProgress(u monitor.ProgressUpdate) {
	if !r.Enabled() {
		return
	}
	line := r.Render(u)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, "\r"+line)
	if u.Status.IsTerminal() {
		fmt.Fprintln(r.out)
	}
}

// Render formats u as a single progress line without the leading carriage
// return, e.g.
//
//	⚙️ [█████████░░░░░░░░░░░░░░░░░░░░░]  30.0% | Executing... | ETA: 12.5s | 1,024 tok @ 48.2 tok/s
func (r *ConsoleRenderer) Render(u monitor.ProgressUpdate) string {
	glyph, ok := statusGlyphs[u.Status]
	if !ok {
		glyph = "🔄"
	}

	filled := int(float64(r.barWidth) * u.Progress / 100)
	filled = min(max(filled, 0), r.barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", r.barWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %5.1f%% | %s", glyph, barColor(u.Status).Sprint(bar), u.Progress, u.CurrentStep)
	if !u.Status.IsTerminal() {
		fmt.Fprintf(&b, " | ETA: %s", FormatETA(u.EstimatedRemaining))
	}
	if u.TokensProcessed > 0 {
		fmt.Fprintf(&b, " | %s tok @ %.1f tok/s", humanize.Comma(u.TokensProcessed), u.TokensPerSecond)
	}
	return b.String()
}

func barColor(s monitor.OperationStatus) *color.Color {
	switch s {
	case monitor.StatusCompleted:
		return color.New(color.FgGreen)
	case monitor.StatusFailed:
		return color.New(color.FgRed)
	case monitor.StatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
