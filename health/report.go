package health

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
)

// WriteReport prints a colored summary of status to w.
func WriteReport(w io.Writer, status SystemStatus) {
	fmt.Fprintln(w)
	header := color.New(color.FgCyan, color.Bold)
	header.Fprintf(w, "━━━ System Health: %s ━━━\n", status.OverallStatus)
	fmt.Fprintln(w)

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := status.Components[name]
		icon, clr := statusStyle(check.Status)
		clr.Fprintf(w, "  %s %s", icon, name)
		if check.Message != "" {
			color.New(color.FgHiBlack).Fprintf(w, " - %s", check.Message)
		}
		fmt.Fprintln(w)
	}

	if len(status.Recommendations) > 0 {
		fmt.Fprintln(w)
		for _, rec := range status.Recommendations {
			fmt.Fprintf(w, "  → %s\n", rec)
		}
	}
	fmt.Fprintln(w)
}

func statusStyle(s Status) (string, *color.Color) {
	switch s {
	case StatusHealthy:
		return "✓", color.New(color.FgGreen)
	case StatusWarning:
		return "!", color.New(color.FgYellow)
	case StatusCritical:
		return "✗", color.New(color.FgRed)
	default:
		return "?", color.New(color.FgHiBlack)
	}
}
