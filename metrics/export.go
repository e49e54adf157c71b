package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/common/expfmt"
)

// Format selects an export encoding.
type Format string

const (
	// FormatJSON is the indented JSON dashboard.
	FormatJSON Format = "json"
	// FormatText is one "<namespace>_<name> <value>" line per counter
	// and gauge, sorted by name.
	FormatText Format = "text"
	// FormatPrometheus is the Prometheus text exposition format.
	FormatPrometheus Format = "prometheus"
)

// ErrUnsupportedFormat is returned by Export for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat converts a user-supplied name into a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatText, FormatPrometheus:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Export serializes the collector's state in the requested format.
func (c *Collector) Export(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(c.Dashboard(), "", "  ")
	case FormatText:
		return c.exportText(), nil
	case FormatPrometheus:
		return c.exportPrometheus()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
}

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// sanitizeMetricName maps an arbitrary name onto the metric name alphabet.
func sanitizeMetricName(name string) string {
	return invalidMetricChars.ReplaceAllString(name, "_")
}

func (c *Collector) exportText() []byte {
	c.mu.RLock()
	lines := make([]string, 0, len(c.counters)+len(c.gauges))
	for name, v := range c.counters {
		lines = append(lines, c.cfg.Namespace+"_"+sanitizeMetricName(name)+" "+strconv.FormatFloat(v, 'f', -1, 64))
	}
	for name, v := range c.gauges {
		lines = append(lines, c.cfg.Namespace+"_"+sanitizeMetricName(name)+" "+strconv.FormatFloat(v, 'f', -1, 64))
	}
	c.mu.RUnlock()

	sort.Strings(lines)
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func (c *Collector) exportPrometheus() ([]byte, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
