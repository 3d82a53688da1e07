package funnel

import (
	"fmt"
	"strings"
)

// Metric identifies one series of a funnel statistics table.
type Metric int

const (
	// MetricCount is the raw number of leads resting at the stage.
	MetricCount Metric = iota
	// MetricFunnelProgression counts leads at the stage or any later one.
	MetricFunnelProgression
	// MetricStartingFrom is the previous stage's progression, the population that could
	// have advanced into this stage.
	MetricStartingFrom
	// MetricStageLoss is the change in progression from the previous stage (never positive).
	MetricStageLoss
	// MetricKeptStage is progression over startingFrom.
	MetricKeptStage
	// MetricKeptOverall is progression over the baseline stage's progression.
	MetricKeptOverall
)

var metricNames = [...]string{
	MetricCount:             "count",
	MetricFunnelProgression: "funnelProgression",
	MetricStartingFrom:      "startingFrom",
	MetricStageLoss:         "stageLoss",
	MetricKeptStage:         "keptStage",
	MetricKeptOverall:       "keptOverall",
}

// DerivedMetrics lists the five series computed per segment, in column order.
func DerivedMetrics() []Metric {
	return []Metric{MetricFunnelProgression, MetricStartingFrom, MetricStageLoss, MetricKeptStage, MetricKeptOverall}
}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

// Suffix is appended to a segment value to name the metric's column. Counts keep the bare
// segment name.
func (m Metric) Suffix() string {
	if m == MetricCount {
		return ""
	}
	return "_" + m.String()
}

// IsRatio reports whether the metric is a retention ratio.
func (m Metric) IsRatio() bool {
	return m == MetricKeptStage || m == MetricKeptOverall
}

// ParseMetric accepts a metric name with or without its leading underscore, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), "_")
	for i, n := range metricNames {
		if strings.EqualFold(n, name) {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("funnel: unknown metric %q", s)
}

// ColumnName joins a segment value and a metric into the flat column name used for display.
func ColumnName(segment string, m Metric) string {
	return segment + m.Suffix()
}

// MarshalText encodes the metric by name.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a metric name.
func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
