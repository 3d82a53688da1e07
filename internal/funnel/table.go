package funnel

import (
	"gopkg.in/guregu/null.v3"
)

// SegmentStats holds the derived series of one segment column, aligned with Table.Rows.
// Invalid null values mark cells where the quantity is not applicable.
type SegmentStats struct {
	Segment           string       `json:"segment"`
	Count             []int64      `json:"count"`
	FunnelProgression []int64      `json:"funnelProgression"`
	StartingFrom      []null.Int   `json:"startingFrom"`
	StageLoss         []null.Int   `json:"stageLoss"`
	KeptStage         []null.Float `json:"keptStage"`
	KeptOverall       []null.Float `json:"keptOverall"`
}

// Table is a funnel statistics table: stage rows in ascending order and, per segment, the
// original counts plus the five derived series.
type Table struct {
	Dimension string `json:"dimension"`
	Rows      []Row  `json:"rows"`
	// Baseline is the stage whose progression is the 100% reference for keptOverall.
	Baseline Stage `json:"baseline"`
	// BaselineImplicit is set when the caller did not choose a baseline and the lowest stage
	// of the table was used. Restricting the stage range then changes what keptOverall means.
	BaselineImplicit bool           `json:"baselineImplicit"`
	Segments         []SegmentStats `json:"segments"`
}

// Column is one flattened table column.
type Column struct {
	Name    string       `json:"name"`
	Segment string       `json:"segment"`
	Metric  Metric       `json:"metric"`
	Values  []null.Float `json:"values"`
}

// SegmentNames returns the segment keys in column order.
func (t *Table) SegmentNames() []string {
	out := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		out[i] = s.Segment
	}
	return out
}

// Segment returns the stats of one segment.
func (t *Table) Segment(name string) (*SegmentStats, bool) {
	for i := range t.Segments {
		if t.Segments[i].Segment == name {
			return &t.Segments[i], true
		}
	}
	return nil, false
}

// Series returns one metric of one segment as nullable floats aligned with Rows.
func (t *Table) Series(segment string, m Metric) ([]null.Float, bool) {
	s, ok := t.Segment(segment)
	if !ok {
		return nil, false
	}
	return s.series(m)
}

// Value returns a single cell.
func (t *Table) Value(stage Stage, segment string, m Metric) (null.Float, bool) {
	series, ok := t.Series(segment, m)
	if !ok {
		return null.Float{}, false
	}
	for i, r := range t.Rows {
		if r.Stage == stage {
			return series[i], true
		}
	}
	return null.Float{}, false
}

// Columns flattens the table the way it is displayed: every count column first, then the
// five derived columns of each segment.
func (t *Table) Columns() []Column {
	out := make([]Column, 0, len(t.Segments)*(1+len(DerivedMetrics())))
	for _, s := range t.Segments {
		v, _ := s.series(MetricCount)
		out = append(out, Column{Name: ColumnName(s.Segment, MetricCount), Segment: s.Segment, Metric: MetricCount, Values: v})
	}
	for _, s := range t.Segments {
		for _, m := range DerivedMetrics() {
			v, _ := s.series(m)
			out = append(out, Column{Name: ColumnName(s.Segment, m), Segment: s.Segment, Metric: m, Values: v})
		}
	}
	return out
}

// Bottleneck returns the row with the lowest defined keptStage for a segment.
func (t *Table) Bottleneck(segment string) (Row, bool) {
	s, ok := t.Segment(segment)
	if !ok {
		return Row{}, false
	}
	best := -1
	for i, v := range s.KeptStage {
		if !v.Valid {
			continue
		}
		if best < 0 || v.Float64 < s.KeptStage[best].Float64 {
			best = i
		}
	}
	if best < 0 {
		return Row{}, false
	}
	return t.Rows[best], true
}

func (s *SegmentStats) series(m Metric) ([]null.Float, bool) {
	n := len(s.Count)
	out := make([]null.Float, n)
	switch m {
	case MetricCount:
		for i, v := range s.Count {
			out[i] = null.FloatFrom(float64(v))
		}
	case MetricFunnelProgression:
		for i, v := range s.FunnelProgression {
			out[i] = null.FloatFrom(float64(v))
		}
	case MetricStartingFrom:
		for i, v := range s.StartingFrom {
			out[i] = null.NewFloat(float64(v.Int64), v.Valid)
		}
	case MetricStageLoss:
		for i, v := range s.StageLoss {
			out[i] = null.NewFloat(float64(v.Int64), v.Valid)
		}
	case MetricKeptStage:
		copy(out, s.KeptStage)
	case MetricKeptOverall:
		copy(out, s.KeptOverall)
	default:
		return nil, false
	}
	return out, true
}
