package funnel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// CompositeSeparator joins segment values when a query groups by several dimensions.
const CompositeSeparator = "|"

// Query selects the population and segmentation of one analysis. Every call carries its own
// dimensions and filter; nothing is read from shared state.
type Query struct {
	Dimensions []Dimension
	Filter     Predicate
	// Stages restricts the stage axis (for example an age-band analysis that only makes sense
	// from stage 3 on). Records outside the range are dropped before grouping.
	Stages *StageRange
}

// Aggregator reduces lead records into dense stage-by-segment count matrices.
type Aggregator struct {
	MaxStage Stage
	Labels   LabelFunc
}

// NewAggregator returns an aggregator accepting stages in [0, maxStage].
func NewAggregator(maxStage Stage, labels LabelFunc) *Aggregator {
	return &Aggregator{MaxStage: maxStage, Labels: labels}
}

type cellKey struct {
	stage   Stage
	segment string
}

// Aggregate groups records by stage and segment value and pivots the counts into a Matrix.
// The stage axis is gap-free from the lowest to the highest retained stage (or the query's
// stage range) and every unobserved cell is zero.
func (a *Aggregator) Aggregate(records []Record, q Query) (*Matrix, error) {
	if len(q.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: no segment dimension selected", ErrInvalidSchema)
	}
	if q.Stages != nil && q.Stages.From > q.Stages.To {
		return nil, fmt.Errorf("%w: stage range %d..%d is inverted", ErrInvalidSchema, q.Stages.From, q.Stages.To)
	}
	if q.Stages != nil && (q.Stages.From < 0 || q.Stages.To > a.MaxStage) {
		return nil, fmt.Errorf("%w: stage range %d..%d outside 0..%d", ErrInvalidSchema, q.Stages.From, q.Stages.To, a.MaxStage)
	}

	kept := lo.Filter(records, func(r Record, _ int) bool {
		if q.Filter != nil && !q.Filter(r) {
			return false
		}
		return q.Stages == nil || q.Stages.Contains(r.Stage)
	})
	if len(kept) == 0 {
		return nil, ErrEmptyDataset
	}

	keys := make([]cellKey, len(kept))
	labels := map[Stage]string{}
	for i, r := range kept {
		if r.Stage < 0 || r.Stage > a.MaxStage {
			return nil, fmt.Errorf("%w: stage %d outside 0..%d", ErrInvalidSchema, r.Stage, a.MaxStage)
		}
		seg, err := segmentOf(r, q.Dimensions)
		if err != nil {
			return nil, err
		}
		keys[i] = cellKey{stage: r.Stage, segment: seg}
		if _, ok := labels[r.Stage]; !ok && r.Label != "" {
			labels[r.Stage] = r.Label
		}
	}

	counts := make(map[cellKey]int64, len(keys))
	for _, k := range keys {
		counts[k]++
	}

	segments := sortSegments(lo.Uniq(lo.Map(keys, func(k cellKey, _ int) string { return k.segment })))

	first := lo.MinBy(keys, func(a, b cellKey) bool { return a.stage < b.stage }).stage
	last := lo.MaxBy(keys, func(a, b cellKey) bool { return a.stage > b.stage }).stage
	if q.Stages != nil {
		first, last = q.Stages.From, q.Stages.To
	}

	rows := make([]Row, 0, int(last-first)+1)
	for s := first; s <= last; s++ {
		label, ok := labels[s]
		if !ok && a.Labels != nil {
			label = a.Labels(s)
		}
		rows = append(rows, Row{Stage: s, Label: label})
	}

	m := NewMatrix(dimensionName(q.Dimensions), rows, segments)
	for i, row := range m.Rows {
		for j, seg := range m.Segments {
			m.Counts[i][j] = counts[cellKey{stage: row.Stage, segment: seg}]
		}
	}
	return m, nil
}

// AggregateEach builds one independent matrix per dimension over the same population.
func (a *Aggregator) AggregateEach(records []Record, filter Predicate, dims ...Dimension) (map[Dimension]*Matrix, error) {
	out := make(map[Dimension]*Matrix, len(dims))
	for _, d := range dims {
		m, err := a.Aggregate(records, Query{Dimensions: []Dimension{d}, Filter: filter})
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", d, err)
		}
		out[d] = m
	}
	return out, nil
}

func segmentOf(r Record, dims []Dimension) (string, error) {
	parts := make([]string, len(dims))
	for i, d := range dims {
		v, ok := r.Fields[d]
		if !ok {
			return "", fmt.Errorf("%w: record at stage %d has no %q field", ErrInvalidSchema, r.Stage, d)
		}
		parts[i] = SegmentKey(v)
	}
	return strings.Join(parts, CompositeSeparator), nil
}

func dimensionName(dims []Dimension) string {
	return strings.Join(lo.Map(dims, func(d Dimension, _ int) string { return string(d) }), CompositeSeparator)
}

// sortSegments orders numeric keys numerically and everything else lexically, with the
// empty segment last.
func sortSegments(segs []string) []string {
	numeric := lo.EveryBy(segs, func(s string) bool {
		if s == EmptySegment {
			return true
		}
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	})
	sort.SliceStable(segs, func(i, j int) bool {
		a, b := segs[i], segs[j]
		if a == EmptySegment || b == EmptySegment {
			return b == EmptySegment && a != EmptySegment
		}
		if numeric {
			fa, _ := strconv.ParseFloat(a, 64)
			fb, _ := strconv.ParseFloat(b, 64)
			return fa < fb
		}
		return a < b
	})
	return segs
}
