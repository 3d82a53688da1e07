package funnel

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"
)

// Options tune a single Progress call.
type Options struct {
	// Baseline is the stage used as 100% for keptOverall. When nil, the lowest stage of the
	// matrix is used and the resulting table is flagged BaselineImplicit.
	Baseline *Stage
	// Parallelism caps how many segment columns are computed concurrently. Zero falls back
	// to the engine default.
	Parallelism int
}

// Engine derives funnel statistics tables from stage-count matrices. It holds no state
// besides its concurrency setting and is safe for concurrent use.
type Engine struct {
	parallelism int
}

// NewEngine returns an engine computing up to parallelism columns at once
// (GOMAXPROCS when parallelism <= 0).
func NewEngine(parallelism int) *Engine {
	return &Engine{parallelism: parallelism}
}

// Progress computes the funnel statistics table of m. The input is not modified and its
// row order does not matter: rows are put in ascending stage order first.
func (e *Engine) Progress(ctx context.Context, m *Matrix, opts Options) (*Table, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	order := make([]int, len(m.Rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return m.Rows[order[a]].Stage < m.Rows[order[b]].Stage })

	t := &Table{
		Dimension: m.Dimension,
		Rows:      make([]Row, len(order)),
		Segments:  make([]SegmentStats, len(m.Segments)),
	}
	for i, src := range order {
		t.Rows[i] = m.Rows[src]
	}

	base := 0
	t.Baseline = t.Rows[0].Stage
	t.BaselineImplicit = opts.Baseline == nil
	if opts.Baseline != nil {
		base = -1
		for i, r := range t.Rows {
			if r.Stage == *opts.Baseline {
				base = i
				break
			}
		}
		if base < 0 {
			return nil, fmt.Errorf("%w: baseline stage %d is not a row of the matrix", ErrInvalidSchema, *opts.Baseline)
		}
		t.Baseline = *opts.Baseline
	}

	limit := opts.Parallelism
	if limit <= 0 {
		limit = e.parallelism
	}
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for j := range m.Segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			counts := make([]int64, len(order))
			for i, src := range order {
				counts[i] = m.Counts[src][j]
			}
			t.Segments[j] = progressColumn(m.Segments[j], counts, base)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

// progressColumn derives the five series of one segment from counts in ascending stage
// order. base indexes the baseline row.
func progressColumn(segment string, counts []int64, base int) SegmentStats {
	n := len(counts)
	s := SegmentStats{
		Segment:           segment,
		Count:             counts,
		FunnelProgression: make([]int64, n),
		StartingFrom:      make([]null.Int, n),
		StageLoss:         make([]null.Int, n),
		KeptStage:         make([]null.Float, n),
		KeptOverall:       make([]null.Float, n),
	}

	// Reverse prefix sum: leads at this stage or any later one.
	var reached int64
	for i := n - 1; i >= 0; i-- {
		reached += counts[i]
		s.FunnelProgression[i] = reached
	}

	top := s.FunnelProgression[base]
	for i := 0; i < n; i++ {
		cur := s.FunnelProgression[i]
		if i > 0 {
			prev := s.FunnelProgression[i-1]
			s.StartingFrom[i] = null.IntFrom(prev)
			s.StageLoss[i] = null.IntFrom(cur - prev)
			if prev != 0 {
				s.KeptStage[i] = null.FloatFrom(float64(cur) / float64(prev))
			}
		}
		if i >= base && top != 0 {
			s.KeptOverall[i] = null.FloatFrom(float64(cur) / float64(top))
		}
	}
	return s
}
