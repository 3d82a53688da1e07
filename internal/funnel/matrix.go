package funnel

import (
	"fmt"
	"strings"
)

// Matrix is a dense stage-by-segment count table: Counts[i][j] is the number of leads
// resting at Rows[i].Stage whose segment value is Segments[j].
type Matrix struct {
	Dimension string    `json:"dimension"`
	Rows      []Row     `json:"rows"`
	Segments  []string  `json:"segments"`
	Counts    [][]int64 `json:"counts"`
}

// NewMatrix allocates a zero-filled matrix.
func NewMatrix(dimension string, rows []Row, segments []string) *Matrix {
	counts := make([][]int64, len(rows))
	for i := range counts {
		counts[i] = make([]int64, len(segments))
	}
	return &Matrix{
		Dimension: dimension,
		Rows:      append([]Row(nil), rows...),
		Segments:  append([]string(nil), segments...),
		Counts:    counts,
	}
}

// Validate checks the matrix shape: unique stages, unique segments, one count per cell and
// no negative counts.
func (m *Matrix) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil matrix", ErrInvalidSchema)
	}
	if len(m.Rows) == 0 {
		return fmt.Errorf("%w: matrix has no stage rows", ErrInvalidSchema)
	}
	if len(m.Counts) != len(m.Rows) {
		return fmt.Errorf("%w: %d count rows for %d stages", ErrInvalidSchema, len(m.Counts), len(m.Rows))
	}
	seen := make(map[Stage]struct{}, len(m.Rows))
	for _, r := range m.Rows {
		if _, dup := seen[r.Stage]; dup {
			return fmt.Errorf("%w: duplicate stage %d", ErrInvalidSchema, r.Stage)
		}
		seen[r.Stage] = struct{}{}
	}
	segs := make(map[string]struct{}, len(m.Segments))
	for _, s := range m.Segments {
		if _, dup := segs[s]; dup {
			return fmt.Errorf("%w: duplicate segment %q", ErrInvalidSchema, s)
		}
		segs[s] = struct{}{}
	}
	for i, row := range m.Counts {
		if len(row) != len(m.Segments) {
			return fmt.Errorf("%w: stage %d has %d counts for %d segments", ErrInvalidSchema, m.Rows[i].Stage, len(row), len(m.Segments))
		}
		for j, n := range row {
			if n < 0 {
				return fmt.Errorf("%w: negative count at stage %d segment %q", ErrInvalidSchema, m.Rows[i].Stage, m.Segments[j])
			}
		}
	}
	return nil
}

// Count returns the cell for (stage, segment); unknown keys count as zero.
func (m *Matrix) Count(stage Stage, segment string) int64 {
	i, j := m.rowIndex(stage), m.segmentIndex(segment)
	if i < 0 || j < 0 {
		return 0
	}
	return m.Counts[i][j]
}

// Column returns the counts of one segment in row order.
func (m *Matrix) Column(segment string) ([]int64, bool) {
	j := m.segmentIndex(segment)
	if j < 0 {
		return nil, false
	}
	out := make([]int64, len(m.Rows))
	for i := range m.Rows {
		out[i] = m.Counts[i][j]
	}
	return out, true
}

// Total sums the counts of one segment.
func (m *Matrix) Total(segment string) int64 {
	col, _ := m.Column(segment)
	var n int64
	for _, v := range col {
		n += v
	}
	return n
}

// Restrict returns a copy holding only the rows whose stage falls inside r.
func (m *Matrix) Restrict(r StageRange) *Matrix {
	out := &Matrix{Dimension: m.Dimension, Segments: append([]string(nil), m.Segments...)}
	for i, row := range m.Rows {
		if !r.Contains(row.Stage) {
			continue
		}
		out.Rows = append(out.Rows, row)
		out.Counts = append(out.Counts, append([]int64(nil), m.Counts[i]...))
	}
	return out
}

// String renders the matrix as an aligned text grid, mostly for logs and test failures.
func (m *Matrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage\tlabel")
	for _, s := range m.Segments {
		fmt.Fprintf(&b, "\t%s", s)
	}
	b.WriteByte('\n')
	for i, r := range m.Rows {
		fmt.Fprintf(&b, "%d\t%s", r.Stage, r.Label)
		for _, n := range m.Counts[i] {
			fmt.Fprintf(&b, "\t%d", n)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Matrix) rowIndex(stage Stage) int {
	for i, r := range m.Rows {
		if r.Stage == stage {
			return i
		}
	}
	return -1
}

func (m *Matrix) segmentIndex(segment string) int {
	for j, s := range m.Segments {
		if s == segment {
			return j
		}
	}
	return -1
}
