package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
)

var (
	// ErrInvalidRange indicates an unparsable or foreign A1 range.
	ErrInvalidRange = errors.New("invalid range")
	// ErrRowLimit indicates the range holds more data rows than the configured limit.
	ErrRowLimit = errors.New("row limit exceeded")
	// ErrReadRows indicates the sheet stream failed part way.
	ErrReadRows = errors.New("failed to read rows")
)

// resolveRangeLocal resolves an A1 range or defined name on sheet into 1-based bounds and a
// normalized "A1:H200" string. An empty input selects the sheet's used range.
func resolveRangeLocal(f *excelize.File, sheet, input string) (int, int, int, int, string, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return usedRange(f, sheet)
	}
	if strings.Contains(in, "!") {
		parts := strings.SplitN(in, "!", 2)
		s := strings.Trim(parts[0], "'")
		if s != "" && !strings.EqualFold(s, sheet) {
			return 0, 0, 0, 0, "", fmt.Errorf("%w: sheet mismatch", ErrInvalidRange)
		}
		in = parts[1]
	}
	if strings.Contains(in, ":") {
		return boundsOf(strings.ReplaceAll(in, "$", ""))
	}
	for _, dn := range f.GetDefinedName() {
		if dn.Name != in {
			continue
		}
		ref := strings.TrimPrefix(dn.RefersTo, "=")
		if strings.Contains(ref, "!") {
			parts := strings.SplitN(ref, "!", 2)
			s := strings.Trim(parts[0], "'")
			if s != "" && !strings.EqualFold(s, sheet) {
				continue
			}
			ref = parts[1]
		}
		ref = strings.ReplaceAll(ref, "$", "")
		if strings.Contains(ref, ":") {
			return boundsOf(ref)
		}
	}
	return 0, 0, 0, 0, "", fmt.Errorf("%w: %s", ErrInvalidRange, input)
}

// usedRange scans the sheet for the block spanning the first to the last non-blank row and
// the widest non-blank column. The stored <dimension> element is not consulted; writers
// often leave it at A1.
func usedRange(f *excelize.File, sheet string) (int, int, int, int, string, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return 0, 0, 0, 0, "", err
	}
	defer rows.Close()

	first, last, width := 0, 0, 0
	for idx := 1; rows.Next(); idx++ {
		vals, err := rows.Columns()
		if err != nil {
			return 0, 0, 0, 0, "", fmt.Errorf("%w: row %d: %v", ErrReadRows, idx, err)
		}
		right := 0
		for i, v := range vals {
			if strings.TrimSpace(v) != "" {
				right = i + 1
			}
		}
		if right == 0 {
			continue
		}
		if first == 0 {
			first = idx
		}
		last = idx
		width = max(width, right)
	}
	if err := rows.Error(); err != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: %v", ErrReadRows, err)
	}
	if first == 0 {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: sheet %s has no cells", funnel.ErrEmptyDataset, sheet)
	}
	l, _ := excelize.CoordinatesToCellName(1, first)
	r, _ := excelize.CoordinatesToCellName(width, last)
	return boundsOf(l + ":" + r)
}

func boundsOf(ref string) (int, int, int, int, string, error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 2 {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: %s", ErrInvalidRange, ref)
	}
	x1, y1, err1 := excelize.CellNameToCoordinates(parts[0])
	x2, y2, err2 := excelize.CellNameToCoordinates(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: bad coordinates %s", ErrInvalidRange, ref)
	}
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	l, _ := excelize.CoordinatesToCellName(x1, y1)
	r, _ := excelize.CoordinatesToCellName(x2, y2)
	return x1, y1, x2, y2, l + ":" + r, nil
}

// sheetRows is the header plus the data rows of a range, each keyed by header.
type sheetRows struct {
	Range   string
	Headers []string
	Rows    []map[string]string
	// Blank counts fully empty rows that were skipped.
	Blank int
}

// readSheetRows streams a range: the first row is the header, every following non-blank row
// becomes a map. More than maxRows data rows is ErrRowLimit.
func readSheetRows(ctx context.Context, f *excelize.File, sheet, rng string, maxRows int) (*sheetRows, error) {
	x1, y1, x2, y2, normalized, err := resolveRangeLocal(f, sheet, rng)
	if err != nil {
		return nil, err
	}
	out := &sheetRows{Range: normalized}
	colCount := x2 - x1 + 1

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rowIdx := 0
	for rows.Next() {
		rowIdx++
		if rowIdx < y1 {
			continue
		}
		if rowIdx > y2 {
			break
		}
		if rowIdx%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		vals, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrReadRows, rowIdx, err)
		}
		cells := make([]string, colCount)
		blank := true
		for i := 0; i < colCount; i++ {
			abs := x1 + i - 1
			if abs < len(vals) {
				cells[i] = strings.TrimSpace(vals[abs])
				if cells[i] != "" {
					blank = false
				}
			}
		}
		if rowIdx == y1 {
			out.Headers = headerNames(cells)
			continue
		}
		if blank {
			out.Blank++
			continue
		}
		if maxRows > 0 && len(out.Rows) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d data rows in %s", ErrRowLimit, maxRows, normalized)
		}
		row := make(map[string]string, colCount)
		for i, h := range out.Headers {
			row[h] = cells[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadRows, err)
	}
	return out, nil
}

// headerNames names blank headers by column position and disambiguates duplicates.
func headerNames(cells []string) []string {
	out := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, c := range cells {
		name := c
		if name == "" {
			name = fmt.Sprintf("$%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}
