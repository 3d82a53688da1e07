package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
	"github.com/vinodismyname/leadfunnel/internal/workbooks"
)

// ExportFunnelTable computes the full statistics table and writes it to a new sheet: one row
// per stage, the count columns of every segment followed by their derived series. Undefined
// values are left blank. The workbook is saved when it was opened from a path.
func (f *Funneler) ExportFunnelTable(ctx context.Context, in ExportFunnelTableInput) (ExportFunnelTableOutput, error) {
	var out ExportFunnelTableOutput
	target := strings.TrimSpace(in.TargetSheet)
	if strings.EqualFold(target, strings.TrimSpace(in.Sheet)) {
		return out, fmt.Errorf("%w: %s holds the leads", ErrSheetExists, target)
	}
	ld, m, err := f.aggregate(ctx, in.LeadSource, in.LeadFilters, in.Dimensions)
	if err != nil {
		return out, err
	}
	opts := funnel.Options{Parallelism: f.Limits.Parallelism}
	if in.Baseline != nil {
		b := funnel.Stage(*in.Baseline)
		opts.Baseline = &b
	}
	tbl, err := f.Engine.Progress(ctx, m, opts)
	if err != nil {
		return out, err
	}

	cols := tbl.Columns()
	header := make([]any, 0, len(cols)+2)
	header = append(header, "stage", "label")
	out.Columns = []string{"stage", "label"}
	for _, c := range cols {
		header = append(header, c.Name)
		out.Columns = append(out.Columns, c.Name)
	}

	err = f.Mgr.WithWrite(ld.WorkbookID, func(ef *excelize.File) error {
		idx, err := ef.GetSheetIndex(target)
		if err != nil {
			return err
		}
		if idx >= 0 {
			if !in.Overwrite {
				return fmt.Errorf("%w: %s", ErrSheetExists, target)
			}
			if err := ef.DeleteSheet(target); err != nil {
				return err
			}
		}
		if _, err := ef.NewSheet(target); err != nil {
			return err
		}
		if err := ef.SetSheetRow(target, "A1", &header); err != nil {
			return err
		}
		for i, row := range tbl.Rows {
			vals := make([]any, 0, len(cols)+2)
			vals = append(vals, int(row.Stage), row.Label)
			for _, c := range cols {
				vals = append(vals, cellValue(c, i))
			}
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := ef.SetSheetRow(target, cell, &vals); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	last, _ := excelize.CoordinatesToCellName(len(header), len(tbl.Rows)+1)
	out.Path = ld.Path
	out.WorkbookID = ld.WorkbookID
	out.TargetSheet = target
	out.Range = "A1:" + last
	out.RowsWritten = len(tbl.Rows)
	out.Meta = ld.Meta

	switch err := f.Mgr.Save(ld.WorkbookID); {
	case err == nil:
		out.Saved = true
	case errors.Is(err, workbooks.ErrNoPath):
	default:
		return out, err
	}
	zerolog.Ctx(ctx).Info().
		Str("workbook_id", out.WorkbookID).
		Str("sheet", target).
		Int("columns", len(out.Columns)).
		Bool("saved", out.Saved).
		Msg("funnel table exported")
	return out, nil
}

// cellValue renders one table cell: integers for counts, floats for ratios, nil when undefined.
func cellValue(c funnel.Column, i int) any {
	v := c.Values[i]
	if !v.Valid {
		return nil
	}
	if c.Metric.IsRatio() {
		return v.Float64
	}
	return int64(v.Float64)
}
