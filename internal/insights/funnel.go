package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
	"gopkg.in/guregu/null.v3"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
	"github.com/vinodismyname/leadfunnel/internal/leads"
	"github.com/vinodismyname/leadfunnel/internal/runtime"
	"github.com/vinodismyname/leadfunnel/internal/workbooks"
	"github.com/vinodismyname/leadfunnel/pkg/pagination"
)

var (
	// ErrCursorMismatch indicates a cursor issued for another workbook view, query or version.
	ErrCursorMismatch = errors.New("cursor does not match request")
	// ErrSheetExists indicates an export target sheet that already exists.
	ErrSheetExists = errors.New("target sheet already exists")
	// ErrCursorBuild indicates the next-page cursor could not be encoded.
	ErrCursorBuild = errors.New("next page cursor could not be built")
	// ErrPayloadTooLarge indicates a result above Limits.MaxPayloadBytes that cannot be paged
	// down any further.
	ErrPayloadTooLarge = errors.New("result exceeds payload limit")
)

// LeadSource locates the lead rows and names the columns the classifier reads.
type LeadSource struct {
	Path         string `json:"path,omitempty" validate:"required_without=WorkbookID,omitempty,filepath_ext" jsonschema_description:"Excel file path inside an allowed directory; reuses an open handle for the same file"`
	WorkbookID   string `json:"workbook_id,omitempty" jsonschema_description:"Handle from open_workbook; used when path is omitted"`
	Sheet        string `json:"sheet" validate:"required" jsonschema_description:"Sheet holding one lead per row"`
	Range        string `json:"range,omitempty" validate:"omitempty,a1orname" jsonschema_description:"A1 range or defined name covering header + data; defaults to the used range"`
	StageColumn  string `json:"stage_column,omitempty" jsonschema_description:"Header of a numeric stage column (0..max stage)"`
	StatusColumn string `json:"status_column,omitempty" jsonschema_description:"Header of a status column like '3 - Codice Fiscale OK' (default: status)"`
	DateColumn   string `json:"date_column,omitempty" jsonschema_description:"Header of the subscription date column (default: subscription_date)"`
}

// LeadFilters narrows the lead population before counting.
type LeadFilters struct {
	Since         string   `json:"since,omitempty" validate:"omitempty,isodate" jsonschema_description:"Keep leads subscribed on or after this date (YYYY-MM-DD)"`
	Year          int      `json:"year,omitempty" validate:"omitempty,min=1900,max=2200" jsonschema_description:"Keep leads subscribed in this calendar year"`
	FromStage     *int     `json:"from_stage,omitempty" validate:"omitempty,min=0" jsonschema_description:"First stage of the analysed axis (inclusive)"`
	ToStage       *int     `json:"to_stage,omitempty" validate:"omitempty,min=0" jsonschema_description:"Last stage of the analysed axis (inclusive)"`
	ExcludeField  string   `json:"exclude_field,omitempty" validate:"omitempty,dimension" jsonschema_description:"Column whose values in exclude_values drop a lead (e.g. test users)"`
	ExcludeValues []string `json:"exclude_values,omitempty" validate:"omitempty,max=64" jsonschema_description:"Values of exclude_field to drop, case-insensitive"`
	WhereField    string   `json:"where_field,omitempty" validate:"omitempty,dimension" jsonschema_description:"Keep only leads whose column equals where_value"`
	WhereValue    string   `json:"where_value,omitempty" jsonschema_description:"Value matched against where_field, case-insensitive"`
}

// LoadMeta reports how many rows fed an analysis.
type LoadMeta struct {
	ScannedRows    int   `json:"scanned_rows"`
	ClassifiedRows int   `json:"classified_rows"`
	SkippedRows    int   `json:"skipped_rows" jsonschema_description:"Rows with no valid stage (cancelled, test or foreign statuses)"`
	AnalysedLeads  int64 `json:"analysed_leads" jsonschema_description:"Leads left after filters"`
	WorkbookVer    int64 `json:"workbook_version"`
}

// StageCountsInput aggregates leads into a stage-by-segment count matrix.
type StageCountsInput struct {
	LeadSource
	LeadFilters
	Dimensions []string `json:"dimensions" validate:"required,min=1,max=4,dive,dimension" jsonschema_description:"Columns or derived attributes (login_type, age_band, subscription_year) to segment by; several form a composite key joined by '|'"`
}

// StageCountsOutput is a dense count matrix.
type StageCountsOutput struct {
	Path       string       `json:"path,omitempty"`
	WorkbookID string       `json:"workbook_id"`
	Sheet      string       `json:"sheet"`
	Range      string       `json:"range"`
	Dimension  string       `json:"dimension"`
	Rows       []funnel.Row `json:"rows"`
	Segments   []string     `json:"segments"`
	Counts     [][]int64    `json:"counts" jsonschema_description:"counts[row][segment]"`
	Totals     []int64      `json:"totals" jsonschema_description:"Leads per segment"`
	Meta       LoadMeta     `json:"meta"`
}

// FunnelProgressionInput computes funnel statistics per segment.
type FunnelProgressionInput struct {
	LeadSource
	LeadFilters
	Dimensions []string `json:"dimensions" validate:"required,min=1,max=4,dive,dimension" jsonschema_description:"Columns or derived attributes to segment by"`
	Baseline   *int     `json:"baseline,omitempty" validate:"omitempty,min=0" jsonschema_description:"Stage used as 100% for keptOverall; defaults to the lowest analysed stage"`
	Metrics    []string `json:"metrics,omitempty" validate:"omitempty,dive,oneof=count funnelProgression startingFrom stageLoss keptStage keptOverall" jsonschema_description:"Series to return; all when omitted"`
	PageSize   int      `json:"page_size,omitempty" validate:"omitempty,min=1" jsonschema_description:"Segments per page (bounded by server limits)"`
	Cursor     string   `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"next_cursor from a previous page"`
}

// SegmentSeries carries the requested series of one segment. Null entries are undefined
// (no leads could have reached the stage, or the row precedes the baseline).
type SegmentSeries struct {
	Segment           string      `json:"segment"`
	Total             int64       `json:"total"`
	Count             []int64     `json:"count,omitempty"`
	FunnelProgression []int64     `json:"funnelProgression,omitempty"`
	StartingFrom      []*int64    `json:"startingFrom,omitempty"`
	StageLoss         []*int64    `json:"stageLoss,omitempty"`
	KeptStage         []*float64  `json:"keptStage,omitempty"`
	KeptOverall       []*float64  `json:"keptOverall,omitempty"`
	Bottleneck        *funnel.Row `json:"bottleneck,omitempty" jsonschema_description:"Stage with the lowest keptStage"`
}

// PageMeta captures paging metadata over segments.
type PageMeta struct {
	TotalSegments int    `json:"total_segments"`
	Returned      int    `json:"returned"`
	Truncated     bool   `json:"truncated"`
	NextCursor    string `json:"next_cursor,omitempty"`
}

// FunnelProgressionOutput is one page of a funnel statistics table.
type FunnelProgressionOutput struct {
	Path             string          `json:"path,omitempty"`
	WorkbookID       string          `json:"workbook_id"`
	Sheet            string          `json:"sheet"`
	Range            string          `json:"range"`
	Dimension        string          `json:"dimension"`
	Rows             []funnel.Row    `json:"rows"`
	Baseline         int             `json:"baseline"`
	BaselineImplicit bool            `json:"baseline_implicit" jsonschema_description:"True when baseline was not given and the lowest analysed stage was used"`
	Segments         []SegmentSeries `json:"segments"`
	Page             PageMeta        `json:"page"`
	Meta             LoadMeta        `json:"meta"`
}

// ExportFunnelTableInput writes the flattened statistics table to a new sheet.
type ExportFunnelTableInput struct {
	LeadSource
	LeadFilters
	Dimensions  []string `json:"dimensions" validate:"required,min=1,max=4,dive,dimension" jsonschema_description:"Columns or derived attributes to segment by"`
	Baseline    *int     `json:"baseline,omitempty" validate:"omitempty,min=0" jsonschema_description:"Stage used as 100% for keptOverall"`
	TargetSheet string   `json:"target_sheet" validate:"required,max=31" jsonschema_description:"New sheet receiving the table"`
	Overwrite   bool     `json:"overwrite,omitempty" jsonschema_description:"Replace target_sheet when it exists"`
}

// ExportFunnelTableOutput describes the written table.
type ExportFunnelTableOutput struct {
	Path        string   `json:"path,omitempty"`
	WorkbookID  string   `json:"workbook_id"`
	TargetSheet string   `json:"target_sheet"`
	Range       string   `json:"range"`
	Columns     []string `json:"columns"`
	RowsWritten int      `json:"rows_written"`
	Saved       bool     `json:"saved" jsonschema_description:"False for handles without a backing file"`
	Meta        LoadMeta `json:"meta"`
}

// Funneler runs lead funnel analyses over workbook sheets.
type Funneler struct {
	Limits  runtime.Limits
	Mgr     *workbooks.Manager
	Catalog *leads.StageCatalog
	Columns leads.Columns
	Engine  *funnel.Engine
}

// NewFunneler wires a Funneler with the default pipeline and column names.
func NewFunneler(limits runtime.Limits, mgr *workbooks.Manager) *Funneler {
	return &Funneler{
		Limits:  limits,
		Mgr:     mgr,
		Catalog: leads.DefaultCatalog(),
		Columns: leads.DefaultColumns(),
		Engine:  funnel.NewEngine(limits.Parallelism),
	}
}

// loadedLeads is the classified population of one request.
type loadedLeads struct {
	WorkbookID string
	Path       string
	Range      string
	Version    int64
	Records    []funnel.Record
	Meta       LoadMeta
}

func (f *Funneler) load(ctx context.Context, src LeadSource) (*loadedLeads, error) {
	out := &loadedLeads{WorkbookID: strings.TrimSpace(src.WorkbookID)}
	if p := strings.TrimSpace(src.Path); p != "" {
		id, canonical, err := f.Mgr.GetOrOpenByPath(ctx, p)
		if err != nil {
			return nil, err
		}
		out.WorkbookID, out.Path = id, canonical
	}

	classifier := leads.NewClassifier(f.Catalog, f.columns(src))
	sheet := strings.TrimSpace(src.Sheet)

	err := f.Mgr.WithRead(out.WorkbookID, func(ef *excelize.File, ver int64) error {
		out.Version = ver
		rows, err := readSheetRows(ctx, ef, sheet, src.Range, f.Limits.MaxRowsPerOp)
		if err != nil {
			return err
		}
		out.Range = rows.Range
		if err := classifier.Validate(rows.Headers); err != nil {
			return err
		}
		out.Records = make([]funnel.Record, 0, len(rows.Rows))
		for i, row := range rows.Rows {
			rec, ok, err := classifier.Classify(row)
			if err != nil {
				return fmt.Errorf("data row %d: %w", i+1, err)
			}
			if !ok {
				out.Meta.SkippedRows++
				continue
			}
			out.Records = append(out.Records, rec)
		}
		out.Meta.ScannedRows = len(rows.Rows)
		out.Meta.ClassifiedRows = len(out.Records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Meta.WorkbookVer = out.Version
	zerolog.Ctx(ctx).Debug().
		Str("workbook_id", out.WorkbookID).
		Str("sheet", sheet).
		Str("range", out.Range).
		Int("scanned", out.Meta.ScannedRows).
		Int("skipped", out.Meta.SkippedRows).
		Msg("lead rows loaded")
	return out, nil
}

func (f *Funneler) columns(src LeadSource) leads.Columns {
	cols := f.Columns
	if s := strings.TrimSpace(src.StageColumn); s != "" {
		cols.Stage = s
	}
	if s := strings.TrimSpace(src.StatusColumn); s != "" {
		cols.Status = s
	}
	if s := strings.TrimSpace(src.DateColumn); s != "" {
		cols.SubscribedAt = s
	}
	return cols
}

// query turns request filters into an aggregation query.
func query(dims []string, in LeadFilters) (funnel.Query, error) {
	q := funnel.Query{Dimensions: lo.Map(dims, func(d string, _ int) funnel.Dimension {
		return funnel.Dimension(strings.TrimSpace(d))
	})}
	var preds []funnel.Predicate
	if s := strings.TrimSpace(in.Since); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return q, fmt.Errorf("%w: since %q is not a date", funnel.ErrInvalidSchema, s)
		}
		preds = append(preds, leads.SinceDate(t))
	}
	if in.Year != 0 {
		preds = append(preds, leads.YearEquals(in.Year))
	}
	if in.ExcludeField != "" && len(in.ExcludeValues) > 0 {
		preds = append(preds, leads.ExcludeStatus(funnel.Dimension(in.ExcludeField), in.ExcludeValues...))
	}
	if in.WhereField != "" {
		preds = append(preds, leads.FieldEquals(funnel.Dimension(in.WhereField), in.WhereValue))
	}
	if len(preds) > 0 {
		q.Filter = funnel.All(preds...)
	}
	if in.FromStage != nil || in.ToStage != nil {
		r := funnel.StageRange{From: 0, To: funnel.Stage(1<<31 - 1)}
		if in.FromStage != nil {
			r.From = funnel.Stage(*in.FromStage)
		}
		if in.ToStage != nil {
			r.To = funnel.Stage(*in.ToStage)
		}
		q.Stages = &r
	}
	return q, nil
}

func (f *Funneler) aggregate(ctx context.Context, src LeadSource, filters LeadFilters, dims []string) (*loadedLeads, *funnel.Matrix, error) {
	ld, err := f.load(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	q, err := query(dims, filters)
	if err != nil {
		return nil, nil, err
	}
	if q.Stages != nil && q.Stages.To > f.Catalog.MaxStage() {
		q.Stages.To = f.Catalog.MaxStage()
	}
	agg := funnel.NewAggregator(f.Catalog.MaxStage(), f.Catalog.Label)
	m, err := agg.Aggregate(ld.Records, q)
	if err != nil {
		return nil, nil, err
	}
	for _, seg := range m.Segments {
		ld.Meta.AnalysedLeads += m.Total(seg)
	}
	return ld, m, nil
}

// StageCounts loads, classifies and aggregates the lead rows of a sheet.
func (f *Funneler) StageCounts(ctx context.Context, in StageCountsInput) (StageCountsOutput, error) {
	var out StageCountsOutput
	ld, m, err := f.aggregate(ctx, in.LeadSource, in.LeadFilters, in.Dimensions)
	if err != nil {
		return out, err
	}
	out = StageCountsOutput{
		Path:       ld.Path,
		WorkbookID: ld.WorkbookID,
		Sheet:      strings.TrimSpace(in.Sheet),
		Range:      ld.Range,
		Dimension:  m.Dimension,
		Rows:       m.Rows,
		Segments:   m.Segments,
		Counts:     m.Counts,
		Totals:     lo.Map(m.Segments, func(s string, _ int) int64 { return m.Total(s) }),
		Meta:       ld.Meta,
	}
	if !f.fits(out) {
		return out, fmt.Errorf("%w: %d segments of %s; filter or pick a coarser dimension", ErrPayloadTooLarge, len(out.Segments), out.Dimension)
	}
	return out, nil
}

// FunnelProgression computes per-segment funnel statistics and returns one page of segments.
func (f *Funneler) FunnelProgression(ctx context.Context, in FunnelProgressionInput) (FunnelProgressionOutput, error) {
	var out FunnelProgressionOutput
	ld, m, err := f.aggregate(ctx, in.LeadSource, in.LeadFilters, in.Dimensions)
	if err != nil {
		return out, err
	}

	queryHash := pagination.HashQuery(struct {
		F LeadFilters
		B *int
		M []string
		C LeadSource
	}{in.LeadFilters, in.Baseline, in.Metrics, columnsOnly(in.LeadSource)})

	pageSize := in.PageSize
	if pageSize <= 0 || pageSize > f.Limits.MaxSegmentsPerPage {
		pageSize = f.Limits.MaxSegmentsPerPage
	}
	view := pagination.View{
		WorkbookID: ld.WorkbookID,
		Sheet:      strings.TrimSpace(in.Sheet),
		Range:      ld.Range,
		Dimension:  m.Dimension,
		QueryHash:  queryHash,
		Version:    ld.Version,
	}
	offset := 0
	if c := strings.TrimSpace(in.Cursor); c != "" {
		cur, err := pagination.DecodeCursor(c)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrCursorMismatch, err)
		}
		if !cur.Matches(view) || cur.Off >= len(m.Segments) {
			return out, ErrCursorMismatch
		}
		offset, pageSize = cur.Off, min(cur.Ps, f.Limits.MaxSegmentsPerPage)
	}

	opts := funnel.Options{Parallelism: f.Limits.Parallelism}
	if in.Baseline != nil {
		b := funnel.Stage(*in.Baseline)
		opts.Baseline = &b
	}
	// Only the requested page is computed; columns are independent.
	total := len(m.Segments)
	page := pageOf(m, offset, pageSize)
	tbl, err := f.Engine.Progress(ctx, page, opts)
	if err != nil {
		return out, err
	}

	metrics, err := parseMetrics(in.Metrics)
	if err != nil {
		return out, err
	}

	out = FunnelProgressionOutput{
		Path:             ld.Path,
		WorkbookID:       ld.WorkbookID,
		Sheet:            strings.TrimSpace(in.Sheet),
		Range:            ld.Range,
		Dimension:        tbl.Dimension,
		Rows:             tbl.Rows,
		Baseline:         int(tbl.Baseline),
		BaselineImplicit: tbl.BaselineImplicit,
		Meta:             ld.Meta,
	}
	for i := range tbl.Segments {
		out.Segments = append(out.Segments, seriesOf(tbl, &tbl.Segments[i], metrics))
	}
	// Segments are dropped from the end of the page until the result fits the payload limit;
	// the cursor then resumes at the first dropped one.
	for {
		out.Page = PageMeta{TotalSegments: total, Returned: len(out.Segments)}
		if next := pagination.NextOffset(offset, len(out.Segments)); next < total {
			tok, err := pagination.EncodeCursor(pagination.NewCursor(view, next, pageSize))
			if err != nil {
				return out, fmt.Errorf("%w: %v", ErrCursorBuild, err)
			}
			out.Page.Truncated = true
			out.Page.NextCursor = tok
		}
		if f.fits(out) {
			break
		}
		if len(out.Segments) <= 1 {
			return out, fmt.Errorf("%w: a single segment exceeds %d bytes", ErrPayloadTooLarge, f.Limits.MaxPayloadBytes)
		}
		out.Segments = out.Segments[:len(out.Segments)-1]
	}
	zerolog.Ctx(ctx).Debug().
		Str("dimension", out.Dimension).
		Int("segments", total).
		Int("offset", offset).
		Int("returned", out.Page.Returned).
		Msg("funnel progression computed")
	return out, nil
}

// fits reports whether v encodes within the payload limit.
func (f *Funneler) fits(v any) bool {
	if f.Limits.MaxPayloadBytes <= 0 {
		return true
	}
	b, err := json.Marshal(v)
	return err == nil && len(b) <= f.Limits.MaxPayloadBytes
}

// columnsOnly keeps the classifier-relevant source fields so a cursor survives switching
// between path and workbook_id.
func columnsOnly(src LeadSource) LeadSource {
	return LeadSource{StageColumn: src.StageColumn, StatusColumn: src.StatusColumn, DateColumn: src.DateColumn}
}

// pageOf slices the segment columns [offset, offset+size) of m.
func pageOf(m *funnel.Matrix, offset, size int) *funnel.Matrix {
	if offset == 0 && size >= len(m.Segments) {
		return m
	}
	end := min(offset+size, len(m.Segments))
	start := min(offset, end)
	p := funnel.NewMatrix(m.Dimension, m.Rows, m.Segments[start:end])
	for i := range m.Rows {
		copy(p.Counts[i], m.Counts[i][start:end])
	}
	return p
}

func parseMetrics(names []string) (map[funnel.Metric]bool, error) {
	want := map[funnel.Metric]bool{}
	if len(names) == 0 {
		want[funnel.MetricCount] = true
		for _, m := range funnel.DerivedMetrics() {
			want[m] = true
		}
		return want, nil
	}
	for _, n := range names {
		m, err := funnel.ParseMetric(n)
		if err != nil {
			return nil, err
		}
		want[m] = true
	}
	return want, nil
}

func seriesOf(tbl *funnel.Table, s *funnel.SegmentStats, want map[funnel.Metric]bool) SegmentSeries {
	out := SegmentSeries{Segment: s.Segment, Total: lo.Sum(s.Count)}
	if want[funnel.MetricCount] {
		out.Count = s.Count
	}
	if want[funnel.MetricFunnelProgression] {
		out.FunnelProgression = s.FunnelProgression
	}
	if want[funnel.MetricStartingFrom] {
		out.StartingFrom = lo.Map(s.StartingFrom, func(v null.Int, _ int) *int64 { return v.Ptr() })
	}
	if want[funnel.MetricStageLoss] {
		out.StageLoss = lo.Map(s.StageLoss, func(v null.Int, _ int) *int64 { return v.Ptr() })
	}
	if want[funnel.MetricKeptStage] {
		out.KeptStage = lo.Map(s.KeptStage, func(v null.Float, _ int) *float64 { return v.Ptr() })
	}
	if want[funnel.MetricKeptOverall] {
		out.KeptOverall = lo.Map(s.KeptOverall, func(v null.Float, _ int) *float64 { return v.Ptr() })
	}
	if row, ok := tbl.Bottleneck(s.Segment); ok {
		out.Bottleneck = &row
	}
	return out
}
