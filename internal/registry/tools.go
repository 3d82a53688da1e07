package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/leadfunnel/internal/insights"
	"github.com/vinodismyname/leadfunnel/internal/runtime"
	"github.com/vinodismyname/leadfunnel/internal/workbooks"
	"github.com/vinodismyname/leadfunnel/pkg/mcperr"
	"github.com/vinodismyname/leadfunnel/pkg/validation"
)

// OpenWorkbookInput defines parameters for opening a workbook.
type OpenWorkbookInput struct {
	Path string `json:"path" validate:"required,filepath_ext" jsonschema_description:"Path to a lead export workbook inside an allowed directory"`
}

// OpenWorkbookOutput documents the response fields for open_workbook.
type OpenWorkbookOutput struct {
	WorkbookID         string   `json:"workbook_id" jsonschema_description:"Server-assigned workbook handle ID"`
	Path               string   `json:"path" jsonschema_description:"Canonical path"`
	Sheets             []string `json:"sheets"`
	MaxRowsPerOp       int      `json:"max_rows_per_op" jsonschema_description:"Data rows one analysis may read"`
	MaxSegmentsPerPage int      `json:"max_segments_per_page"`
	OpenWorkbooks      int      `json:"open_workbooks" jsonschema_description:"Workbooks currently cached, including this one"`
	MaxOpenWorkbooks   int      `json:"max_open_workbooks"`
}

// CloseWorkbookInput defines parameters for closing a workbook.
type CloseWorkbookInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID to close"`
}

// CloseWorkbookOutput reports the outcome of close_workbook.
type CloseWorkbookOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
}

// Deps are the collaborators the tool handlers run against.
type Deps struct {
	Limits      runtime.Limits
	Mgr         *workbooks.Manager
	Funneler    *insights.Funneler
	AllowWrites bool
}

type toolset struct {
	reg  *Registry
	deps Deps
}

// RegisterTools defines and wires every tool of the server.
func RegisterTools(s *server.MCPServer, reg *Registry, deps Deps) {
	if deps.Funneler == nil {
		deps.Funneler = insights.NewFunneler(deps.Limits, deps.Mgr)
	}
	ts := &toolset{reg: reg, deps: deps}

	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		s.AddTool(tool, h)
		reg.Register(tool)
	}
	addWrite := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		s.AddTool(tool, h)
		reg.RegisterWrite(tool)
	}

	add(mcp.NewTool(
		"open_workbook",
		mcp.WithDescription("Open a lead export workbook and return a handle ID, its sheets, and the effective limits. Analysis tools also accept path directly and reuse the cached handle; open explicitly to pin a workbook across calls."),
		mcp.WithInputSchema[OpenWorkbookInput](),
		mcp.WithOutputSchema[OpenWorkbookOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	), mcp.NewTypedToolHandler(ts.openWorkbook))

	add(mcp.NewTool(
		"close_workbook",
		mcp.WithDescription("Close a previously opened workbook handle and free its slot."),
		mcp.WithInputSchema[CloseWorkbookInput](),
		mcp.WithOutputSchema[CloseWorkbookOutput](),
	), mcp.NewTypedToolHandler(ts.closeWorkbook))

	add(mcp.NewTool(
		"stage_counts",
		mcp.WithDescription("Count leads per pipeline stage (rows, 0 = email not verified … 10 = completed) and per segment value (columns). Each row of the sheet is one lead; its stage comes from a numeric stage column or a status like '3 - Codice Fiscale OK'. Segment by any header or by the derived login_type, age_band and subscription_year. Filters: since, year, from_stage/to_stage, exclude_field/exclude_values, where_field/where_value. Errors: INVALID_SCHEMA (unknown column or non-integer stage), EMPTY_DATASET (filters removed everything), LIMIT_EXCEEDED."),
		mcp.WithInputSchema[insights.StageCountsInput](),
		mcp.WithOutputSchema[insights.StageCountsOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	), mcp.NewTypedToolHandler(ts.stageCounts))

	add(mcp.NewTool(
		"funnel_progression",
		mcp.WithDescription("Compute funnel statistics per segment: funnelProgression (leads at or past the stage), startingFrom (previous stage's progression), stageLoss (change from the previous stage), keptStage (progression / startingFrom) and keptOverall (progression / baseline progression), plus the bottleneck stage. Null marks undefined values (nobody could have reached the stage, or the row precedes the baseline). baseline defaults to the lowest analysed stage and baseline_implicit says so. Segments are paged; pass next_cursor back with otherwise identical inputs."),
		mcp.WithInputSchema[insights.FunnelProgressionInput](),
		mcp.WithOutputSchema[insights.FunnelProgressionOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	), mcp.NewTypedToolHandler(ts.funnelProgression))

	addWrite(mcp.NewTool(
		"export_funnel_table",
		mcp.WithDescription("Write the full funnel statistics table to a new sheet: stage, label, one count column per segment, then <segment>_funnelProgression, _startingFrom, _stageLoss, _keptStage and _keptOverall. Undefined values are left blank. Saves the workbook when it was opened from a path. Requires LEADFUNNEL_ENABLE_WRITES=true."),
		mcp.WithInputSchema[insights.ExportFunnelTableInput](),
		mcp.WithOutputSchema[insights.ExportFunnelTableOutput](),
		mcp.WithDestructiveHintAnnotation(false),
	), mcp.NewTypedToolHandler(ts.exportFunnelTable))
}

func (ts *toolset) openWorkbook(ctx context.Context, req mcp.CallToolRequest, in OpenWorkbookInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	id, canonical, err := ts.deps.Mgr.GetOrOpenByPath(ctx, in.Path)
	if err != nil {
		return toolError(err, mcperr.OpenFailed), nil
	}
	out := OpenWorkbookOutput{
		WorkbookID:         id,
		Path:               canonical,
		MaxRowsPerOp:       ts.deps.Limits.MaxRowsPerOp,
		MaxSegmentsPerPage: ts.deps.Limits.MaxSegmentsPerPage,
		OpenWorkbooks:      ts.deps.Mgr.Stats().Open,
		MaxOpenWorkbooks:   ts.deps.Limits.MaxOpenWorkbooks,
	}
	if err := ts.deps.Mgr.WithRead(id, func(f *excelize.File, _ int64) error {
		out.Sheets = f.GetSheetList()
		return nil
	}); err != nil {
		return toolError(err, mcperr.OpenFailed), nil
	}
	zerolog.Ctx(ctx).Info().Str("workbook_id", id).Str("path", canonical).Msg("workbook opened")
	summary := fmt.Sprintf("workbook_id=%s sheets=%s", id, strings.Join(out.Sheets, ","))
	return mcp.NewToolResultStructured(out, summary), nil
}

func (ts *toolset) closeWorkbook(ctx context.Context, req mcp.CallToolRequest, in CloseWorkbookInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := ts.deps.Mgr.CloseHandle(ctx, in.WorkbookID); err != nil {
		return toolError(err, mcperr.InvalidHandle), nil
	}
	return mcp.NewToolResultStructured(CloseWorkbookOutput{Success: true}, "closed "+in.WorkbookID), nil
}

func (ts *toolset) stageCounts(ctx context.Context, req mcp.CallToolRequest, in insights.StageCountsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := ts.deps.Funneler.StageCounts(ctx, in)
	if err != nil {
		return toolError(err, mcperr.AnalysisFailed), nil
	}
	lines := []string{fmt.Sprintf("dimension=%s stages=%d segments=%d leads=%d skipped_rows=%d",
		out.Dimension, len(out.Rows), len(out.Segments), out.Meta.AnalysedLeads, out.Meta.SkippedRows)}
	for i, s := range out.Segments {
		lines = append(lines, fmt.Sprintf("- %s: %d", s, out.Totals[i]))
	}
	return mcp.NewToolResultStructured(out, ts.reg.Summarize(lines)), nil
}

func (ts *toolset) funnelProgression(ctx context.Context, req mcp.CallToolRequest, in insights.FunnelProgressionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := ts.deps.Funneler.FunnelProgression(ctx, in)
	if err != nil {
		return toolError(err, mcperr.AnalysisFailed), nil
	}
	lines := []string{fmt.Sprintf("dimension=%s baseline=%d implicit=%v segments=%d/%d truncated=%v",
		out.Dimension, out.Baseline, out.BaselineImplicit, out.Page.Returned, out.Page.TotalSegments, out.Page.Truncated)}
	for _, s := range out.Segments {
		line := fmt.Sprintf("- %s: leads=%d", s.Segment, s.Total)
		if n := len(s.KeptOverall); n > 0 && s.KeptOverall[n-1] != nil {
			line += fmt.Sprintf(" kept_overall_last=%.1f%%", *s.KeptOverall[n-1]*100)
		}
		if s.Bottleneck != nil {
			line += fmt.Sprintf(" bottleneck=%d (%s)", s.Bottleneck.Stage, s.Bottleneck.Label)
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultStructured(out, ts.reg.Summarize(lines)), nil
}

func (ts *toolset) exportFunnelTable(ctx context.Context, req mcp.CallToolRequest, in insights.ExportFunnelTableInput) (*mcp.CallToolResult, error) {
	if !ts.deps.AllowWrites {
		return mcperr.New(mcperr.WritesDisabled, ""), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	out, err := ts.deps.Funneler.ExportFunnelTable(ctx, in)
	if err != nil {
		return toolError(err, mcperr.WriteFailed), nil
	}
	summary := fmt.Sprintf("wrote %s!%s columns=%d rows=%d saved=%v", out.TargetSheet, out.Range, len(out.Columns), out.RowsWritten, out.Saved)
	return mcp.NewToolResultStructured(out, summary), nil
}
