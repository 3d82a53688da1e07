package mcperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xuri/excelize/v2"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation        Code = "VALIDATION"
	InvalidHandle     Code = "INVALID_HANDLE"
	InvalidSheet      Code = "INVALID_SHEET"
	CursorInvalid     Code = "CURSOR_INVALID"
	CursorBuildFailed Code = "CURSOR_BUILD_FAILED"

	// Resource & Limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// IO & Formats
	OpenFailed     Code = "OPEN_FAILED"
	ReadFailed     Code = "READ_FAILED"
	WriteFailed    Code = "WRITE_FAILED"
	WritesDisabled Code = "WRITES_DISABLED"

	// Funnel analysis
	InvalidSchema  Code = "INVALID_SCHEMA"
	EmptyDataset   Code = "EMPTY_DATASET"
	AnalysisFailed Code = "ANALYSIS_FAILED"

	// Integrity
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:        {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry"}},
	InvalidHandle:     {Code: InvalidHandle, Message: "workbook handle not found or expired", Retryable: true, NextSteps: []string{"Reopen the workbook via open_workbook or pass path instead of workbook_id"}},
	InvalidSheet:      {Code: InvalidSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"Check the sheet name, case and spacing"}},
	CursorInvalid:     {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart paging from the first page", "Keep workbook, sheet, range and dimension unchanged between pages"}},
	CursorBuildFailed: {Code: CursorBuildFailed, Message: "failed to encode next page cursor", Retryable: true, NextSteps: []string{"Retry or lower the page size"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Narrow the range or add filters", "Increase LEADFUNNEL_OPERATION_TIMEOUT"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Narrow the range, filter by year or date, or lower page size"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Request fewer segments per page"}},

	OpenFailed:     {Code: OpenFailed, Message: "failed to open workbook", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	ReadFailed:     {Code: ReadFailed, Message: "failed to read lead rows", Retryable: true, NextSteps: []string{"Verify sheet and A1 range and retry"}},
	WriteFailed:    {Code: WriteFailed, Message: "failed to write funnel table", Retryable: false, NextSteps: []string{"Choose a new target sheet name", "Check the workbook is not read-only"}},
	WritesDisabled: {Code: WritesDisabled, Message: "write tools are disabled", Retryable: false, NextSteps: []string{"Set LEADFUNNEL_ENABLE_WRITES=true to allow exports"}},

	InvalidSchema:  {Code: InvalidSchema, Message: "lead rows do not match the expected schema", Retryable: true, NextSteps: []string{"Check the stage/status column and the dimension names against the header row"}},
	EmptyDataset:   {Code: EmptyDataset, Message: "no leads left after filtering", Retryable: true, NextSteps: []string{"Relax the filters or widen the stage range"}},
	AnalysisFailed: {Code: AnalysisFailed, Message: "analysis failed", Retryable: true, NextSteps: []string{"Verify range and dimension"}},

	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported workbook format", Retryable: false, NextSteps: []string{"Convert to .xlsx and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},
}

// Lookup returns the catalog entry for code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// Detail is the structured form of a tool error, attached as structured content so clients
// can branch on the code without parsing text.
type Detail struct {
	Code      Code     `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	NextSteps []string `json:"next_steps,omitempty"`
}

func detail(code Code, msg string) Detail {
	d := Detail{Code: code, Message: strings.TrimSpace(msg)}
	if e, ok := catalog[code]; ok {
		if d.Message == "" {
			d.Message = e.Message
		}
		d.Retryable = e.Retryable
		d.NextSteps = e.NextSteps
	}
	return d
}

// Text renders d as "CODE: message | nextSteps: a; b" for clients that only show text.
func (d Detail) Text() string {
	out := string(d.Code)
	if d.Message != "" {
		out += ": " + d.Message
	}
	if len(d.NextSteps) > 0 {
		out += " | nextSteps: " + strings.Join(d.NextSteps, "; ")
	}
	return out
}

func result(d Detail) *mcp.CallToolResult {
	res := mcp.NewToolResultError(d.Text())
	res.StructuredContent = d
	return res
}

// New returns a tool error for code; an empty message selects the catalog message.
func New(code Code, message string) *mcp.CallToolResult {
	return result(detail(code, message))
}

// Wrapf is New with a formatted message.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return result(detail(code, fmt.Sprintf(format, args...)))
}

// FromText turns a "CODE: message" string, as produced by pkg/validation, into a tool
// error. Text without a code prefix is reported as VALIDATION.
func FromText(text string) *mcp.CallToolResult {
	code, msg, ok := strings.Cut(strings.TrimSpace(text), ":")
	code = strings.TrimSpace(code)
	if !ok || code == "" || strings.ContainsAny(code, " \t") {
		return New(Validation, strings.TrimSpace(text))
	}
	return New(Code(code), msg)
}

// IsInvalidSheet reports whether err means the requested sheet does not exist.
func IsInvalidSheet(err error) bool {
	if err == nil {
		return false
	}
	var missing excelize.ErrSheetNotExist
	if errors.As(err, &missing) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "doesn't exist") || strings.Contains(low, "does not exist")
}
