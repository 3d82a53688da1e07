package mcperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestNew_UsesCatalogMessageAndGuidance(t *testing.T) {
	got := text(t, New(EmptyDataset, ""))
	require.Contains(t, got, "EMPTY_DATASET: no leads left after filtering")
	require.Contains(t, got, "nextSteps:")
}

func TestFromText_UnknownCodePreserved(t *testing.T) {
	require.Equal(t, "SOMETHING: odd", text(t, FromText("SOMETHING: odd")))
	require.Contains(t, text(t, FromText("")), "VALIDATION")
}

func TestWrapf(t *testing.T) {
	got := text(t, Wrapf(InvalidSchema, "dimension %q is not a header", "bonus"))
	require.Contains(t, got, `INVALID_SCHEMA: dimension "bonus" is not a header`)
}

func TestNew_AttachesStructuredDetail(t *testing.T) {
	res := New(LimitExceeded, "more than 10 data rows")
	d, ok := res.StructuredContent.(Detail)
	require.True(t, ok)
	require.Equal(t, LimitExceeded, d.Code)
	require.Equal(t, "more than 10 data rows", d.Message)
	require.True(t, d.Retryable)
	require.NotEmpty(t, d.NextSteps)
	require.Equal(t, d.Text(), text(t, res))
}

func TestFromText_WithoutCodeIsValidation(t *testing.T) {
	require.Contains(t, text(t, FromText("sheet is required: Leads")), "VALIDATION: sheet is required: Leads")
}

func TestIsInvalidSheet(t *testing.T) {
	require.True(t, IsInvalidSheet(fmt.Errorf("load: %w", excelize.ErrSheetNotExist{SheetName: "Leads"})))
	require.True(t, IsInvalidSheet(errors.New("sheet Leads does not exist")))
	require.False(t, IsInvalidSheet(errors.New("boom")))
	require.False(t, IsInvalidSheet(nil))
}

func TestLookup(t *testing.T) {
	e, ok := Lookup(WritesDisabled)
	require.True(t, ok)
	require.False(t, e.Retryable)
}
