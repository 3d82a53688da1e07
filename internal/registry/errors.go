package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
	"github.com/vinodismyname/leadfunnel/internal/insights"
	"github.com/vinodismyname/leadfunnel/internal/security"
	"github.com/vinodismyname/leadfunnel/internal/workbooks"
	"github.com/vinodismyname/leadfunnel/pkg/mcperr"
)

// toolError maps a handler error onto the tool error catalog. fallback is used for errors
// without a more specific code.
func toolError(err error, fallback mcperr.Code) *mcp.CallToolResult {
	code := fallback
	switch {
	case errors.Is(err, funnel.ErrEmptyDataset):
		code = mcperr.EmptyDataset
	case errors.Is(err, funnel.ErrInvalidSchema):
		code = mcperr.InvalidSchema
	case errors.Is(err, insights.ErrCursorMismatch):
		code = mcperr.CursorInvalid
	case errors.Is(err, insights.ErrCursorBuild):
		code = mcperr.CursorBuildFailed
	case errors.Is(err, insights.ErrRowLimit):
		code = mcperr.LimitExceeded
	case errors.Is(err, insights.ErrPayloadTooLarge):
		code = mcperr.PayloadTooLarge
	case errors.Is(err, insights.ErrReadRows):
		code = mcperr.ReadFailed
	case errors.Is(err, insights.ErrInvalidRange):
		code = mcperr.Validation
	case errors.Is(err, insights.ErrSheetExists):
		code = mcperr.WriteFailed
	case errors.Is(err, workbooks.ErrHandleNotFound):
		code = mcperr.InvalidHandle
	case errors.Is(err, workbooks.ErrUnsupportedFormat), errors.Is(err, security.ErrUnsupportedExtension):
		code = mcperr.UnsupportedFormat
	case errors.Is(err, security.ErrNotAllowed):
		code = mcperr.PermissionDenied
	case errors.Is(err, security.ErrNotFound):
		code = mcperr.OpenFailed
	case errors.Is(err, context.DeadlineExceeded):
		code = mcperr.Timeout
	case mcperr.IsInvalidSheet(err):
		code = mcperr.InvalidSheet
	}
	return mcperr.New(code, trimSentinel(err.Error()))
}

// trimSentinel drops package prefixes like "funnel: " so messages read as one sentence.
func trimSentinel(msg string) string {
	for _, p := range []string{"funnel: ", "workbooks: ", "security: "} {
		msg = strings.ReplaceAll(msg, p, "")
	}
	return msg
}
