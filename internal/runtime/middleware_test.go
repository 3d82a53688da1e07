package runtime

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func call(name string) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	return req
}

func textOf(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			return tc.Text
		}
	}
	return ""
}

func TestMiddleware_PassesThroughWithToolLogger(t *testing.T) {
	ctrl := NewController(NewLimits(1, 1))
	mw := NewMiddleware(ctrl, zerolog.New(io.Discard))

	var logger *zerolog.Logger
	var inFlight int64
	res, err := mw.ToolMiddleware(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger = zerolog.Ctx(ctx)
		inFlight = ctrl.InFlight()
		return mcp.NewToolResultText("ok"), nil
	})(context.Background(), call("stage_counts"))

	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotNil(t, logger)
	require.NotEqual(t, zerolog.Disabled, logger.GetLevel())
	require.EqualValues(t, 1, inFlight)
	require.EqualValues(t, 0, ctrl.InFlight())
}

func TestMiddleware_BusyWhenSaturated(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.AcquireRequestTimeout = 10 * time.Millisecond
	ctrl := NewController(limits)
	release, err := ctrl.Admit(context.Background())
	require.NoError(t, err)
	defer release()

	res, err := NewMiddleware(ctrl, zerolog.Nop()).ToolMiddleware(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t.Fatal("handler must not run while saturated")
		return nil, nil
	})(context.Background(), call("funnel_progression"))

	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, textOf(res), "BUSY_RESOURCE")
}

func TestMiddleware_DeadlineBecomesTimeout(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.OperationTimeout = 20 * time.Millisecond
	ctrl := NewController(limits)

	res, err := NewMiddleware(ctrl, zerolog.Nop()).ToolMiddleware(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})(context.Background(), call("export_funnel_table"))

	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, textOf(res), "TIMEOUT")
	require.EqualValues(t, 0, ctrl.InFlight())
}
