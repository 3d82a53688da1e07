package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leadfunnel/pkg/mcperr"
)

func stepClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func handler(res *mcp.CallToolResult, err error) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return res, err }
}

func named(name string) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	return req
}

func TestToolMiddleware_LogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	h := NewHooks(zerolog.New(&buf))
	h.clock = stepClock(15 * time.Millisecond)

	_, err := h.ToolMiddleware(handler(mcp.NewToolResultText("ok"), nil))(context.Background(), named("funnel_progression"))
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"tool":"funnel_progression"`)
	require.Contains(t, buf.String(), `"level":"info"`)
	require.Contains(t, buf.String(), `"duration":15`)

	buf.Reset()
	_, err = h.ToolMiddleware(handler(mcperr.New(mcperr.EmptyDataset, "no leads"), nil))(context.Background(), named("stage_counts"))
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"code":"EMPTY_DATASET"`)

	buf.Reset()
	_, err = h.ToolMiddleware(handler(nil, errors.New("boom")))(context.Background(), named("stage_counts"))
	require.Error(t, err)
	require.Contains(t, buf.String(), `"level":"error"`)
}

func TestUsage_TalliesPerTool(t *testing.T) {
	h := NewHooks(zerolog.Nop())
	h.clock = stepClock(time.Millisecond)

	ok := h.ToolMiddleware(handler(mcp.NewToolResultText("ok"), nil))
	timeout := h.ToolMiddleware(handler(mcperr.New(mcperr.Timeout, ""), nil))
	plain := h.ToolMiddleware(handler(mcp.NewToolResultError("LIMIT_EXCEEDED: too many rows"), nil))

	for _, call := range []struct {
		mw   func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		tool string
	}{
		{ok, "stage_counts"},
		{ok, "funnel_progression"},
		{timeout, "funnel_progression"},
		{plain, "funnel_progression"},
	} {
		_, err := call.mw(context.Background(), named(call.tool))
		require.NoError(t, err)
	}

	usage := h.Usage()
	require.Len(t, usage, 2)
	require.Equal(t, "funnel_progression", usage[0].Tool)
	require.Equal(t, 3, usage[0].Calls)
	require.Equal(t, map[string]int{"TIMEOUT": 1, "LIMIT_EXCEEDED": 1}, usage[0].Failures)
	require.Equal(t, 3*time.Millisecond, usage[0].Total)
	require.Equal(t, "stage_counts", usage[1].Tool)
	require.Empty(t, usage[1].Failures)

	usage[0].Failures["TIMEOUT"] = 99
	require.Equal(t, 1, h.Usage()[0].Failures["TIMEOUT"])
}

func TestOnServerStop_LogsSummary(t *testing.T) {
	var buf bytes.Buffer
	h := NewHooks(zerolog.New(&buf))
	_, _ = h.ToolMiddleware(handler(mcp.NewToolResultText("ok"), nil))(context.Background(), named("stage_counts"))
	buf.Reset()

	h.OnServerStop()
	require.Contains(t, buf.String(), `"usage":[{"tool":"stage_counts","calls":1,"failures":0`)
	require.Contains(t, buf.String(), `"sessions":0`)
}

func TestServer_BuildsHooks(t *testing.T) {
	hooks := NewHooks(zerolog.Nop()).Server()
	require.Len(t, hooks.OnRegisterSession, 1)
	require.Len(t, hooks.OnUnregisterSession, 1)
	require.Len(t, hooks.OnAfterListTools, 1)
	require.Len(t, hooks.OnError, 1)
}
