package telemetry

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vinodismyname/leadfunnel/pkg/mcperr"
)

// ToolUsage tallies the calls of one tool since start.
type ToolUsage struct {
	Tool     string         `json:"tool"`
	Calls    int            `json:"calls"`
	Failures map[string]int `json:"failures,omitempty"`
	Total    time.Duration  `json:"total"`
}

// Hooks logs session, tool and protocol events and keeps per-tool usage for the shutdown
// summary.
type Hooks struct {
	log   zerolog.Logger
	clock func() time.Time

	sessions atomic.Int64

	mu    sync.Mutex
	usage map[string]*ToolUsage
}

func NewHooks(log zerolog.Logger) *Hooks {
	return &Hooks{log: log, clock: time.Now, usage: map[string]*ToolUsage{}}
}

// Server adapts h to the mcp-go lifecycle callbacks.
func (h *Hooks) Server() *server.Hooks {
	out := &server.Hooks{}
	out.AddOnRegisterSession(func(_ context.Context, s server.ClientSession) {
		n := h.sessions.Add(1)
		h.log.Info().Str("session_id", s.SessionID()).Int64("sessions", n).Msg("client connected")
	})
	out.AddOnUnregisterSession(func(_ context.Context, s server.ClientSession) {
		n := h.sessions.Add(-1)
		h.log.Info().Str("session_id", s.SessionID()).Int64("sessions", n).Msg("client disconnected")
	})
	out.AddAfterListTools(func(_ context.Context, _ any, _ *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		names := lo.Map(res.Tools, func(t mcp.Tool, _ int) string { return t.Name })
		h.log.Debug().Strs("tools", names).Msg("tools listed")
	})
	out.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		h.log.Error().Err(err).Str("method", string(method)).Msg("protocol error")
	})
	return out
}

// ToolMiddleware times each call, tallies it and logs the outcome. Error results are counted
// under their catalog code.
func (h *Hooks) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := h.clock()
		res, err := next(ctx, req)
		took := h.clock().Sub(start)

		code := ""
		switch {
		case err != nil:
			code = "HANDLER_ERROR"
		case res != nil && res.IsError:
			code = failureCode(res)
		}
		h.record(req.Params.Name, took, code)

		ev := h.log.Info()
		switch {
		case err != nil:
			ev = h.log.Error().Err(err)
		case code != "":
			ev = h.log.Warn().Str("code", code)
		}
		if s := server.ClientSessionFromContext(ctx); s != nil {
			ev = ev.Str("session_id", s.SessionID())
		}
		ev.Str("tool", req.Params.Name).Dur("duration", took).Msg("tool call")
		return res, err
	}
}

func failureCode(res *mcp.CallToolResult) string {
	switch d := res.StructuredContent.(type) {
	case mcperr.Detail:
		return string(d.Code)
	case *mcperr.Detail:
		return string(d.Code)
	}
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			if code, _, found := strings.Cut(tc.Text, ":"); found && !strings.ContainsAny(code, " \t") {
				return code
			}
		}
	}
	return string(mcperr.Validation)
}

func (h *Hooks) record(tool string, took time.Duration, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.usage[tool]
	if !ok {
		u = &ToolUsage{Tool: tool}
		h.usage[tool] = u
	}
	u.Calls++
	u.Total += took
	if code != "" {
		if u.Failures == nil {
			u.Failures = map[string]int{}
		}
		u.Failures[code]++
	}
}

// Usage returns a copy of the per-tool tallies ordered by tool name.
func (h *Hooks) Usage() []ToolUsage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ToolUsage, 0, len(h.usage))
	for _, name := range slices.Sorted(maps.Keys(h.usage)) {
		u := *h.usage[name]
		u.Failures = lo.Assign(u.Failures)
		out = append(out, u)
	}
	return out
}

// Sessions is the number of connected clients.
func (h *Hooks) Sessions() int64 { return h.sessions.Load() }

func (h *Hooks) OnServerStart() {
	h.log.Info().Msg("lead funnel server accepting requests")
}

// OnServerStop logs the usage summary.
func (h *Hooks) OnServerStop() {
	arr := zerolog.Arr()
	for _, u := range h.Usage() {
		arr = arr.Dict(zerolog.Dict().
			Str("tool", u.Tool).
			Int("calls", u.Calls).
			Int("failures", lo.Sum(lo.Values(u.Failures))).
			Dur("total", u.Total))
	}
	h.log.Info().Array("usage", arr).Int64("sessions", h.Sessions()).Msg("lead funnel server stopping")
}
