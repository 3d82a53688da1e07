package runtime

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/leadfunnel/pkg/mcperr"
)

// Middleware admits tool calls through a Controller, bounds their run time and hands them a
// tool-scoped logger through the context.
type Middleware struct {
	ctrl *Controller
	log  zerolog.Logger
}

// NewMiddleware binds a Middleware to ctrl.
func NewMiddleware(ctrl *Controller, log zerolog.Logger) *Middleware {
	return &Middleware{ctrl: ctrl, log: log}
}

// ToolMiddleware wraps next for server.WithToolHandlerMiddleware. Saturation and deadlines
// come back as BUSY_RESOURCE and TIMEOUT tool errors rather than protocol errors.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limits := m.ctrl.Limits()
		log := m.log.With().Str("tool", req.Params.Name).Logger()

		release, err := m.ctrl.Admit(ctx)
		if err != nil {
			log.Warn().Int("max", limits.MaxConcurrentRequests).Msg("request rejected: busy")
			return mcperr.Wrapf(mcperr.BusyResource, "%d analyses already running", limits.MaxConcurrentRequests), nil
		}
		defer release()

		callCtx, cancel := m.ctrl.Bound(ctx)
		defer cancel()
		log.Debug().Int64("in_flight", m.ctrl.InFlight()).Msg("tool call admitted")

		res, err := next(log.WithContext(callCtx), req)
		if errors.Is(err, context.DeadlineExceeded) || (err == nil && res == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
			log.Warn().Dur("timeout", limits.OperationTimeout).Msg("tool call timed out")
			return mcperr.New(mcperr.Timeout, ""), nil
		}
		return res, err
	}
}
