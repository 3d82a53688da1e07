package registry

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"
)

// WriteToolFilter hides write tools from discovery unless LEADFUNNEL_ENABLE_WRITES is set.
// Their handlers refuse to run either way.
type WriteToolFilter struct {
	reg   *Registry
	allow bool
}

func NewWriteToolFilter(reg *Registry, allow bool) *WriteToolFilter {
	return &WriteToolFilter{reg: reg, allow: allow}
}

// FilterTools matches server.ToolFilterFunc.
func (f *WriteToolFilter) FilterTools(_ context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allow {
		return tools
	}
	return lo.Reject(tools, func(t mcp.Tool, _ int) bool { return f.reg.IsWrite(t.Name) })
}
