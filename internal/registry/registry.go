package registry

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

// Registry records the tools the server exposes, in registration order, and which of them
// write to workbooks. It also owns the token budget of text summaries.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]mcp.Tool
	writes map[string]bool

	model       string
	tokenBudget int
	countTokens func(model, text string) int
}

func New() *Registry {
	return &Registry{
		tools:       map[string]mcp.Tool{},
		writes:      map[string]bool{},
		countTokens: llms.CountTokens,
	}
}

// WithSummaryBudget sets the tokenizer model and the maximum tokens of a tool's text summary.
// A non-positive budget disables trimming.
func (r *Registry) WithSummaryBudget(model string, tokens int) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model, r.tokenBudget = model, tokens
	return r
}

// Register records a read-only tool.
func (r *Registry) Register(tool mcp.Tool) { r.put(tool, false) }

// RegisterWrite records a tool that modifies workbooks.
func (r *Registry) RegisterWrite(tool mcp.Tool) { r.put(tool, true) }

func (r *Registry) put(tool mcp.Tool, write bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; !ok {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.writes[tool.Name] = write
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// IsWrite reports whether name was registered with RegisterWrite.
func (r *Registry) IsWrite(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes[name]
}

// ContextWindow is the summary model's context size in tokens.
func (r *Registry) ContextWindow() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return llms.GetModelContextSize(r.model)
}

// Summarize joins lines into a text summary, dropping trailing lines once the token budget
// would be exceeded. The first line is always kept.
func (r *Registry) Summarize(lines []string) string {
	r.mu.RLock()
	model, budget, count := r.model, r.tokenBudget, r.countTokens
	r.mu.RUnlock()

	if len(lines) == 0 {
		return ""
	}
	if budget <= 0 {
		return strings.Join(lines, "\n")
	}
	kept := []string{lines[0]}
	used := count(model, lines[0])
	for i, l := range lines[1:] {
		n := count(model, "\n"+l)
		if used+n > budget {
			kept = append(kept, "… "+strconv.Itoa(len(lines)-1-i)+" more")
			break
		}
		kept = append(kept, l)
		used += n
	}
	return strings.Join(kept, "\n")
}
