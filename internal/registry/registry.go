package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

// ToolProvider yields the MCP tool definitions a component contributes.
type ToolProvider interface {
	Tools(context.Context) ([]mcp.Tool, error)
}

// Registry indexes every registered tool definition by name so discovery
// and diagnostics see one consistent catalog regardless of which package
// contributed a tool.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]mcp.Tool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tools: map[string]mcp.Tool{},
	}
}

// Register adds or replaces a tool definition under its name.
func (r *Registry) Register(tool mcp.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[tool.Name] = tool
}

// Get looks up one tool definition by name.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools lists the catalog sorted by tool name.
func (r *Registry) Tools(ctx context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}

	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})

	return tools, nil
}

// ModelContextSize reports a client model's context window when known.
// Callers use it to keep default payload limits below typical context sizes.
func (r *Registry) ModelContextSize(modelName string) int {
	return llms.GetModelContextSize(modelName)
}
