package registry

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// writeToolPrefixes marks tools hidden while writes are disabled.
var writeToolPrefixes = []string{
	"write_", "add_", "rename_", "delete_", "copy_", "snapshot_", "restore_",
}

// WriteToolFilter conditionally hides write tools unless explicitly enabled.
// Enable by setting environment variable MCPSHEETS_ENABLE_WRITES=true.
type WriteToolFilter struct {
	allowWrites bool
}

// NewWriteToolFilterFromEnv constructs a filter using MCPSHEETS_ENABLE_WRITES.
func NewWriteToolFilterFromEnv() *WriteToolFilter {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MCPSHEETS_ENABLE_WRITES")))
	allow := v == "1" || v == "true" || v == "yes"
	return &WriteToolFilter{allowWrites: allow}
}

// WritesEnabled reports whether write tools are exposed.
func (f *WriteToolFilter) WritesEnabled() bool { return f.allowWrites }

// FilterTools implements server tool filtering semantics. When writes are
// disabled, tools with mutating name prefixes are excluded from discovery.
func (f *WriteToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowWrites {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if isWriteTool(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isWriteTool(name string) bool {
	low := strings.ToLower(name)
	for _, p := range writeToolPrefixes {
		if strings.HasPrefix(low, p) {
			return true
		}
	}
	return false
}
