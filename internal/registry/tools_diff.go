package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/diff"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
)

// DiffRangesInput defines parameters for structured range comparison.
type DiffRangesInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	SheetA     string `json:"sheet_a" validate:"required" jsonschema_description:"Sheet holding range A (before side)"`
	RangeA     string `json:"range_a" validate:"required,a1orname" jsonschema_description:"A1 range or defined name for side A"`
	SheetB     string `json:"sheet_b" validate:"required" jsonschema_description:"Sheet holding range B (after side)"`
	RangeB     string `json:"range_b" validate:"required,a1orname" jsonschema_description:"A1 range or defined name for side B"`
	KeyColumn  int    `json:"key_column,omitempty" validate:"omitempty,min=1" jsonschema_description:"1-based key column within the ranges; enables keyed row alignment (first row = header)"`
}

// RegisterDiffTools wires the structured range comparison tool.
func RegisterDiffTools(s *server.MCPServer, reg *Registry, d Deps) {
	tool := mcp.NewTool(
		"diff_ranges",
		mcp.WithDescription("Compare two ranges of a workbook. With key_column, rows align on the key value and the result lists added/removed keys and per-field changes; without it, cells compare positionally."),
		mcp.WithInputSchema[DiffRangesInput](),
		mcp.WithOutputSchema[diff.Output](),
	)
	s.AddTool(tool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DiffRangesInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		out, err := d.Diff.Diff(ctx, in.WorkbookID, in.SheetA, in.RangeA, in.SheetB, in.RangeB, in.KeyColumn)
		if err != nil {
			return toolError(mcperr.DiffFailed, err), nil
		}
		var summary string
		if out.Keyed {
			summary = fmt.Sprintf("identical=%v added=%d removed=%d changed=%d", out.Identical, len(out.Added), len(out.Removed), len(out.Changed))
		} else {
			summary = fmt.Sprintf("identical=%v cell_changes=%d", out.Identical, len(out.CellChanges))
		}
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(tool)
}
