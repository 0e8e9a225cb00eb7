package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/search"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
)

// SearchDataInput defines parameters for cell search.
type SearchDataInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	Sheet      string `json:"sheet,omitempty" validate:"required_without=Cursor" jsonschema_description:"Sheet name to scan"`
	Query      string `json:"query,omitempty" validate:"required_without=Cursor,valid_regex" jsonschema_description:"Substring (case-insensitive) or regex pattern"`
	Regex      bool   `json:"regex,omitempty" jsonschema_description:"Treat query as a regular expression"`
	Columns    []int  `json:"columns,omitempty" validate:"omitempty,dive,min=1" jsonschema_description:"1-based column filter; empty scans all columns"`
	Cursor     string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page"`
	MaxResults int    `json:"max_results,omitempty" validate:"omitempty,min=1" jsonschema_description:"Max matches per page (bounded)"`
}

// RegisterSearchTools wires the bounded cell search tool.
func RegisterSearchTools(s *server.MCPServer, reg *Registry, d Deps) {
	tool := mcp.NewTool(
		"search_data",
		mcp.WithDescription("Scan a sheet for cells matching a substring or regex. Returns match addresses with row snapshots; large scans paginate via cursor, invalidated by writes."),
		mcp.WithInputSchema[SearchDataInput](),
		mcp.WithOutputSchema[search.Output](),
	)
	s.AddTool(tool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SearchDataInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		out, err := d.Search.Search(ctx, in.WorkbookID, in.Sheet, in.Query, in.Regex, in.Columns, in.Cursor, in.MaxResults)
		if err != nil {
			return toolError(mcperr.SearchFailed, err), nil
		}
		summary := fmt.Sprintf("matches=%d truncated=%v", out.Meta.Returned, out.Meta.Truncated)
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(tool)
}
