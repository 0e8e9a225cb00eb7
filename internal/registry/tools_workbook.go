package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/backup"
	"github.com/mcpsheets/mcpsheets/internal/diff"
	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/search"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
)

// Deps bundles the services the tool handlers delegate to.
type Deps struct {
	Limits runtime.Limits
	Mgr    *workbooks.Manager
	Sheets *sheets.Service
	Search *search.Service
	Diff   *diff.Service
	Backup *backup.Manager
	Writes *WriteToolFilter
}

// OpenWorkbookInput defines parameters for opening a workbook.
type OpenWorkbookInput struct {
	Path string `json:"path" validate:"required,filepath_ext" jsonschema_description:"Absolute or allowed path to an Excel workbook (.xlsx, .xlsm, .xltx, .xltm)"`
}

// OpenWorkbookOutput documents the response fields for open_workbook.
type OpenWorkbookOutput struct {
	WorkbookID      string `json:"workbook_id" jsonschema_description:"Server-assigned workbook handle ID"`
	Path            string `json:"path" jsonschema_description:"Canonical resolved path"`
	MaxPayloadBytes int    `json:"maxPayloadBytes" jsonschema_description:"Effective payload size limit in bytes"`
	MaxQueryRows    int    `json:"maxQueryRows" jsonschema_description:"Default row ceiling for query_sheet"`
	PreviewRowLimit int    `json:"previewRowLimit" jsonschema_description:"Default row limit for previews"`
}

// CloseWorkbookInput defines parameters for closing a workbook.
type CloseWorkbookInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID to close"`
}

// CloseWorkbookOutput confirms handle release.
type CloseWorkbookOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
}

// ListStructureInput defines parameters for structure discovery.
type ListStructureInput struct {
	WorkbookID   string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	MetadataOnly bool   `json:"metadata_only,omitempty" jsonschema_description:"Skip header previews"`
}

// PreviewSheetInput defines parameters for previewing a sheet.
type PreviewSheetInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	Sheet      string `json:"sheet" validate:"required" jsonschema_description:"Sheet name to preview"`
	Rows       int    `json:"rows,omitempty" validate:"omitempty,min=1,max=1000" jsonschema_description:"Max rows to preview (bounded)"`
	Encoding   string `json:"encoding,omitempty" validate:"omitempty,oneof=json csv" jsonschema_description:"Output encoding: json or csv"`
}

// ReadRangeInput defines parameters for reading a cell range.
type ReadRangeInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	Sheet      string `json:"sheet,omitempty" validate:"required_without=Cursor" jsonschema_description:"Sheet name"`
	Range      string `json:"range,omitempty" validate:"required_without=Cursor,omitempty,a1orname" jsonschema_description:"A1-style cell range (e.g., A1:D50) or defined name"`
	MaxCells   int    `json:"max_cells,omitempty" validate:"omitempty,min=1" jsonschema_description:"Max cells per page (bounded)"`
	Cursor     string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page"`
}

// RegisterWorkbookTools wires workbook lifecycle and bounded read tools.
func RegisterWorkbookTools(s *server.MCPServer, reg *Registry, d Deps) {
	openTool := mcp.NewTool(
		"open_workbook",
		mcp.WithDescription("Open a workbook from an allowed directory and return a handle ID with effective limits. Handles expire after idle TTL; reopening the same path returns the existing handle."),
		mcp.WithInputSchema[OpenWorkbookInput](),
		mcp.WithOutputSchema[OpenWorkbookOutput](),
	)
	s.AddTool(openTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in OpenWorkbookInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		id, canonical, err := d.Mgr.GetOrOpenByPath(ctx, in.Path)
		if err != nil {
			return toolError(mcperr.OpenFailed, err), nil
		}
		out := OpenWorkbookOutput{
			WorkbookID:      id,
			Path:            canonical,
			MaxPayloadBytes: d.Limits.MaxPayloadBytes,
			MaxQueryRows:    d.Limits.MaxQueryRows,
			PreviewRowLimit: d.Limits.PreviewRowLimit,
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("workbook_id=%s", id)), nil
	}))
	reg.Register(openTool)

	closeTool := mcp.NewTool(
		"close_workbook",
		mcp.WithDescription("Close a previously opened workbook handle and release its capacity"),
		mcp.WithInputSchema[CloseWorkbookInput](),
		mcp.WithOutputSchema[CloseWorkbookOutput](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CloseWorkbookInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := d.Mgr.CloseHandle(ctx, in.WorkbookID); err != nil {
			return toolError(mcperr.InvalidHandle, err), nil
		}
		return mcp.NewToolResultStructured(CloseWorkbookOutput{Success: true}, "closed"), nil
	}))
	reg.Register(closeTool)

	listStructure := mcp.NewTool(
		"list_structure",
		mcp.WithDescription("Return workbook structure: sheets, used-range dimensions, header previews (no cell data beyond headers)"),
		mcp.WithInputSchema[ListStructureInput](),
		mcp.WithOutputSchema[sheets.StructureOutput](),
	)
	s.AddTool(listStructure, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ListStructureInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		out, err := d.Sheets.Structure(ctx, in.WorkbookID, in.MetadataOnly)
		if err != nil {
			return toolError(mcperr.DiscoveryFailed, err), nil
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("sheets=%d", len(out.Sheets))), nil
	}))
	reg.Register(listStructure)

	preview := mcp.NewTool(
		"preview_sheet",
		mcp.WithDescription("Stream a bounded preview of the first N rows of a sheet as JSON rows or CSV"),
		mcp.WithInputSchema[PreviewSheetInput](),
		mcp.WithOutputSchema[sheets.PreviewOutput](),
	)
	s.AddTool(preview, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in PreviewSheetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		encoding := in.Encoding
		if encoding == "" {
			encoding = "json"
		}
		out, err := d.Sheets.Preview(ctx, in.WorkbookID, in.Sheet, in.Rows, encoding)
		if err != nil {
			return toolError(mcperr.PreviewFailed, err), nil
		}
		summary := fmt.Sprintf("rows=%d total=%d truncated=%v", out.Meta.Returned, out.Meta.Total, out.Meta.Truncated)
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(preview)

	readRange := mcp.NewTool(
		"read_range",
		mcp.WithDescription("Return a bounded page of an A1 range or defined name with pagination metadata. Pass the returned cursor to continue; cursors are invalidated by writes."),
		mcp.WithInputSchema[ReadRangeInput](),
		mcp.WithOutputSchema[sheets.ReadRangeOutput](),
	)
	s.AddTool(readRange, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ReadRangeInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		out, err := d.Sheets.ReadRange(ctx, in.WorkbookID, in.Sheet, in.Range, in.Cursor, in.MaxCells)
		if err != nil {
			return toolError(mcperr.ReadFailed, err), nil
		}
		summary := fmt.Sprintf("range=%s rows=%d/%d truncated=%v", out.Range, out.Meta.Returned, out.Meta.Total, out.Meta.Truncated)
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(readRange)
}
