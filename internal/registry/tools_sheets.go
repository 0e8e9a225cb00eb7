package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/backup"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
)

// WriteRangeInput defines parameters for the staged range write.
type WriteRangeInput struct {
	WorkbookID string     `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	Sheet      string     `json:"sheet" validate:"required" jsonschema_description:"Sheet name"`
	Range      string     `json:"range" validate:"required,a1orname" jsonschema_description:"Target A1 range or defined name"`
	Values     [][]string `json:"values" validate:"required,min=1" jsonschema_description:"Row-major cell values; must fit inside the range"`
	Confirm    string     `json:"confirm,omitempty" jsonschema_description:"Confirmation token from a previous staging call; applies the write"`
}

// WriteRangeOutput reports either the staged token or the applied write.
type WriteRangeOutput struct {
	Staged       bool               `json:"staged"`
	ConfirmToken string             `json:"confirm_token,omitempty" jsonschema_description:"Single-use token; re-issue the call with it to apply"`
	Impact       sheets.WriteImpact `json:"impact"`
	SnapshotID   string             `json:"snapshot_id,omitempty" jsonschema_description:"Backup snapshot taken before applying"`
	CellsWritten int                `json:"cells_written,omitempty"`
}

// SheetOpInput defines parameters for add/delete sheet operations.
type SheetOpInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	Sheet      string `json:"sheet" validate:"required" jsonschema_description:"Sheet name"`
}

// SheetRenameInput defines parameters for rename/copy sheet operations.
type SheetRenameInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	From       string `json:"from" validate:"required" jsonschema_description:"Existing sheet name"`
	To         string `json:"to" validate:"required" jsonschema_description:"New sheet name"`
}

// SheetOpOutput confirms a sheet-level mutation.
type SheetOpOutput struct {
	Success bool   `json:"success"`
	Sheet   string `json:"sheet,omitempty"`
}

// RegisterSheetTools wires the staged write and sheet management tools.
// All of these are hidden from discovery unless writes are enabled.
func RegisterSheetTools(s *server.MCPServer, reg *Registry, d Deps) {
	writeRange := mcp.NewTool(
		"write_range",
		mcp.WithDescription("Write values into a range with a two-step confirmation. Without confirm, the write is staged: the response carries an impact summary and a single-use token. Re-issue the call with the token to snapshot the file and apply. Tokens expire and are invalidated by any other write to the workbook."),
		mcp.WithInputSchema[WriteRangeInput](),
		mcp.WithOutputSchema[WriteRangeOutput](),
	)
	s.AddTool(writeRange, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in WriteRangeInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		version, ok := d.Mgr.Version(in.WorkbookID)
		if !ok {
			return mcperr.New(mcperr.InvalidHandle, "workbook handle not found"), nil
		}

		if in.Confirm == "" {
			d.Backup.SweepExpired()
			impact, err := d.Sheets.PlanWrite(ctx, in.WorkbookID, in.Sheet, in.Range, in.Values)
			if err != nil {
				return toolError(mcperr.WriteFailed, err), nil
			}
			token := d.Backup.Stage(backup.StagedWrite{
				WorkbookID: in.WorkbookID,
				Sheet:      in.Sheet,
				Range:      in.Range,
				Values:     in.Values,
				Version:    version,
			})
			out := WriteRangeOutput{Staged: true, ConfirmToken: token, Impact: impact}
			summary := fmt.Sprintf("staged: %d cells (%d currently non-empty); confirm to apply", impact.Cells, impact.NonEmptyBefore)
			return mcp.NewToolResultStructured(out, summary), nil
		}

		staged, err := d.Backup.Confirm(in.Confirm, in.WorkbookID, version)
		if err != nil {
			return toolError(mcperr.ConfirmInvalid, err), nil
		}
		out := WriteRangeOutput{Impact: sheets.WriteImpact{}}
		if path, ok := d.Mgr.PathOf(in.WorkbookID); ok {
			snap, err := d.Backup.Snapshot(path)
			if err != nil {
				return toolError(mcperr.SnapshotFailed, err), nil
			}
			out.SnapshotID = snap.ID
		}
		n, err := d.Sheets.ApplyWrite(ctx, staged.WorkbookID, staged.Sheet, staged.Range, staged.Values)
		if err != nil {
			return toolError(mcperr.WriteFailed, err), nil
		}
		out.CellsWritten = n
		summary := fmt.Sprintf("wrote %d cells to %s!%s", n, staged.Sheet, staged.Range)
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(writeRange)

	addSheet := mcp.NewTool(
		"add_sheet",
		mcp.WithDescription("Create a new empty sheet in the workbook"),
		mcp.WithInputSchema[SheetOpInput](),
		mcp.WithOutputSchema[SheetOpOutput](),
	)
	s.AddTool(addSheet, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SheetOpInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := d.Sheets.AddSheet(ctx, in.WorkbookID, in.Sheet); err != nil {
			return toolError(mcperr.SheetOpFailed, err), nil
		}
		return mcp.NewToolResultStructured(SheetOpOutput{Success: true, Sheet: in.Sheet}, "added "+in.Sheet), nil
	}))
	reg.Register(addSheet)

	renameSheet := mcp.NewTool(
		"rename_sheet",
		mcp.WithDescription("Rename an existing sheet"),
		mcp.WithInputSchema[SheetRenameInput](),
		mcp.WithOutputSchema[SheetOpOutput](),
	)
	s.AddTool(renameSheet, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SheetRenameInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := d.Sheets.RenameSheet(ctx, in.WorkbookID, in.From, in.To); err != nil {
			return toolError(mcperr.SheetOpFailed, err), nil
		}
		return mcp.NewToolResultStructured(SheetOpOutput{Success: true, Sheet: in.To}, "renamed to "+in.To), nil
	}))
	reg.Register(renameSheet)

	deleteSheet := mcp.NewTool(
		"delete_sheet",
		mcp.WithDescription("Delete a sheet. The last remaining sheet cannot be deleted."),
		mcp.WithInputSchema[SheetOpInput](),
		mcp.WithOutputSchema[SheetOpOutput](),
	)
	s.AddTool(deleteSheet, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SheetOpInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := d.Sheets.DeleteSheet(ctx, in.WorkbookID, in.Sheet); err != nil {
			return toolError(mcperr.SheetOpFailed, err), nil
		}
		return mcp.NewToolResultStructured(SheetOpOutput{Success: true}, "deleted "+in.Sheet), nil
	}))
	reg.Register(deleteSheet)

	copySheet := mcp.NewTool(
		"copy_sheet",
		mcp.WithDescription("Duplicate a sheet under a new name"),
		mcp.WithInputSchema[SheetRenameInput](),
		mcp.WithOutputSchema[SheetOpOutput](),
	)
	s.AddTool(copySheet, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SheetRenameInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := d.Sheets.CopySheet(ctx, in.WorkbookID, in.From, in.To); err != nil {
			return toolError(mcperr.SheetOpFailed, err), nil
		}
		return mcp.NewToolResultStructured(SheetOpOutput{Success: true, Sheet: in.To}, "copied to "+in.To), nil
	}))
	reg.Register(copySheet)
}
