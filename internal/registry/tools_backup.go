package registry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/backup"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
)

// WorkbookRefInput identifies a workbook handle.
type WorkbookRefInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
}

// SnapshotOutput reports one created snapshot.
type SnapshotOutput struct {
	WorkbookID string              `json:"workbook_id"`
	Snapshot   backup.SnapshotInfo `json:"snapshot"`
}

// ListSnapshotsOutput lists snapshots of the workbook's backing file.
type ListSnapshotsOutput struct {
	WorkbookID string                `json:"workbook_id"`
	Snapshots  []backup.SnapshotInfo `json:"snapshots"`
}

// RestoreSnapshotInput identifies the snapshot to restore.
type RestoreSnapshotInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	SnapshotID string `json:"snapshot_id" validate:"required" jsonschema_description:"Snapshot ID from list_snapshots"`
}

// RestoreSnapshotOutput reports the restored snapshot. The handle is closed
// so the next open re-reads the restored file.
type RestoreSnapshotOutput struct {
	Path         string `json:"path"`
	SnapshotID   string `json:"snapshot_id"`
	HandleClosed bool   `json:"handle_closed"`
}

// RegisterBackupTools wires snapshot management. list_snapshots is a read
// tool; snapshot_workbook and restore_snapshot are write-gated.
func RegisterBackupTools(s *server.MCPServer, reg *Registry, d Deps) {
	list := mcp.NewTool(
		"list_snapshots",
		mcp.WithDescription("List backup snapshots of the workbook's backing file, newest first"),
		mcp.WithInputSchema[WorkbookRefInput](),
		mcp.WithOutputSchema[ListSnapshotsOutput](),
	)
	s.AddTool(list, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in WorkbookRefInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		path, ok := d.Mgr.PathOf(in.WorkbookID)
		if !ok {
			return mcperr.New(mcperr.InvalidHandle, "workbook handle not found or has no backing file"), nil
		}
		snaps, err := d.Backup.List(path)
		if err != nil {
			return toolError(mcperr.SnapshotFailed, err), nil
		}
		out := ListSnapshotsOutput{WorkbookID: in.WorkbookID, Snapshots: snaps}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("snapshots=%d", len(snaps))), nil
	}))
	reg.Register(list)

	snapshot := mcp.NewTool(
		"snapshot_workbook",
		mcp.WithDescription("Copy the workbook's backing file into the backup directory. Old snapshots beyond the per-file cap are pruned."),
		mcp.WithInputSchema[WorkbookRefInput](),
		mcp.WithOutputSchema[SnapshotOutput](),
	)
	s.AddTool(snapshot, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in WorkbookRefInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		path, ok := d.Mgr.PathOf(in.WorkbookID)
		if !ok {
			return mcperr.New(mcperr.InvalidHandle, "workbook handle not found or has no backing file"), nil
		}
		snap, err := d.Backup.Snapshot(path)
		if err != nil {
			return toolError(mcperr.SnapshotFailed, err), nil
		}
		out := SnapshotOutput{WorkbookID: in.WorkbookID, Snapshot: snap}
		return mcp.NewToolResultStructured(out, "snapshot "+snap.ID), nil
	}))
	reg.Register(snapshot)

	restore := mcp.NewTool(
		"restore_snapshot",
		mcp.WithDescription("Overwrite the workbook's backing file with a snapshot. The open handle is closed; reopen the path to continue working on the restored content."),
		mcp.WithInputSchema[RestoreSnapshotInput](),
		mcp.WithOutputSchema[RestoreSnapshotOutput](),
	)
	s.AddTool(restore, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in RestoreSnapshotInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		path, ok := d.Mgr.PathOf(in.WorkbookID)
		if !ok {
			return mcperr.New(mcperr.InvalidHandle, "workbook handle not found or has no backing file"), nil
		}
		snap, err := d.Backup.Restore(path, in.SnapshotID)
		if err != nil {
			return toolError(mcperr.RestoreFailed, err), nil
		}
		// Drop the stale in-memory handle; its contents predate the restore.
		closed := d.Mgr.CloseHandle(ctx, in.WorkbookID) == nil
		out := RestoreSnapshotOutput{Path: path, SnapshotID: snap.ID, HandleClosed: closed}
		return mcp.NewToolResultStructured(out, "restored "+snap.ID), nil
	}))
	reg.Register(restore)
}
