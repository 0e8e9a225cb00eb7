package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation        Code = "VALIDATION"
	InvalidHandle     Code = "INVALID_HANDLE"
	InvalidSheet      Code = "INVALID_SHEET"
	CursorInvalid     Code = "CURSOR_INVALID"
	CursorBuildFailed Code = "CURSOR_BUILD_FAILED"

	// Resource & Limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	FileTooLarge    Code = "FILE_TOO_LARGE"

	// IO & Formats
	FileNotFound    Code = "FILE_NOT_FOUND"
	OpenFailed      Code = "OPEN_FAILED"
	DiscoveryFailed Code = "DISCOVERY_FAILED"
	PreviewFailed   Code = "PREVIEW_FAILED"
	ReadFailed      Code = "READ_FAILED"
	WriteFailed     Code = "WRITE_FAILED"
	SearchFailed    Code = "SEARCH_FAILED"
	DiffFailed      Code = "DIFF_FAILED"
	SheetOpFailed   Code = "SHEET_OP_FAILED"

	// Query engine
	SyntaxError    Code = "SYNTAX_ERROR"
	UnsupportedSQL Code = "UNSUPPORTED_SQL"
	TableNotFound  Code = "TABLE_NOT_FOUND"
	ColumnNotFound Code = "COLUMN_NOT_FOUND"
	DataLoadFailed Code = "DATA_LOAD_FAILED"
	QueryFailed    Code = "QUERY_FAILED"

	// Safety workflow
	ConfirmRequired Code = "CONFIRM_REQUIRED"
	ConfirmInvalid  Code = "CONFIRM_INVALID"
	SnapshotFailed  Code = "SNAPSHOT_FAILED"
	RestoreFailed   Code = "RESTORE_FAILED"

	// Integrity
	CorruptWorkbook   Code = "CORRUPT_WORKBOOK"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:        {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidHandle:     {Code: InvalidHandle, Message: "workbook handle not found or expired", Retryable: true, NextSteps: []string{"Reopen the workbook via path and retry"}},
	InvalidSheet:      {Code: InvalidSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"Call list_structure to verify sheet names", "Check case and spacing"}},
	CursorInvalid:     {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Avoid edits between pages or reissue query"}},
	CursorBuildFailed: {Code: CursorBuildFailed, Message: "failed to encode next page cursor", Retryable: true, NextSteps: []string{"Retry or narrow scope (smaller pages)"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Narrow scope (rows/cells) or increase timeout"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Narrow range, reduce groups, or lower page size"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Reduce range size or split into batches"}},
	FileTooLarge:    {Code: FileTooLarge, Message: "file exceeds configured size", Retryable: false, NextSteps: []string{"Use a smaller workbook or increase the limit"}},

	FileNotFound:    {Code: FileNotFound, Message: "file not found", Retryable: false, NextSteps: []string{"Verify the path and allowed directories"}},
	OpenFailed:      {Code: OpenFailed, Message: "failed to open workbook", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	DiscoveryFailed: {Code: DiscoveryFailed, Message: "failed to discover structure", Retryable: true, NextSteps: []string{"Retry or open the workbook and inspect"}},
	PreviewFailed:   {Code: PreviewFailed, Message: "failed to generate preview", Retryable: true, NextSteps: []string{"Retry with fewer rows or JSON encoding"}},
	ReadFailed:      {Code: ReadFailed, Message: "failed to read range", Retryable: true, NextSteps: []string{"Verify A1 range and retry", "Reduce max_cells if needed"}},
	WriteFailed:     {Code: WriteFailed, Message: "failed to write range", Retryable: false, NextSteps: []string{"Validate range and values"}},
	SearchFailed:    {Code: SearchFailed, Message: "search execution failed", Retryable: true, NextSteps: []string{"Simplify query or disable regex"}},
	DiffFailed:      {Code: DiffFailed, Message: "diff execution failed", Retryable: true, NextSteps: []string{"Check both ranges have equal column counts", "Verify the key column exists"}},
	SheetOpFailed:   {Code: SheetOpFailed, Message: "sheet operation failed", Retryable: false, NextSteps: []string{"Call list_structure to verify sheet names"}},

	SyntaxError:    {Code: SyntaxError, Message: "SQL could not be parsed", Retryable: true, NextSteps: []string{"Check SQL syntax; only plain SELECT is supported"}},
	UnsupportedSQL: {Code: UnsupportedSQL, Message: "SQL uses an unsupported construct", Retryable: true, NextSteps: []string{"Remove joins, subqueries, CTEs, and window functions", "Supported aggregates: COUNT, SUM, AVG, MIN, MAX"}},
	TableNotFound:  {Code: TableNotFound, Message: "FROM names an unknown sheet", Retryable: true, NextSteps: []string{"Call list_structure to verify sheet names"}},
	ColumnNotFound: {Code: ColumnNotFound, Message: "query references an unknown column", Retryable: true, NextSteps: []string{"Preview the sheet header row to verify column names"}},
	DataLoadFailed: {Code: DataLoadFailed, Message: "failed to load sheet data", Retryable: true, NextSteps: []string{"Verify the sheet has a header row and data"}},
	QueryFailed:    {Code: QueryFailed, Message: "query execution failed", Retryable: true, NextSteps: []string{"Simplify the query or reduce its scope"}},

	ConfirmRequired: {Code: ConfirmRequired, Message: "write staged; confirmation token required", Retryable: true, NextSteps: []string{"Re-issue the call with the confirm token to apply"}},
	ConfirmInvalid:  {Code: ConfirmInvalid, Message: "confirmation token unknown, expired, or stale", Retryable: true, NextSteps: []string{"Stage the write again to obtain a fresh token"}},
	SnapshotFailed:  {Code: SnapshotFailed, Message: "failed to create backup snapshot", Retryable: true, NextSteps: []string{"Check backup directory permissions"}},
	RestoreFailed:   {Code: RestoreFailed, Message: "failed to restore snapshot", Retryable: false, NextSteps: []string{"Call list_snapshots to verify the snapshot id"}},

	CorruptWorkbook:   {Code: CorruptWorkbook, Message: "workbook appears corrupt or unreadable", Retryable: false, NextSteps: []string{"Open in Excel and re-save or repair", "Provide a clean copy"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported workbook format", Retryable: false, NextSteps: []string{"Convert to .xlsx and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		// Unknown code; preserve as-is
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	// Append compact nextSteps guidance inline to aid clients lacking structured fields.
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}

// Lookup exposes the catalog entry for a code when present.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// IsInvalidSheet returns true if an error matches common excelize "sheet does not exist" messages.
func IsInvalidSheet(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "doesn't exist") || strings.Contains(low, "does not exist")
}
