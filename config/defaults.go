package config

import "time"

// Default runtime limits and guardrails for the MCP Spreadsheet Query Server.
// These values are conservative and can be overridden by future configuration
// mechanisms (env, CLI, or files). They are referenced by internal/runtime.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4

	// Payload and row limits
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultMaxCellsPerOp   = 10_000
	DefaultPreviewRowLimit = 10 // First 10 rows by default

	// Query engine bounds. The engine is in-memory and non-streaming, so the
	// open path enforces a hard ceiling on source file size and the tool
	// layer caps result rows independently of any SQL LIMIT.
	DefaultMaxQueryRows     = 1_000
	DefaultMaxWorkbookBytes = 32 * 1024 * 1024 // 32MB
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Workbook handle lifecycle
	DefaultWorkbookIdleTTL       = 10 * time.Minute
	DefaultWorkbookCleanupPeriod = time.Minute

	// Pending write confirmations expire if not confirmed in time.
	DefaultConfirmationTTL = 2 * time.Minute
)

const (
	// DefaultBackupDirName is created under the first allowed directory when
	// no explicit backup directory is configured via MCPSHEETS_BACKUP_DIR.
	DefaultBackupDirName = ".mcpsheets_backups"

	// DefaultMaxSnapshotsPerFile bounds how many snapshot copies are kept
	// per workbook before the oldest is pruned.
	DefaultMaxSnapshotsPerFile = 5
)
