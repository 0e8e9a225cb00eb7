package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/mcpsheets/mcpsheets/config"
	"github.com/mcpsheets/mcpsheets/internal/backup"
	"github.com/mcpsheets/mcpsheets/internal/diff"
	"github.com/mcpsheets/mcpsheets/internal/registry"
	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/search"
	"github.com/mcpsheets/mcpsheets/internal/security"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/telemetry"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	logger := zlog.With().Str("service", "mcpsheets-server").Logger()
	ctx := logger.WithContext(context.Background())

	limits := runtime.NewLimits(config.DefaultMaxConcurrentRequests, config.DefaultMaxOpenWorkbooks)

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromEnv(limits.MaxWorkbookBytes)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set MCPSHEETS_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set MCPSHEETS_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	wbMgr := workbooks.NewManager(
		config.DefaultWorkbookIdleTTL,
		config.DefaultWorkbookCleanupPeriod,
		runtimeController,
		time.Now,
	).WithValidator(secMgr)
	wbMgr.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := wbMgr.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("workbook manager shutdown incomplete")
		}
	}()

	backupDir := os.Getenv("MCPSHEETS_BACKUP_DIR")
	if backupDir == "" {
		backupDir = filepath.Join(secMgr.AllowedDirectories()[0], config.DefaultBackupDirName)
	}
	backupMgr, err := backup.NewManager(backupDir, config.DefaultMaxSnapshotsPerFile, config.DefaultConfirmationTTL, time.Now)
	if err != nil {
		logger.Error().Err(err).Str("dir", backupDir).Msg("backup: failed to prepare snapshot directory")
		os.Exit(1)
	}

	toolRegistry := registry.New()
	writeFilter := registry.NewWriteToolFilterFromEnv()

	srv := server.NewMCPServer(
		"MCP Spreadsheet Query Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewServerHooks(logger)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return writeFilter.FilterTools(ctx, tools) }),
	)

	deps := registry.Deps{
		Limits: runtimeController.LimitsSnapshot(),
		Mgr:    wbMgr,
		Sheets: &sheets.Service{Limits: limits, Mgr: wbMgr},
		Search: &search.Service{Limits: limits, Mgr: wbMgr},
		Diff:   &diff.Service{Limits: limits, Mgr: wbMgr},
		Backup: backupMgr,
		Writes: writeFilter,
	}

	registry.RegisterWorkbookTools(srv, toolRegistry, deps)
	registry.RegisterQueryTools(srv, toolRegistry, deps)
	registry.RegisterSearchTools(srv, toolRegistry, deps)
	registry.RegisterDiffTools(srv, toolRegistry, deps)
	registry.RegisterSheetTools(srv, toolRegistry, deps)
	registry.RegisterBackupTools(srv, toolRegistry, deps)

	toolContextSize := toolRegistry.ModelContextSize("gpt-4o")

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int("max_query_rows", limits.MaxQueryRows).
		Int("model_context_size", toolContextSize).
		Bool("writes_enabled", writeFilter.WritesEnabled()).
		Str("backup_dir", backupDir).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if useStdio {
		if err := server.ServeStdio(srv); err != nil {
			// Use stderr for transport errors so clients don't misinterpret output
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// If no transport flags provided, print usage and exit non-zero
	fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
	os.Exit(2)
}
