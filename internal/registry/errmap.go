package registry

import (
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mcpsheets/mcpsheets/internal/backup"
	"github.com/mcpsheets/mcpsheets/internal/query"
	"github.com/mcpsheets/mcpsheets/internal/security"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
)

// toolError maps service-layer errors onto catalog codes, falling back to
// the per-tool code when no sentinel matches.
func toolError(fallback mcperr.Code, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, workbooks.ErrHandleNotFound):
		return mcperr.New(mcperr.InvalidHandle, err.Error())
	case errors.Is(err, sheets.ErrSheetNotFound):
		return mcperr.New(mcperr.InvalidSheet, err.Error())
	case errors.Is(err, sheets.ErrStaleCursor):
		return mcperr.New(mcperr.CursorInvalid, err.Error())
	case errors.Is(err, security.ErrNotFound):
		return mcperr.New(mcperr.FileNotFound, err.Error())
	case errors.Is(err, security.ErrNotAllowed):
		return mcperr.New(mcperr.PermissionDenied, err.Error())
	case errors.Is(err, security.ErrFileTooLarge):
		return mcperr.New(mcperr.FileTooLarge, err.Error())
	case errors.Is(err, security.ErrUnsupportedExtension):
		return mcperr.New(mcperr.UnsupportedFormat, err.Error())
	case errors.Is(err, backup.ErrTokenNotFound),
		errors.Is(err, backup.ErrTokenExpired),
		errors.Is(err, backup.ErrTokenStale):
		return mcperr.New(mcperr.ConfirmInvalid, err.Error())
	}
	return mcperr.New(fallback, err.Error())
}

// queryError maps the query core's failure kinds onto catalog codes.
func queryError(err error) *mcp.CallToolResult {
	code := mcperr.QueryFailed
	switch query.KindOf(err) {
	case query.KindSyntaxError:
		code = mcperr.SyntaxError
	case query.KindUnsupportedStatementShape,
		query.KindUnsupportedCondition,
		query.KindUnsupportedAggregate:
		code = mcperr.UnsupportedSQL
	case query.KindTableNotFound:
		code = mcperr.TableNotFound
	case query.KindColumnNotFound:
		code = mcperr.ColumnNotFound
	case query.KindDataLoadFailed:
		code = mcperr.DataLoadFailed
	case query.KindFileNotFound:
		code = mcperr.FileNotFound
	case query.KindFileTooLarge:
		code = mcperr.FileTooLarge
	}
	return mcperr.New(code, err.Error())
}
