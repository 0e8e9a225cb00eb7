package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mcpsheets/mcpsheets/internal/query"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/mcperr"
	"github.com/mcpsheets/mcpsheets/pkg/validation"
	"github.com/xuri/excelize/v2"
)

// QuerySheetInput defines parameters for ad-hoc SQL over a workbook.
type QuerySheetInput struct {
	WorkbookID string `json:"workbook_id" validate:"required" jsonschema_description:"Workbook handle ID"`
	SQL        string `json:"sql" validate:"required,sqltext" jsonschema_description:"Single SELECT statement; FROM names a sheet (case-insensitive)"`
	RowLimit   int    `json:"row_limit,omitempty" validate:"omitempty,min=1" jsonschema_description:"Row ceiling for the result (bounded by server default)"`
}

// QuerySheetOutput carries the formatted query result.
type QuerySheetOutput struct {
	WorkbookID string            `json:"workbook_id"`
	SQL        string            `json:"sql"`
	Columns    []string          `json:"columns"`
	Rows       [][]any           `json:"rows"`
	RowCount   int               `json:"row_count"`
	TypeHints  map[string]string `json:"type_hints" jsonschema_description:"Advisory per-column type in {integer,float,datetime,string}; empty for all-null columns"`
}

// RegisterQueryTools wires the ad-hoc SQL query tool over the in-memory engine.
func RegisterQueryTools(s *server.MCPServer, reg *Registry, d Deps) {
	tool := mcp.NewTool(
		"query_sheet",
		mcp.WithDescription("Run a single SELECT statement against one sheet of an open workbook. Supports WHERE (comparisons, AND/OR/NOT, LIKE, IN, BETWEEN, IS NULL), scalar arithmetic, GROUP BY with COUNT/SUM/AVG/MIN/MAX, HAVING, ORDER BY, and LIMIT. No joins, subqueries, CTEs, or window functions. The sheet loads only after the statement validates."),
		mcp.WithInputSchema[QuerySheetInput](),
		mcp.WithOutputSchema[QuerySheetOutput](),
	)
	s.AddTool(tool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in QuerySheetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		ceiling := d.Limits.MaxQueryRows
		if in.RowLimit > 0 && in.RowLimit < ceiling {
			ceiling = in.RowLimit
		}

		var res *query.Result
		err := d.Mgr.WithRead(in.WorkbookID, func(f *excelize.File, _ int64) error {
			r, qerr := query.ExecuteText(in.SQL, query.SheetResolver(f), ceiling)
			if qerr != nil {
				return qerr
			}
			res = r
			return nil
		})
		if errors.Is(err, workbooks.ErrHandleNotFound) {
			return mcperr.New(mcperr.InvalidHandle, err.Error()), nil
		}
		if err != nil {
			return queryError(err), nil
		}

		out := QuerySheetOutput{
			WorkbookID: in.WorkbookID,
			SQL:        in.SQL,
			Columns:    res.Columns,
			Rows:       res.Rows,
			RowCount:   res.RowCount,
			TypeHints:  res.TypeHints,
		}
		summary := fmt.Sprintf("columns=%d rows=%d", len(out.Columns), out.RowCount)
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(tool)
}
