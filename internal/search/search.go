package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/pagination"
	"github.com/xuri/excelize/v2"
)

// Service scans sheets for matching cells with bounded, resumable paging.
type Service struct {
	Limits runtime.Limits
	Mgr    *workbooks.Manager
}

// Match is one matching cell plus a snapshot of its row for context.
type Match struct {
	Cell        string   `json:"cell" jsonschema_description:"A1 address of the matching cell"`
	Row         int      `json:"row"`
	Column      int      `json:"column"`
	Value       string   `json:"value"`
	RowSnapshot []string `json:"row_snapshot,omitempty" jsonschema_description:"Full row the match was found in"`
}

// Output is one page of search results.
type Output struct {
	WorkbookID string  `json:"workbook_id"`
	Sheet      string  `json:"sheet"`
	Query      string  `json:"query"`
	Regex      bool    `json:"regex"`
	Matches    []Match `json:"matches"`
	// Meta.Total counts rows scanned in this call; matches on the page are
	// Meta.Returned.
	Meta sheets.PageMeta `json:"meta"`
}

// Search scans a sheet row by row for cells matching the query, either as a
// case-insensitive substring or as a regular expression. The scan stops when
// the page fills or the per-op cell budget is spent; a cursor resumes it.
func (s *Service) Search(ctx context.Context, workbookID, sheet, query string, regex bool, columns []int, cursorToken string, maxResults int) (Output, error) {
	out := Output{WorkbookID: workbookID, Query: query, Regex: regex}
	if maxResults <= 0 || maxResults > s.Limits.PreviewRowLimit {
		maxResults = s.Limits.PreviewRowLimit
	}

	startRow := 1
	var cur *pagination.Cursor
	if cursorToken != "" {
		c, err := pagination.Decode(cursorToken)
		if err != nil {
			return out, err
		}
		if c.Wid != workbookID {
			return out, errors.New("cursor belongs to a different workbook")
		}
		cur = c
		sheet = c.S
		query = c.Q
		regex = c.Rg
		columns = c.Cl
		startRow = c.Off + 1
		out.Sheet = sheet
		out.Query = query
		out.Regex = regex
	}

	match, err := compileMatcher(query, regex)
	if err != nil {
		return out, err
	}

	colSet := map[int]bool{}
	for _, c := range columns {
		if c < 1 {
			return out, fmt.Errorf("columns are 1-based, got %d", c)
		}
		colSet[c] = true
	}

	err = s.Mgr.WithRead(workbookID, func(f *excelize.File, version int64) error {
		if cur != nil && cur.Wbv != 0 && cur.Wbv != version {
			return sheets.ErrStaleCursor
		}
		canonical := ""
		for _, name := range f.GetSheetList() {
			if strings.EqualFold(name, sheet) {
				canonical = name
				break
			}
		}
		if canonical == "" {
			return fmt.Errorf("%w: %q", sheets.ErrSheetNotFound, sheet)
		}
		out.Sheet = canonical

		iter, err := f.Rows(canonical)
		if err != nil {
			return err
		}
		defer iter.Close()

		rowNum := 0
		scannedCells := 0
		scannedRows := 0
		lastScanned := 0
		exhausted := true
		for iter.Next() {
			rowNum++
			if rowNum < startRow {
				continue
			}
			if len(out.Matches) >= maxResults || scannedCells >= s.Limits.MaxCellsPerOp {
				exhausted = false
				break
			}
			vals, err := iter.Columns()
			if err != nil {
				return err
			}
			scannedCells += len(vals)
			scannedRows++
			lastScanned = rowNum
			for i, v := range vals {
				col := i + 1
				if len(colSet) > 0 && !colSet[col] {
					continue
				}
				if v == "" || !match(v) {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(col, rowNum)
				out.Matches = append(out.Matches, Match{
					Cell:        cell,
					Row:         rowNum,
					Column:      col,
					Value:       v,
					RowSnapshot: vals,
				})
			}
		}
		if err := iter.Error(); err != nil {
			return err
		}

		out.Meta.Returned = len(out.Matches)
		out.Meta.Total = scannedRows
		if !exhausted {
			out.Meta.Truncated = true
			token, err := pagination.Encode(pagination.Cursor{
				V:   1,
				Wid: workbookID,
				S:   canonical,
				R:   "-",
				U:   pagination.UnitRows,
				Off: lastScanned,
				Ps:  maxResults,
				Wbv: version,
				Iat: time.Now().Unix(),
				Q:   query,
				Rg:  regex,
				Cl:  columns,
			})
			if err != nil {
				return err
			}
			out.Meta.NextCursor = token
		}
		return nil
	})
	return out, err
}

// compileMatcher builds the cell predicate: anchored nowhere, regex when
// requested, otherwise a case-insensitive substring test.
func compileMatcher(query string, regex bool) (func(string) bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if regex {
		re, err := regexp.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		return re.MatchString, nil
	}
	needle := strings.ToLower(query)
	return func(v string) bool {
		return strings.Contains(strings.ToLower(v), needle)
	}, nil
}
