package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/mcpsheets/mcpsheets/pkg/pagination"
	"github.com/xuri/excelize/v2"
)

// ErrSheetNotFound marks a missing sheet so tool handlers can map it to the
// INVALID_SHEET code without string matching.
var ErrSheetNotFound = errors.New("sheet not found")

// ErrStaleCursor marks a cursor whose workbook has been written since the
// cursor was issued.
var ErrStaleCursor = errors.New("cursor is stale: workbook changed since it was issued")

// Service implements structure discovery, bounded reads, and sheet-level
// write operations over open workbook handles.
type Service struct {
	Limits runtime.Limits
	Mgr    *workbooks.Manager
}

// PageMeta captures paging and truncation metadata attached to bounded reads.
type PageMeta struct {
	Total      int    `json:"total"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// SheetInfo summarizes a sheet without loading full data.
type SheetInfo struct {
	Name        string   `json:"name" jsonschema_description:"Sheet name"`
	RowCount    int      `json:"rowCount" jsonschema_description:"Used-range row count"`
	ColumnCount int      `json:"columnCount" jsonschema_description:"Used-range column count"`
	Headers     []string `json:"headers,omitempty" jsonschema_description:"First-row header preview"`
}

// StructureOutput summarizes workbook structure.
type StructureOutput struct {
	WorkbookID   string      `json:"workbook_id"`
	MetadataOnly bool        `json:"metadata_only"`
	Sheets       []SheetInfo `json:"sheets"`
}

// Structure lists every sheet with used-range dimensions and, unless
// metadataOnly is set, a bounded header preview from the first row.
func (s *Service) Structure(ctx context.Context, workbookID string, metadataOnly bool) (StructureOutput, error) {
	out := StructureOutput{WorkbookID: workbookID, MetadataOnly: metadataOnly}
	err := s.Mgr.WithRead(workbookID, func(f *excelize.File, _ int64) error {
		for _, name := range f.GetSheetList() {
			info := SheetInfo{Name: name}
			rect, ok := usedRange(f, name)
			if ok {
				info.RowCount = rect.RowsCount()
				info.ColumnCount = rect.Cols()
				if !metadataOnly {
					info.Headers = headerPreview(f, name, rect)
				}
			}
			out.Sheets = append(out.Sheets, info)
		}
		return nil
	})
	return out, err
}

// PreviewOutput carries a bounded preview of the first rows of a sheet.
type PreviewOutput struct {
	WorkbookID string     `json:"workbook_id"`
	Sheet      string     `json:"sheet"`
	Encoding   string     `json:"encoding"`
	Rows       [][]string `json:"rows,omitempty"`
	CSV        string     `json:"csv,omitempty"`
	Meta       PageMeta   `json:"meta"`
}

// Preview streams the first rows of a sheet, bounded by the requested row
// count, the configured preview limit, and the per-op cell cap.
func (s *Service) Preview(ctx context.Context, workbookID, sheet string, rows int, encoding string) (PreviewOutput, error) {
	out := PreviewOutput{WorkbookID: workbookID, Encoding: encoding}
	if rows <= 0 || rows > s.Limits.PreviewRowLimit {
		rows = s.Limits.PreviewRowLimit
	}
	err := s.Mgr.WithRead(workbookID, func(f *excelize.File, _ int64) error {
		canonical, ok := sheetExists(f, sheet)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
		}
		out.Sheet = canonical

		iter, err := f.Rows(canonical)
		if err != nil {
			return err
		}
		defer iter.Close()

		cells := 0
		total := 0
		for iter.Next() {
			total++
			if len(out.Rows) >= rows || out.Meta.Truncated {
				continue // keep counting total rows
			}
			vals, err := iter.Columns()
			if err != nil {
				return err
			}
			if cells+len(vals) > s.Limits.MaxCellsPerOp {
				out.Meta.Truncated = true
				continue
			}
			cells += len(vals)
			out.Rows = append(out.Rows, vals)
		}
		if err := iter.Error(); err != nil {
			return err
		}
		out.Meta.Total = total
		out.Meta.Returned = len(out.Rows)
		if out.Meta.Returned < total {
			out.Meta.Truncated = true
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	if encoding == "csv" {
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		if err := w.WriteAll(out.Rows); err != nil {
			return out, err
		}
		out.CSV = sb.String()
		out.Rows = nil
	}
	return out, nil
}

// ReadRangeOutput carries one page of a bounded range read.
type ReadRangeOutput struct {
	WorkbookID string     `json:"workbook_id"`
	Sheet      string     `json:"sheet"`
	Range      string     `json:"range"`
	Rows       [][]string `json:"rows"`
	Meta       PageMeta   `json:"meta"`
}

// ReadRange returns a page of cells from an A1 range or defined name. Pages
// are split on whole rows under the per-op cell cap; the opaque cursor
// resumes where the previous page stopped and is invalidated by writes.
func (s *Service) ReadRange(ctx context.Context, workbookID, sheet, rangeA1, cursorToken string, maxCells int) (ReadRangeOutput, error) {
	out := ReadRangeOutput{WorkbookID: workbookID}
	if maxCells <= 0 || maxCells > s.Limits.MaxCellsPerOp {
		maxCells = s.Limits.MaxCellsPerOp
	}

	offset := 0
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
		rangeA1 = c.R
		offset = c.Off
		if c.Ps > 0 && c.Ps < maxCells {
			maxCells = c.Ps
		}
	}

	err := s.Mgr.WithRead(workbookID, func(f *excelize.File, version int64) error {
		if cur != nil && cur.Wbv != 0 && cur.Wbv != version {
			return ErrStaleCursor
		}
		canonical, ok := sheetExists(f, sheet)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
		}
		out.Sheet = canonical

		rect, normalized, err := ResolveRange(f, canonical, rangeA1)
		if err != nil {
			return err
		}
		out.Range = normalized
		out.Meta.Total = rect.RowsCount()

		rowBudget := maxCells / rect.Cols()
		if rowBudget < 1 {
			rowBudget = 1
		}
		startRow := rect.Y1 + offset
		endRow := startRow + rowBudget - 1
		if endRow > rect.Y2 {
			endRow = rect.Y2
		}
		for y := startRow; y <= endRow; y++ {
			row := make([]string, 0, rect.Cols())
			for x := rect.X1; x <= rect.X2; x++ {
				cell, _ := excelize.CoordinatesToCellName(x, y)
				v, err := f.GetCellValue(canonical, cell)
				if err != nil {
					return err
				}
				row = append(row, v)
			}
			out.Rows = append(out.Rows, row)
		}
		out.Meta.Returned = len(out.Rows)

		if endRow < rect.Y2 {
			out.Meta.Truncated = true
			token, err := pagination.Encode(pagination.Cursor{
				V:   1,
				Wid: workbookID,
				S:   canonical,
				R:   normalized,
				U:   pagination.UnitRows,
				Off: pagination.NextOffset(offset, len(out.Rows)),
				Ps:  maxCells,
				Wbv: version,
				Iat: time.Now().Unix(),
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

// WriteImpact summarizes what a staged write would change.
type WriteImpact struct {
	Rows           int `json:"rows"`
	Cols           int `json:"cols"`
	Cells          int `json:"cells"`
	NonEmptyBefore int `json:"non_empty_before" jsonschema_description:"Cells in the target range that currently hold a value"`
}

// PlanWrite validates a pending range write and reports its impact without
// modifying the workbook. Used by the confirmation workflow to stage writes.
func (s *Service) PlanWrite(ctx context.Context, workbookID, sheet, rangeA1 string, values [][]string) (WriteImpact, error) {
	var impact WriteImpact
	err := s.Mgr.WithRead(workbookID, func(f *excelize.File, _ int64) error {
		canonical, ok := sheetExists(f, sheet)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
		}
		rect, _, err := ResolveRange(f, canonical, rangeA1)
		if err != nil {
			return err
		}
		if err := checkWriteShape(rect, values, s.Limits.MaxCellsPerOp); err != nil {
			return err
		}
		impact.Rows = len(values)
		impact.Cols = rect.Cols()
		impact.Cells = len(values) * rect.Cols()
		for y := rect.Y1; y < rect.Y1+len(values) && y <= rect.Y2; y++ {
			for x := rect.X1; x <= rect.X2; x++ {
				cell, _ := excelize.CoordinatesToCellName(x, y)
				v, err := f.GetCellValue(canonical, cell)
				if err != nil {
					return err
				}
				if strings.TrimSpace(v) != "" {
					impact.NonEmptyBefore++
				}
			}
		}
		return nil
	})
	return impact, err
}

// ApplyWrite writes the values into the range. The write runs under the
// handle's write lock and bumps the workbook version on success.
func (s *Service) ApplyWrite(ctx context.Context, workbookID, sheet, rangeA1 string, values [][]string) (int, error) {
	written := 0
	err := s.Mgr.WithWrite(workbookID, func(f *excelize.File) error {
		canonical, ok := sheetExists(f, sheet)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
		}
		rect, _, err := ResolveRange(f, canonical, rangeA1)
		if err != nil {
			return err
		}
		if err := checkWriteShape(rect, values, s.Limits.MaxCellsPerOp); err != nil {
			return err
		}
		for i, row := range values {
			cell, _ := excelize.CoordinatesToCellName(rect.X1, rect.Y1+i)
			vals := make([]any, len(row))
			for j, v := range row {
				vals[j] = v
			}
			if err := f.SetSheetRow(canonical, cell, &vals); err != nil {
				return err
			}
			written += len(row)
		}
		return f.Save()
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// AddSheet creates a new empty sheet.
func (s *Service) AddSheet(ctx context.Context, workbookID, name string) error {
	return s.Mgr.WithWrite(workbookID, func(f *excelize.File) error {
		if _, exists := sheetExists(f, name); exists {
			return fmt.Errorf("sheet %q already exists", name)
		}
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
		return f.Save()
	})
}

// RenameSheet renames an existing sheet.
func (s *Service) RenameSheet(ctx context.Context, workbookID, from, to string) error {
	return s.Mgr.WithWrite(workbookID, func(f *excelize.File) error {
		canonical, ok := sheetExists(f, from)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, from)
		}
		if _, exists := sheetExists(f, to); exists {
			return fmt.Errorf("sheet %q already exists", to)
		}
		if err := f.SetSheetName(canonical, to); err != nil {
			return err
		}
		return f.Save()
	})
}

// DeleteSheet removes a sheet. The last remaining sheet cannot be deleted.
func (s *Service) DeleteSheet(ctx context.Context, workbookID, name string) error {
	return s.Mgr.WithWrite(workbookID, func(f *excelize.File) error {
		canonical, ok := sheetExists(f, name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, name)
		}
		if len(f.GetSheetList()) == 1 {
			return errors.New("cannot delete the only sheet in a workbook")
		}
		if err := f.DeleteSheet(canonical); err != nil {
			return err
		}
		return f.Save()
	})
}

// CopySheet duplicates a sheet under a new name.
func (s *Service) CopySheet(ctx context.Context, workbookID, from, to string) error {
	return s.Mgr.WithWrite(workbookID, func(f *excelize.File) error {
		canonical, ok := sheetExists(f, from)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSheetNotFound, from)
		}
		if _, exists := sheetExists(f, to); exists {
			return fmt.Errorf("sheet %q already exists", to)
		}
		toIdx, err := f.NewSheet(to)
		if err != nil {
			return err
		}
		fromIdx, err := f.GetSheetIndex(canonical)
		if err != nil {
			return err
		}
		if err := f.CopySheet(fromIdx, toIdx); err != nil {
			return err
		}
		return f.Save()
	})
}

// checkWriteShape rejects writes whose payload exceeds the target rectangle
// or the per-op cell cap.
func checkWriteShape(rect Rect, values [][]string, maxCells int) error {
	if len(values) == 0 {
		return errors.New("values must contain at least one row")
	}
	if len(values) > rect.RowsCount() {
		return fmt.Errorf("values have %d rows but range has %d", len(values), rect.RowsCount())
	}
	cells := 0
	for _, row := range values {
		if len(row) > rect.Cols() {
			return fmt.Errorf("row has %d values but range has %d columns", len(row), rect.Cols())
		}
		cells += len(row)
	}
	if cells > maxCells {
		return fmt.Errorf("write of %d cells exceeds limit of %d", cells, maxCells)
	}
	return nil
}

// usedRange derives the used rectangle of a sheet. The dimension ref is
// only trusted when it spans more than one cell: excelize leaves it at "A1"
// on files it wrote itself, so a single-cell ref falls through to a scan.
func usedRange(f *excelize.File, sheet string) (Rect, bool) {
	if dim, err := f.GetSheetDimension(sheet); err == nil && strings.Contains(dim, ":") {
		if rect, _, err := parseRect(dim); err == nil && rect.Cells() > 1 {
			return rect, true
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil || len(rows) == 0 {
		return Rect{}, false
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return Rect{}, false
	}
	return Rect{1, 1, cols, len(rows)}, true
}

// headerPreview returns the first row of the used range, bounded to a small
// number of columns.
func headerPreview(f *excelize.File, sheet string, rect Rect) []string {
	const maxHeaderCols = 32
	cols := rect.Cols()
	if cols > maxHeaderCols {
		cols = maxHeaderCols
	}
	out := make([]string, 0, cols)
	for x := rect.X1; x < rect.X1+cols; x++ {
		cell, _ := excelize.CoordinatesToCellName(x, rect.Y1)
		v, err := f.GetCellValue(sheet, cell)
		if err != nil {
			return out
		}
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
