package diff

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/xuri/excelize/v2"
)

// Service compares two ranges of a workbook, either positionally or aligned
// on a key column.
type Service struct {
	Limits runtime.Limits
	Mgr    *workbooks.Manager
}

// CellChange is one positional difference between the two ranges.
type CellChange struct {
	Row    int    `json:"row" jsonschema_description:"1-based row within the compared ranges"`
	Column int    `json:"column" jsonschema_description:"1-based column within the compared ranges"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// FieldChange is one changed field of a keyed row.
type FieldChange struct {
	Column string `json:"column" jsonschema_description:"Header name of the changed column"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// RowChange is one keyed row that differs between the ranges.
type RowChange struct {
	Key     string        `json:"key"`
	Changes []FieldChange `json:"changes"`
}

// Output is the structured result of a range comparison.
type Output struct {
	WorkbookID string `json:"workbook_id"`
	Keyed      bool   `json:"keyed"`

	// Positional mode
	CellChanges []CellChange `json:"cell_changes,omitempty"`
	ExtraRowsA  int          `json:"extra_rows_a,omitempty" jsonschema_description:"Rows present only in range A"`
	ExtraRowsB  int          `json:"extra_rows_b,omitempty" jsonschema_description:"Rows present only in range B"`

	// Keyed mode
	Added   []string    `json:"added,omitempty" jsonschema_description:"Keys present only in range B"`
	Removed []string    `json:"removed,omitempty" jsonschema_description:"Keys present only in range A"`
	Changed []RowChange `json:"changed,omitempty"`

	Identical bool `json:"identical"`
}

// Diff reads both ranges under a single read lock and compares them. When
// keyColumn is positive, the first row of each range is treated as a header
// and rows align on the key value; otherwise cells compare by position.
func (s *Service) Diff(ctx context.Context, workbookID, sheetA, rangeA, sheetB, rangeB string, keyColumn int) (Output, error) {
	out := Output{WorkbookID: workbookID, Keyed: keyColumn > 0}
	err := s.Mgr.WithRead(workbookID, func(f *excelize.File, _ int64) error {
		gridA, err := readGrid(f, sheetA, rangeA, s.Limits.MaxCellsPerOp)
		if err != nil {
			return fmt.Errorf("range A: %w", err)
		}
		gridB, err := readGrid(f, sheetB, rangeB, s.Limits.MaxCellsPerOp)
		if err != nil {
			return fmt.Errorf("range B: %w", err)
		}
		if keyColumn > 0 {
			return keyedDiff(&out, gridA, gridB, keyColumn)
		}
		positionalDiff(&out, gridA, gridB)
		return nil
	})
	return out, err
}

func readGrid(f *excelize.File, sheet, rangeA1 string, maxCells int) ([][]string, error) {
	canonical := ""
	for _, name := range f.GetSheetList() {
		if strings.EqualFold(name, sheet) {
			canonical = name
			break
		}
	}
	if canonical == "" {
		return nil, fmt.Errorf("%w: %q", sheets.ErrSheetNotFound, sheet)
	}
	rect, _, err := sheets.ResolveRange(f, canonical, rangeA1)
	if err != nil {
		return nil, err
	}
	if rect.Cells() > maxCells {
		return nil, fmt.Errorf("range of %d cells exceeds limit of %d", rect.Cells(), maxCells)
	}
	grid := make([][]string, 0, rect.RowsCount())
	for y := rect.Y1; y <= rect.Y2; y++ {
		row := make([]string, 0, rect.Cols())
		for x := rect.X1; x <= rect.X2; x++ {
			cell, _ := excelize.CoordinatesToCellName(x, y)
			v, err := f.GetCellValue(canonical, cell)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		grid = append(grid, row)
	}
	return grid, nil
}

// positionalDiff compares cell by cell over the overlapping rectangle and
// counts rows existing on one side only.
func positionalDiff(out *Output, a, b [][]string) {
	rows := len(a)
	if len(b) < rows {
		rows = len(b)
	}
	for y := 0; y < rows; y++ {
		cols := len(a[y])
		if len(b[y]) < cols {
			cols = len(b[y])
		}
		for x := 0; x < cols; x++ {
			if a[y][x] != b[y][x] {
				out.CellChanges = append(out.CellChanges, CellChange{
					Row: y + 1, Column: x + 1, Before: a[y][x], After: b[y][x],
				})
			}
		}
		for x := cols; x < len(a[y]); x++ {
			if a[y][x] != "" {
				out.CellChanges = append(out.CellChanges, CellChange{
					Row: y + 1, Column: x + 1, Before: a[y][x], After: "",
				})
			}
		}
		for x := cols; x < len(b[y]); x++ {
			if b[y][x] != "" {
				out.CellChanges = append(out.CellChanges, CellChange{
					Row: y + 1, Column: x + 1, Before: "", After: b[y][x],
				})
			}
		}
	}
	out.ExtraRowsA = len(a) - rows
	out.ExtraRowsB = len(b) - rows
	out.Identical = len(out.CellChanges) == 0 && out.ExtraRowsA == 0 && out.ExtraRowsB == 0
}

// keyedDiff aligns data rows on the key column value. Both ranges must carry
// a header row; column names for change reporting come from range A's header.
func keyedDiff(out *Output, a, b [][]string, keyColumn int) error {
	if len(a) == 0 || len(b) == 0 {
		return fmt.Errorf("keyed diff requires a header row in both ranges")
	}
	header := a[0]
	if keyColumn > len(header) {
		return fmt.Errorf("key_column %d is outside range A (%d columns)", keyColumn, len(header))
	}
	k := keyColumn - 1

	index := func(grid [][]string) (map[string][]string, []string, error) {
		rows := make(map[string][]string, len(grid)-1)
		order := make([]string, 0, len(grid)-1)
		for _, row := range grid[1:] {
			if k >= len(row) {
				continue
			}
			key := row[k]
			if key == "" {
				continue
			}
			if _, dup := rows[key]; dup {
				return nil, nil, fmt.Errorf("duplicate key %q", key)
			}
			rows[key] = row
			order = append(order, key)
		}
		return rows, order, nil
	}

	rowsA, orderA, err := index(a)
	if err != nil {
		return fmt.Errorf("range A: %w", err)
	}
	rowsB, orderB, err := index(b)
	if err != nil {
		return fmt.Errorf("range B: %w", err)
	}

	for _, key := range orderA {
		rowB, ok := rowsB[key]
		if !ok {
			out.Removed = append(out.Removed, key)
			continue
		}
		rowA := rowsA[key]
		var changes []FieldChange
		cols := len(rowA)
		if len(rowB) > cols {
			cols = len(rowB)
		}
		for x := 0; x < cols; x++ {
			va, vb := cellAt(rowA, x), cellAt(rowB, x)
			if va == vb {
				continue
			}
			name := fmt.Sprintf("col_%d", x+1)
			if x < len(header) && header[x] != "" {
				name = header[x]
			}
			changes = append(changes, FieldChange{Column: name, Before: va, After: vb})
		}
		if len(changes) > 0 {
			out.Changed = append(out.Changed, RowChange{Key: key, Changes: changes})
		}
	}
	for _, key := range orderB {
		if _, ok := rowsA[key]; !ok {
			out.Added = append(out.Added, key)
		}
	}
	out.Identical = len(out.Added) == 0 && len(out.Removed) == 0 && len(out.Changed) == 0
	return nil
}

func cellAt(row []string, x int) string {
	if x < len(row) {
		return row[x]
	}
	return ""
}
