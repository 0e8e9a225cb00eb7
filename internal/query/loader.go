package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetResolver adapts an open workbook into a TableResolver: FROM names
// resolve case-insensitively against sheet names, and the matched sheet is
// loaded into an independent Table snapshot. The resolver copies every cell
// value out under the caller's read lock, so the returned table stays valid
// and immutable after the lock is released.
func SheetResolver(f *excelize.File) TableResolver {
	return func(name string) (*Table, error) {
		sheet := ""
		for _, s := range f.GetSheetList() {
			if strings.EqualFold(s, name) {
				sheet = s
				break
			}
		}
		if sheet == "" {
			return nil, Errf(KindTableNotFound, "no sheet named %q", name)
		}
		return LoadSheet(f, sheet)
	}
}

// LoadSheet reads a sheet into a column-ordered Table. The first row is the
// header; duplicate or blank header names are disambiguated so column names
// stay unique. Cells are typed at load: integer, float, boolean, datetime,
// string, or nil for blanks.
func LoadSheet(f *excelize.File, sheet string) (*Table, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, Errf(KindDataLoadFailed, "read sheet %q: %v", sheet, err)
	}
	if len(rows) == 0 {
		return nil, Errf(KindDataLoadFailed, "sheet %q is empty", sheet)
	}

	columns := normalizeHeader(rows[0])
	if len(columns) == 0 {
		return nil, Errf(KindDataLoadFailed, "sheet %q has no header row", sheet)
	}

	t := &Table{Name: sheet, Columns: columns}
	t.Rows = make([][]any, 0, len(rows)-1)
	for _, raw := range rows[1:] {
		row := make([]any, len(columns))
		for i := range columns {
			if i < len(raw) {
				row[i] = parseCell(raw[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// normalizeHeader produces unique, non-empty column names from the header
// row. Blank headers become col_N; duplicates get a numeric suffix.
func normalizeHeader(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := map[string]int{}
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		low := strings.ToLower(name)
		if n, dup := seen[low]; dup {
			seen[low] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
			low = strings.ToLower(name)
		}
		seen[low] = 1
		out = append(out, name)
	}
	return out
}

// parseCell types a raw cell string. Blank cells are null; clean integers
// and floats become numeric; TRUE/FALSE become booleans; date-like strings
// parse under the permissive datetime layouts; everything else stays a
// string.
func parseCell(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if strings.EqualFold(v, "true") {
		return true
	}
	if strings.EqualFold(v, "false") {
		return false
	}
	if looksDateLike(v) {
		if ts, ok := ParseDateTime(v); ok {
			return ts
		}
	}
	return v
}
