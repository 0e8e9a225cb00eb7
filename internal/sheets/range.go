package sheets

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Rect is a resolved inclusive cell rectangle in 1-based coordinates.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Cols returns the rectangle width in columns.
func (r Rect) Cols() int { return r.X2 - r.X1 + 1 }

// RowsCount returns the rectangle height in rows.
func (r Rect) RowsCount() int { return r.Y2 - r.Y1 + 1 }

// Cells returns the total cell count of the rectangle.
func (r Rect) Cells() int { return r.Cols() * r.RowsCount() }

// ResolveRange parses an A1-style range, a single cell, or a defined name
// relative to a sheet. A sheet qualifier inside the input must match the
// target sheet. Returns the rectangle and its normalized A1 text.
func ResolveRange(f *excelize.File, sheet, input string) (Rect, string, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return Rect{}, "", fmt.Errorf("invalid range: empty")
	}
	if strings.Contains(in, "!") {
		parts := strings.SplitN(in, "!", 2)
		s := strings.Trim(parts[0], "'")
		if s != "" && !strings.EqualFold(s, sheet) {
			return Rect{}, "", fmt.Errorf("invalid range: sheet mismatch")
		}
		in = parts[1]
	}
	if strings.Contains(in, ":") {
		return parseRect(in)
	}
	if x, y, err := excelize.CellNameToCoordinates(in); err == nil {
		cell, _ := excelize.CoordinatesToCellName(x, y)
		return Rect{x, y, x, y}, cell + ":" + cell, nil
	}
	// Defined name scoped to (or valid for) this sheet.
	for _, dn := range f.GetDefinedName() {
		if dn.Name != in {
			continue
		}
		ref := strings.TrimPrefix(dn.RefersTo, "=")
		if strings.Contains(ref, "!") {
			parts := strings.SplitN(ref, "!", 2)
			s := strings.Trim(parts[0], "'")
			if s != "" && !strings.EqualFold(s, sheet) {
				continue
			}
			ref = parts[1]
		}
		ref = strings.ReplaceAll(ref, "$", "")
		if !strings.Contains(ref, ":") {
			ref = ref + ":" + ref
		}
		if rect, normalized, err := parseRect(ref); err == nil {
			return rect, normalized, nil
		}
	}
	return Rect{}, "", fmt.Errorf("invalid range: %s", input)
}

func parseRect(in string) (Rect, string, error) {
	parts := strings.Split(in, ":")
	if len(parts) != 2 {
		return Rect{}, "", fmt.Errorf("invalid range: %s", in)
	}
	x1, y1, err1 := excelize.CellNameToCoordinates(strings.TrimSpace(parts[0]))
	x2, y2, err2 := excelize.CellNameToCoordinates(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return Rect{}, "", fmt.Errorf("invalid range coordinates")
	}
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	l, _ := excelize.CoordinatesToCellName(x1, y1)
	r, _ := excelize.CoordinatesToCellName(x2, y2)
	return Rect{x1, y1, x2, y2}, l + ":" + r, nil
}

// sheetExists reports whether a sheet name exists, case-insensitively, and
// returns the canonical name.
func sheetExists(f *excelize.File, name string) (string, bool) {
	for _, s := range f.GetSheetList() {
		if strings.EqualFold(s, name) {
			return s, true
		}
	}
	return "", false
}
