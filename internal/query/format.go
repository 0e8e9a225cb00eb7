package query

import (
	"strconv"
	"strings"
	"time"
)

// Semantic type hints reported per output column. Hints are advisory
// metadata for callers; inference never mutates the underlying cells.
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeDatetime = "datetime"
	TypeString   = "string"
)

// TypeHints infers one semantic type per output column over its full value
// set: integer when every non-null value parses as an integer, else float
// when every value parses as a float, else datetime when values look
// date-like under a permissive parser, else string. A column with no
// non-null values reports an empty hint.
func TypeHints(t *Table) map[string]string {
	hints := make(map[string]string, len(t.Columns))
	for i, name := range t.Columns {
		allInt, allFloat, allDate := true, true, true
		seen := false
		for _, row := range t.Rows {
			v := row[i]
			if v == nil {
				continue
			}
			seen = true
			isInt, isFloat, isDate := classifyCell(v)
			allInt = allInt && isInt
			allFloat = allFloat && isFloat
			allDate = allDate && isDate
			if !allInt && !allFloat && !allDate {
				break
			}
		}
		switch {
		case !seen:
			hints[name] = ""
		case allInt:
			hints[name] = TypeInteger
		case allFloat:
			hints[name] = TypeFloat
		case allDate:
			hints[name] = TypeDatetime
		default:
			hints[name] = TypeString
		}
	}
	return hints
}

func classifyCell(v any) (isInt, isFloat, isDate bool) {
	switch x := v.(type) {
	case int64:
		return true, true, false
	case float64:
		return false, true, false
	case time.Time:
		return false, false, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return false, false, false
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return true, true, false
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return false, true, false
		}
		if looksDateLike(s) {
			if _, ok := ParseDateTime(s); ok {
				return false, false, true
			}
		}
		return false, false, false
	default:
		return false, false, false
	}
}

// looksDateLike is a cheap pre-filter: date/time strings carry separators
// and digits.
func looksDateLike(s string) bool {
	if !strings.ContainsAny(s, "-/:.") {
		return false
	}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"15:04:05",
}

// ParseDateTime attempts a permissive parse across common spreadsheet
// date/time layouts.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
