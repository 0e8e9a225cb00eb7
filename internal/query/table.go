package query

import (
	"strconv"
	"strings"
	"time"
)

// Table is an ordered, in-memory snapshot of tabular data. Columns are named
// and unique; rows align positionally with Columns. Cell values are one of
// int64, float64, string, bool, time.Time, or nil. Tables are never shared
// between queries: each execution receives its own snapshot and result
// tables are mutated in place only by the pipeline that created them.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// ColumnIndex resolves a column name case-insensitively.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return 0, false
}

// coerceLiteral applies the best-effort literal coercion policy: a string
// that parses cleanly as an integer or float compares numerically, anything
// else stays a string. This is deliberate and tested; "30" is numeric,
// "abc" is not.
func coerceLiteral(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// numericValue reports a value as float64 when it is numeric or a cleanly
// numeric string. Booleans, dates, and other strings are not numeric.
func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// compareValues compares two cell/literal values for predicate evaluation.
// Numeric coercion applies when both sides are numeric; otherwise values
// compare within the same type only. Null (or incomparable pairs) report
// ok=false, which makes every comparison operator evaluate to false.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, aok := numericValue(a); aok {
		if fb, bok := numericValue(b); bok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1, true
			case av.After(bv):
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

// typeRank positions a value in the fixed cross-type total order used by
// MIN/MAX and ORDER BY: numeric < datetime < string < boolean < null.
func typeRank(v any) int {
	switch v.(type) {
	case int64, float64:
		return 0
	case time.Time:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4 // nil and anything unexpected sort last
	}
}

// totalOrderCompare is a total comparison over mixed-type values. Equal-rank
// values compare by compareValues; numeric strings still rank as strings
// here so that ordering is stable regardless of content.
func totalOrderCompare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if ra == 4 {
		return 0
	}
	// Same rank: compare within the type without cross-type string coercion.
	switch av := a.(type) {
	case int64, float64:
		fa, _ := numericValue(a)
		fb, _ := numericValue(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	}
	return 0
}

// groupKeyPart renders one key value with a type tag so that values of
// different types never collide (equality on raw cell value, no coercion).
func groupKeyPart(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("n;")
	case int64:
		sb.WriteString("i:")
		sb.WriteString(strconv.FormatInt(x, 10))
		sb.WriteByte(';')
	case float64:
		sb.WriteString("f:")
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		sb.WriteByte(';')
	case bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(x))
		sb.WriteByte(';')
	case time.Time:
		sb.WriteString("t:")
		sb.WriteString(strconv.FormatInt(x.UnixNano(), 10))
		sb.WriteByte(';')
	case string:
		sb.WriteString("s:")
		sb.WriteString(strconv.Quote(x))
		sb.WriteByte(';')
	default:
		sb.WriteString("x;")
	}
}
