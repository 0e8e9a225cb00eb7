package query

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xwb1989/sqlparser"
)

// project computes the non-aggregated SELECT list against every row of the
// input table. Output column order exactly matches declaration order; that
// ordering is consumed by the formatter and by every caller.
func project(plan *Plan, t *Table) (*Table, error) {
	type outCol struct {
		name   string
		srcIdx int            // >= 0: verbatim copy of an input column
		expr   sqlparser.Expr // evaluated per row when srcIdx < 0
	}

	var cols []outCol
	emitted := map[int]bool{} // input columns emitted by explicit entries
	starred := map[int]bool{} // input columns emitted by a star expansion

	for _, it := range plan.Select {
		switch {
		case it.Star:
			// Star expands to every input column in input order, skipping
			// columns an explicit entry already emitted.
			for i, name := range t.Columns {
				if emitted[i] || starred[i] {
					continue
				}
				starred[i] = true
				cols = append(cols, outCol{name: name, srcIdx: i})
			}
		case it.Agg != nil:
			return nil, Errf(KindExecutionError, "aggregate %s in non-aggregated projection", it.Name)
		default:
			if col, ok := it.Expr.(*sqlparser.ColName); ok {
				idx, found := t.ColumnIndex(col.Name.String())
				if !found {
					return nil, Errf(KindColumnNotFound, "unknown column %q", col.Name.String())
				}
				// Dedup only applies between star and explicit entries;
				// a column listed twice explicitly projects twice.
				if starred[idx] && col.Name.String() == it.Name {
					continue
				}
				emitted[idx] = true
				cols = append(cols, outCol{name: it.Name, srcIdx: idx})
				continue
			}
			if err := checkScalarExpr(it.Expr, t); err != nil {
				return nil, err
			}
			cols = append(cols, outCol{name: it.Name, srcIdx: -1, expr: it.Expr})
		}
	}

	out := &Table{Name: t.Name, Columns: make([]string, len(cols))}
	for i, c := range cols {
		out.Columns[i] = c.name
	}
	out.Rows = make([][]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		outRow := make([]any, len(cols))
		for i, c := range cols {
			if c.srcIdx >= 0 {
				outRow[i] = row[c.srcIdx]
			} else {
				outRow[i] = evalScalar(c.expr, t, row)
			}
		}
		out.Rows = append(out.Rows, outRow)
	}
	return out, nil
}

// checkScalarExpr validates a scalar expression against the table schema at
// build time so unresolved columns and unsupported node kinds abort the
// whole query before any row is evaluated.
func checkScalarExpr(expr sqlparser.Expr, t *Table) error {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		if _, ok := t.ColumnIndex(e.Name.String()); !ok {
			return Errf(KindColumnNotFound, "unknown column %q", e.Name.String())
		}
		return nil
	case *sqlparser.SQLVal, *sqlparser.NullVal, sqlparser.BoolVal:
		return nil
	case *sqlparser.BinaryExpr:
		switch e.Operator {
		case sqlparser.PlusStr, sqlparser.MinusStr, sqlparser.MultStr, sqlparser.DivStr, sqlparser.ModStr:
		default:
			return Errf(KindUnsupportedCondition, "unsupported operator %q", e.Operator)
		}
		if err := checkScalarExpr(e.Left, t); err != nil {
			return err
		}
		return checkScalarExpr(e.Right, t)
	case *sqlparser.UnaryExpr:
		if e.Operator != sqlparser.UMinusStr {
			return Errf(KindUnsupportedCondition, "unsupported unary operator %q", e.Operator)
		}
		return checkScalarExpr(e.Expr, t)
	case *sqlparser.ParenExpr:
		return checkScalarExpr(e.Expr, t)
	default:
		return Errf(KindUnsupportedCondition, "unsupported expression in SELECT list: %s", sqlparser.String(expr))
	}
}

// evalScalar evaluates a checked scalar expression for one row. Per-row
// arithmetic faults (division by zero, non-numeric operands) propagate as a
// null marker in that cell, not as a query failure.
func evalScalar(expr sqlparser.Expr, t *Table, row []any) any {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		idx, _ := t.ColumnIndex(e.Name.String())
		return row[idx]
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.IntVal:
			i, err := strconv.ParseInt(string(e.Val), 10, 64)
			if err != nil {
				return nil
			}
			return i
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil
			}
			return f
		case sqlparser.StrVal:
			return string(e.Val)
		}
		return nil
	case *sqlparser.NullVal:
		return nil
	case sqlparser.BoolVal:
		return bool(e)
	case *sqlparser.ParenExpr:
		return evalScalar(e.Expr, t, row)
	case *sqlparser.UnaryExpr:
		v := evalScalar(e.Expr, t, row)
		switch x := v.(type) {
		case int64:
			return -x
		case float64:
			return -x
		}
		return nil
	case *sqlparser.BinaryExpr:
		return arithmetic(e.Operator, evalScalar(e.Left, t, row), evalScalar(e.Right, t, row))
	}
	return nil
}

// arithmetic applies one binary operator with numeric coercion. Integer
// operands stay integral except under /, which is always true division.
func arithmetic(op string, a, b any) any {
	if a == nil || b == nil {
		return nil
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt && op != sqlparser.DivStr {
		switch op {
		case sqlparser.PlusStr:
			return ai + bi
		case sqlparser.MinusStr:
			return ai - bi
		case sqlparser.MultStr:
			return ai * bi
		case sqlparser.ModStr:
			if bi == 0 {
				return nil
			}
			return ai % bi
		}
		return nil
	}
	fa, aok := numericValue(a)
	fb, bok := numericValue(b)
	if !aok || !bok {
		return nil
	}
	switch op {
	case sqlparser.PlusStr:
		return fa + fb
	case sqlparser.MinusStr:
		return fa - fb
	case sqlparser.MultStr:
		return fa * fb
	case sqlparser.DivStr:
		if fb == 0 {
			return nil
		}
		return fa / fb
	case sqlparser.ModStr:
		if fb == 0 {
			return nil
		}
		return math.Mod(fa, fb)
	}
	return nil
}

// cellString renders a cell value for LIKE matching and serialization.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", x)
	}
}
