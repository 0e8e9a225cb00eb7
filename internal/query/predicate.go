package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// RowFilter decides whether a row belongs to the result. Filters are built
// once per query and applied row by row.
type RowFilter func(row []any) bool

// operand yields one side of a comparison for a given row.
type operand func(row []any) any

// filterSchema parameterizes predicate translation over the schema being
// filtered: raw input columns for WHERE, the aggregated output schema for
// HAVING. In the HAVING case aggregate calls resolve to the output columns
// that hold their per-group results.
type filterSchema struct {
	table   *Table
	aggCols map[string]int // lowercased canonical aggregate text -> column index
}

// buildFilter translates a boolean expression tree into a RowFilter.
// Unsupported node kinds are a translation error, never a silent
// pass-through.
func buildFilter(expr sqlparser.Expr, sc *filterSchema) (RowFilter, error) {
	switch e := expr.(type) {
	case *sqlparser.ComparisonExpr:
		return buildComparison(e, sc)
	case *sqlparser.AndExpr:
		left, err := buildFilter(e.Left, sc)
		if err != nil {
			return nil, err
		}
		right, err := buildFilter(e.Right, sc)
		if err != nil {
			return nil, err
		}
		return func(row []any) bool { return left(row) && right(row) }, nil
	case *sqlparser.OrExpr:
		left, err := buildFilter(e.Left, sc)
		if err != nil {
			return nil, err
		}
		right, err := buildFilter(e.Right, sc)
		if err != nil {
			return nil, err
		}
		return func(row []any) bool { return left(row) || right(row) }, nil
	case *sqlparser.NotExpr:
		inner, err := buildFilter(e.Expr, sc)
		if err != nil {
			return nil, err
		}
		return func(row []any) bool { return !inner(row) }, nil
	case *sqlparser.ParenExpr:
		// Parentheses carry no semantics of their own.
		return buildFilter(e.Expr, sc)
	case *sqlparser.RangeCond:
		return buildRange(e, sc)
	case *sqlparser.IsExpr:
		return buildIs(e, sc)
	default:
		return nil, Errf(KindUnsupportedCondition, "unsupported condition: %s", sqlparser.String(expr))
	}
}

func buildComparison(e *sqlparser.ComparisonExpr, sc *filterSchema) (RowFilter, error) {
	switch e.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		return buildIn(e, sc)
	case sqlparser.LikeStr, sqlparser.NotLikeStr:
		return buildLike(e, sc)
	}

	left, err := resolveOperand(e.Left, sc)
	if err != nil {
		return nil, err
	}
	right, err := resolveOperand(e.Right, sc)
	if err != nil {
		return nil, err
	}

	var accept func(cmp int) bool
	switch e.Operator {
	case sqlparser.EqualStr:
		accept = func(c int) bool { return c == 0 }
	case sqlparser.NotEqualStr:
		accept = func(c int) bool { return c != 0 }
	case sqlparser.LessThanStr:
		accept = func(c int) bool { return c < 0 }
	case sqlparser.LessEqualStr:
		accept = func(c int) bool { return c <= 0 }
	case sqlparser.GreaterThanStr:
		accept = func(c int) bool { return c > 0 }
	case sqlparser.GreaterEqualStr:
		accept = func(c int) bool { return c >= 0 }
	default:
		return nil, Errf(KindUnsupportedCondition, "unsupported comparison operator %q", e.Operator)
	}

	return func(row []any) bool {
		cmp, ok := compareValues(left(row), right(row))
		if !ok {
			// Null (or incomparable) compares false in any comparison.
			return false
		}
		return accept(cmp)
	}, nil
}

func buildLike(e *sqlparser.ComparisonExpr, sc *filterSchema) (RowFilter, error) {
	col, err := resolveOperand(e.Left, sc)
	if err != nil {
		return nil, err
	}
	val, ok := e.Right.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.StrVal {
		return nil, Errf(KindUnsupportedCondition, "LIKE pattern must be a string literal")
	}
	re, err := likePattern(string(val.Val))
	if err != nil {
		return nil, Errf(KindUnsupportedCondition, "invalid LIKE pattern %q", string(val.Val))
	}
	negate := e.Operator == sqlparser.NotLikeStr
	return func(row []any) bool {
		v := col(row)
		if v == nil {
			return false
		}
		matched := re.MatchString(cellString(v))
		if negate {
			return !matched
		}
		return matched
	}, nil
}

// likePattern compiles a SQL LIKE pattern into an anchored, case-sensitive
// regexp: % matches any sequence, _ matches a single character, everything
// else is literal.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteByte('$')
	return regexp.Compile(sb.String())
}

func buildIn(e *sqlparser.ComparisonExpr, sc *filterSchema) (RowFilter, error) {
	col, err := resolveOperand(e.Left, sc)
	if err != nil {
		return nil, err
	}
	tuple, ok := e.Right.(sqlparser.ValTuple)
	if !ok {
		return nil, Errf(KindUnsupportedCondition, "IN requires a literal list")
	}
	members := make([]any, 0, len(tuple))
	for _, el := range tuple {
		val, ok := el.(*sqlparser.SQLVal)
		if !ok {
			return nil, Errf(KindUnsupportedCondition, "IN list members must be literals, got %s", sqlparser.String(el))
		}
		lit, err := literalValue(val)
		if err != nil {
			return nil, err
		}
		members = append(members, lit)
	}
	negate := e.Operator == sqlparser.NotInStr
	return func(row []any) bool {
		v := col(row)
		if v == nil {
			return false
		}
		found := false
		for _, m := range members {
			if cmp, ok := compareValues(v, m); ok && cmp == 0 {
				found = true
				break
			}
		}
		if negate {
			return !found
		}
		return found
	}, nil
}

func buildRange(e *sqlparser.RangeCond, sc *filterSchema) (RowFilter, error) {
	left, err := resolveOperand(e.Left, sc)
	if err != nil {
		return nil, err
	}
	from, err := resolveOperand(e.From, sc)
	if err != nil {
		return nil, err
	}
	to, err := resolveOperand(e.To, sc)
	if err != nil {
		return nil, err
	}
	negate := e.Operator == sqlparser.NotBetweenStr
	return func(row []any) bool {
		v := left(row)
		lo, okLo := compareValues(v, from(row))
		hi, okHi := compareValues(v, to(row))
		inside := okLo && okHi && lo >= 0 && hi <= 0
		if negate {
			return okLo && okHi && !inside
		}
		return inside
	}, nil
}

func buildIs(e *sqlparser.IsExpr, sc *filterSchema) (RowFilter, error) {
	col, err := resolveOperand(e.Expr, sc)
	if err != nil {
		return nil, err
	}
	switch e.Operator {
	case sqlparser.IsNullStr:
		return func(row []any) bool { return col(row) == nil }, nil
	case sqlparser.IsNotNullStr:
		return func(row []any) bool { return col(row) != nil }, nil
	default:
		return nil, Errf(KindUnsupportedCondition, "unsupported IS operator %q", e.Operator)
	}
}

// resolveOperand lowers an expression to a per-row accessor: a column read,
// a constant literal, or (under an aggregated schema) an aggregate-result
// column.
func resolveOperand(expr sqlparser.Expr, sc *filterSchema) (operand, error) {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		idx, ok := sc.table.ColumnIndex(e.Name.String())
		if !ok {
			return nil, Errf(KindColumnNotFound, "unknown column %q", e.Name.String())
		}
		return func(row []any) any { return row[idx] }, nil
	case *sqlparser.SQLVal:
		lit, err := literalValue(e)
		if err != nil {
			return nil, err
		}
		return func([]any) any { return lit }, nil
	case *sqlparser.NullVal:
		return func([]any) any { return nil }, nil
	case sqlparser.BoolVal:
		b := bool(e)
		return func([]any) any { return b }, nil
	case *sqlparser.ParenExpr:
		return resolveOperand(e.Expr, sc)
	case *sqlparser.FuncExpr:
		if sc.aggCols == nil {
			return nil, Errf(KindUnsupportedCondition, "aggregate %s is not allowed here", sqlparser.String(e))
		}
		idx, ok := sc.aggCols[strings.ToLower(sqlparser.String(e))]
		if !ok {
			return nil, Errf(KindColumnNotFound, "aggregate %s is not computed by this query", sqlparser.String(e))
		}
		return func(row []any) any { return row[idx] }, nil
	default:
		return nil, Errf(KindUnsupportedCondition, "unsupported operand: %s", sqlparser.String(expr))
	}
}

// literalValue converts a parsed literal. String literals pass through the
// best-effort numeric coercion so "30" compares numerically.
func literalValue(val *sqlparser.SQLVal) (any, error) {
	switch val.Type {
	case sqlparser.IntVal:
		i, err := strconv.ParseInt(string(val.Val), 10, 64)
		if err != nil {
			return nil, Errf(KindExecutionError, "invalid integer literal %q", string(val.Val))
		}
		return i, nil
	case sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(val.Val), 64)
		if err != nil {
			return nil, Errf(KindExecutionError, "invalid float literal %q", string(val.Val))
		}
		return f, nil
	case sqlparser.StrVal:
		return coerceLiteral(string(val.Val)), nil
	default:
		return nil, Errf(KindUnsupportedCondition, "unsupported literal type")
	}
}
