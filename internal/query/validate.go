package query

import (
	"github.com/xwb1989/sqlparser"
)

// Validate gates a parsed statement before any table is touched. It accepts
// only a plain SELECT: unions, DML, DDL, and admin statements are rejected
// outright, and a full tree walk rejects subqueries wherever they appear.
// CTEs and window functions never reach this gate because the parser's
// grammar does not admit them; they surface upstream as syntax errors.
// The traversal never mutates the tree.
func Validate(stmt sqlparser.Statement) (*sqlparser.Select, error) {
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		switch stmt.(type) {
		case *sqlparser.Union:
			return nil, Errf(KindUnsupportedStatementShape, "UNION is not supported")
		default:
			return nil, Errf(KindUnsupportedStatementShape, "only SELECT statements are supported (got %T)", stmt)
		}
	}

	if sel.Distinct != "" {
		return nil, Errf(KindUnsupportedStatementShape, "SELECT DISTINCT is not supported")
	}
	if sel.Lock != "" {
		return nil, Errf(KindUnsupportedStatementShape, "locking clauses are not supported")
	}

	var unsupported error
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.Subquery:
			unsupported = Errf(KindUnsupportedStatementShape, "subqueries are not supported")
			return false, unsupported
		case *sqlparser.JoinTableExpr:
			unsupported = Errf(KindUnsupportedStatementShape, "joins are not supported; queries run against a single sheet")
			return false, unsupported
		}
		return true, nil
	}, sel)
	if unsupported != nil {
		return nil, unsupported
	}

	return sel, nil
}
