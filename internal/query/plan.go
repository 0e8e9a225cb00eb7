package query

import (
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// AggKind is the closed set of supported aggregate functions, resolved once
// during planning rather than by string dispatch at evaluation time.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggKindNames = map[string]AggKind{
	"count": AggCount,
	"sum":   AggSum,
	"avg":   AggAvg,
	"min":   AggMin,
	"max":   AggMax,
}

// Aggregate is a planned aggregate call.
type Aggregate struct {
	Kind   AggKind
	Star   bool   // COUNT(*)
	Column string // argument column, empty when Star
}

// SelectItem is one entry of the planned SELECT list, in declared order.
// Exactly one of Star, Agg, or Expr describes the value source. Hidden items
// are HAVING-only aggregates: computed per group, filtered on, then dropped
// before the result leaves the pipeline.
type SelectItem struct {
	Name    string
	Star    bool
	Agg     *Aggregate
	Expr    sqlparser.Expr
	Hidden  bool
	sqlText string // lowercased canonical text, used to match HAVING aggregates
}

// OrderKey is one ORDER BY key with its direction. Keys resolve against the
// output schema, so aliases are orderable.
type OrderKey struct {
	Column string
	Desc   bool
}

// Plan is the normalized, validated representation of a query. It is built
// once per statement and immutable during execution.
type Plan struct {
	TableName string
	Where     sqlparser.Expr
	Select    []SelectItem
	GroupBy   []string
	Having    sqlparser.Expr
	OrderBy   []OrderKey
	Limit     int // -1 when absent
}

// HasAggregates reports whether any select item is an aggregate call.
func (p *Plan) HasAggregates() bool {
	for _, it := range p.Select {
		if it.Agg != nil {
			return true
		}
	}
	return false
}

// BuildPlan normalizes a validated SELECT into an executable Plan.
func BuildPlan(sel *sqlparser.Select) (*Plan, error) {
	p := &Plan{Limit: -1}

	if len(sel.From) != 1 {
		return nil, Errf(KindUnsupportedStatementShape, "FROM must name exactly one sheet")
	}
	aliased, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, Errf(KindUnsupportedStatementShape, "unsupported FROM clause")
	}
	tn, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, Errf(KindUnsupportedStatementShape, "FROM must be a plain sheet name")
	}
	p.TableName = tn.Name.String()

	for _, se := range sel.SelectExprs {
		item, err := planSelectExpr(se)
		if err != nil {
			return nil, err
		}
		p.Select = append(p.Select, item)
	}

	if sel.Where != nil {
		p.Where = sel.Where.Expr
	}

	for _, g := range sel.GroupBy {
		col, ok := g.(*sqlparser.ColName)
		if !ok {
			return nil, Errf(KindUnsupportedStatementShape, "GROUP BY supports plain columns only, got %s", sqlparser.String(g))
		}
		p.GroupBy = append(p.GroupBy, col.Name.String())
	}

	if sel.Having != nil {
		p.Having = sel.Having.Expr
		if err := planHiddenAggregates(p); err != nil {
			return nil, err
		}
	}

	for _, ob := range sel.OrderBy {
		col, ok := ob.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, Errf(KindUnsupportedStatementShape, "ORDER BY supports plain columns only, got %s", sqlparser.String(ob.Expr))
		}
		p.OrderBy = append(p.OrderBy, OrderKey{
			Column: col.Name.String(),
			Desc:   ob.Direction == sqlparser.DescScr,
		})
	}

	if sel.Limit != nil {
		if sel.Limit.Offset != nil {
			return nil, Errf(KindUnsupportedStatementShape, "LIMIT with OFFSET is not supported")
		}
		val, ok := sel.Limit.Rowcount.(*sqlparser.SQLVal)
		if !ok || val.Type != sqlparser.IntVal {
			return nil, Errf(KindUnsupportedStatementShape, "LIMIT must be an integer literal")
		}
		n, err := strconv.Atoi(string(val.Val))
		if err != nil || n < 0 {
			return nil, Errf(KindUnsupportedStatementShape, "invalid LIMIT %q", string(val.Val))
		}
		p.Limit = n
	}

	return p, nil
}

func planSelectExpr(se sqlparser.SelectExpr) (SelectItem, error) {
	switch e := se.(type) {
	case *sqlparser.StarExpr:
		return SelectItem{Star: true, Name: "*"}, nil
	case *sqlparser.AliasedExpr:
		alias := e.As.String()
		if fn, ok := e.Expr.(*sqlparser.FuncExpr); ok {
			agg, err := planAggregate(fn)
			if err != nil {
				return SelectItem{}, err
			}
			name := alias
			canonical := strings.ToLower(sqlparser.String(fn))
			if name == "" {
				name = canonical
			}
			return SelectItem{Name: name, Agg: agg, sqlText: canonical}, nil
		}
		name := alias
		if name == "" {
			if col, ok := e.Expr.(*sqlparser.ColName); ok {
				name = col.Name.String()
			} else {
				name = sqlparser.String(e.Expr)
			}
		}
		return SelectItem{Name: name, Expr: e.Expr}, nil
	default:
		return SelectItem{}, Errf(KindUnsupportedStatementShape, "unsupported SELECT expression %s", sqlparser.String(se))
	}
}

func planAggregate(fn *sqlparser.FuncExpr) (*Aggregate, error) {
	name := fn.Name.Lowered()
	kind, ok := aggKindNames[name]
	if !ok {
		return nil, Errf(KindUnsupportedAggregate, "unsupported function %q; supported aggregates are COUNT, SUM, AVG, MIN, MAX", name)
	}
	if fn.Distinct {
		return nil, Errf(KindUnsupportedAggregate, "DISTINCT aggregates are not supported")
	}
	if len(fn.Exprs) != 1 {
		return nil, Errf(KindUnsupportedAggregate, "%s takes exactly one argument", strings.ToUpper(name))
	}
	switch arg := fn.Exprs[0].(type) {
	case *sqlparser.StarExpr:
		if kind != AggCount {
			return nil, Errf(KindUnsupportedAggregate, "%s(*) is not supported", strings.ToUpper(name))
		}
		return &Aggregate{Kind: AggCount, Star: true}, nil
	case *sqlparser.AliasedExpr:
		col, ok := arg.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, Errf(KindUnsupportedAggregate, "%s argument must be a plain column, got %s", strings.ToUpper(name), sqlparser.String(arg.Expr))
		}
		return &Aggregate{Kind: kind, Column: col.Name.String()}, nil
	default:
		return nil, Errf(KindUnsupportedAggregate, "unsupported %s argument", strings.ToUpper(name))
	}
}

// planHiddenAggregates appends HAVING-only aggregate calls to the select
// list as hidden items so the executor computes them per group. The having
// filter then resolves each call to its hidden output column.
func planHiddenAggregates(p *Plan) error {
	var walkErr error
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		fn, ok := node.(*sqlparser.FuncExpr)
		if !ok {
			return true, nil
		}
		if _, known := aggKindNames[fn.Name.Lowered()]; !known {
			walkErr = Errf(KindUnsupportedAggregate, "unsupported function %q in HAVING", fn.Name.String())
			return false, walkErr
		}
		canonical := strings.ToLower(sqlparser.String(fn))
		for _, it := range p.Select {
			if it.sqlText == canonical {
				return false, nil // already computed for the visible list
			}
		}
		agg, err := planAggregate(fn)
		if err != nil {
			walkErr = err
			return false, err
		}
		p.Select = append(p.Select, SelectItem{
			Name:    canonical,
			Agg:     agg,
			Hidden:  true,
			sqlText: canonical,
		})
		return false, nil
	}, p.Having)
	return walkErr
}
