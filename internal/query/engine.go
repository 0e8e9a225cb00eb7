package query

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// TableResolver supplies the table named by FROM. The engine calls it only
// after the statement passed validation and planning, so unsupported
// statements never trigger a data load. Implementations return *Error with
// KindTableNotFound / KindDataLoadFailed on failure.
type TableResolver func(name string) (*Table, error)

// Result is the terminal shape handed back to callers. Rows align
// positionally with Columns in declared SELECT order.
type Result struct {
	Columns   []string          `json:"columns"`
	Rows      [][]any           `json:"rows"`
	RowCount  int               `json:"row_count"`
	TypeHints map[string]string `json:"type_hints"`
}

// Execute runs the full pipeline against an already-parsed statement:
// validate, plan, load, filter, aggregate-or-project, having, sort, limit,
// format. Execution is synchronous and single-threaded; it either runs to
// completion or fails whole-query at a single stage.
//
// rowCeiling is the caller-side cap applied on top of any SQL LIMIT;
// rowCeiling <= 0 means uncapped.
func Execute(stmt sqlparser.Statement, resolve TableResolver, rowCeiling int) (*Result, error) {
	sel, err := Validate(stmt)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(sel)
	if err != nil {
		return nil, err
	}

	src, err := resolve(plan.TableName)
	if err != nil {
		if _, ok := err.(*Error); ok {
			return nil, err
		}
		return nil, Errf(KindDataLoadFailed, "load %q: %v", plan.TableName, err)
	}

	cur := src
	if plan.Where != nil {
		filter, err := buildFilter(plan.Where, &filterSchema{table: cur})
		if err != nil {
			return nil, err
		}
		filtered := &Table{Name: cur.Name, Columns: cur.Columns}
		for _, row := range cur.Rows {
			if filter(row) {
				filtered.Rows = append(filtered.Rows, row)
			}
		}
		cur = filtered
	}

	if plan.HasAggregates() || len(plan.GroupBy) > 0 {
		cur, err = aggregate(plan, cur)
	} else {
		cur, err = project(plan, cur)
	}
	if err != nil {
		return nil, err
	}

	if plan.Having != nil {
		having, err := buildFilter(plan.Having, &filterSchema{
			table:   cur,
			aggCols: aggregateColumns(plan, cur),
		})
		if err != nil {
			return nil, err
		}
		kept := cur.Rows[:0]
		for _, row := range cur.Rows {
			if having(row) {
				kept = append(kept, row)
			}
		}
		cur.Rows = kept
	}

	dropHiddenColumns(plan, cur)

	limit := plan.Limit
	if rowCeiling > 0 && (limit < 0 || limit > rowCeiling) {
		limit = rowCeiling
	}
	cur, err = sortAndLimit(cur, plan.OrderBy, limit)
	if err != nil {
		return nil, err
	}

	return &Result{
		Columns:   cur.Columns,
		Rows:      cur.Rows,
		RowCount:  len(cur.Rows),
		TypeHints: TypeHints(cur),
	}, nil
}

// ExecuteText parses SQL text with the external parser and executes it.
// Parse failures map to KindSyntaxError.
func ExecuteText(sql string, resolve TableResolver, rowCeiling int) (*Result, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, Errf(KindSyntaxError, "%v", err)
	}
	return Execute(stmt, resolve, rowCeiling)
}

// aggregateColumns maps each planned aggregate's canonical text to its
// output column index, parameterizing the having filter over the aggregated
// schema.
func aggregateColumns(plan *Plan, t *Table) map[string]int {
	out := map[string]int{}
	// Walk the output columns in the same expansion order the aggregation
	// stage used: star items occupy one slot per input column.
	pos := 0
	for _, it := range plan.Select {
		if it.Star {
			pos += starWidth(plan, t)
			continue
		}
		if it.Agg != nil && it.sqlText != "" {
			out[it.sqlText] = pos
		}
		pos++
	}
	return out
}

// starWidth reports how many output columns a star item expanded to.
func starWidth(plan *Plan, t *Table) int {
	// The aggregated/projected table already has its final column list;
	// star width is total columns minus the non-star items.
	nonStar := 0
	hasStar := false
	for _, it := range plan.Select {
		if it.Star {
			hasStar = true
			continue
		}
		nonStar++
	}
	if !hasStar {
		return 0
	}
	w := len(t.Columns) - nonStar
	if w < 0 {
		return 0
	}
	return w
}

// dropHiddenColumns removes HAVING-only aggregate columns from the result.
func dropHiddenColumns(plan *Plan, t *Table) {
	hidden := map[string]bool{}
	for _, it := range plan.Select {
		if it.Hidden {
			hidden[strings.ToLower(it.Name)] = true
		}
	}
	if len(hidden) == 0 {
		return
	}
	keep := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		if !hidden[strings.ToLower(c)] {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(t.Columns) {
		return
	}
	cols := make([]string, len(keep))
	for i, idx := range keep {
		cols[i] = t.Columns[idx]
	}
	t.Columns = cols
	for ri, row := range t.Rows {
		out := make([]any, len(keep))
		for i, idx := range keep {
			out[i] = row[idx]
		}
		t.Rows[ri] = out
	}
}
