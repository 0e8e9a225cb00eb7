package query

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// group accumulates the rows sharing one GROUP BY key tuple. The first row
// encountered is the deterministic representative for grouped column
// references.
type group struct {
	first []any
	rows  [][]any
}

// aggregate partitions rows by the effective GROUP BY key tuple and computes
// the SELECT list once per group, preserving declared output order. Groups
// are emitted in first-encountered order.
//
// The effective key set widens the declared GROUP BY: any non-aggregate
// column reference in the SELECT list that is not already a key is added
// implicitly. ANSI engines reject that shape; this engine keeps the lenient
// behavior so existing queries keep working.
func aggregate(plan *Plan, t *Table) (*Table, error) {
	keyNames := make([]string, 0, len(plan.GroupBy))
	seenKey := map[string]bool{}
	addKey := func(name string) {
		low := strings.ToLower(name)
		if !seenKey[low] {
			seenKey[low] = true
			keyNames = append(keyNames, name)
		}
	}
	for _, g := range plan.GroupBy {
		addKey(g)
	}
	for _, it := range plan.Select {
		if it.Agg != nil || it.Hidden {
			continue
		}
		if it.Star {
			// SELECT * alongside aggregates groups by every column.
			for _, c := range t.Columns {
				addKey(c)
			}
			continue
		}
		for _, col := range scalarColumns(it.Expr) {
			addKey(col)
		}
	}

	keyIdx := make([]int, len(keyNames))
	for i, name := range keyNames {
		idx, ok := t.ColumnIndex(name)
		if !ok {
			return nil, Errf(KindColumnNotFound, "unknown column %q in GROUP BY", name)
		}
		keyIdx[i] = idx
	}

	// Validate aggregate argument columns before touching any row.
	for _, it := range plan.Select {
		if it.Agg == nil || it.Agg.Star {
			continue
		}
		if _, ok := t.ColumnIndex(it.Agg.Column); !ok {
			return nil, Errf(KindColumnNotFound, "unknown column %q", it.Agg.Column)
		}
	}
	for _, it := range plan.Select {
		if it.Agg != nil || it.Star {
			continue
		}
		if err := checkScalarExpr(it.Expr, t); err != nil {
			return nil, err
		}
	}

	// Partition rows; key order is first-encountered.
	var order []string
	groups := map[string]*group{}
	if len(keyIdx) == 0 {
		// No keys but aggregates present: the whole table is one implicit
		// group, even when empty.
		groups[""] = &group{rows: t.Rows}
		if len(t.Rows) > 0 {
			groups[""].first = t.Rows[0]
		}
		order = append(order, "")
	} else {
		for _, row := range t.Rows {
			var sb strings.Builder
			for _, idx := range keyIdx {
				groupKeyPart(&sb, row[idx])
			}
			key := sb.String()
			g, ok := groups[key]
			if !ok {
				g = &group{first: row}
				groups[key] = g
				order = append(order, key)
			}
			g.rows = append(g.rows, row)
		}
	}

	// Assemble output columns in declared order, expanding star.
	type outCol struct {
		name   string
		srcIdx int // input column for grouped refs; -1 otherwise
		agg    *Aggregate
		item   *SelectItem
	}
	var cols []outCol
	colNames := func() []string {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.name
		}
		return names
	}
	emitted := map[int]bool{} // input columns emitted by explicit entries
	starred := map[int]bool{} // input columns emitted by a star expansion
	for i := range plan.Select {
		it := &plan.Select[i]
		switch {
		case it.Star:
			// Star skips columns an explicit entry already emitted, same
			// dedup rule as the non-aggregated projection.
			for idx, name := range t.Columns {
				if emitted[idx] || starred[idx] {
					continue
				}
				starred[idx] = true
				cols = append(cols, outCol{name: name, srcIdx: idx})
			}
		case it.Agg != nil:
			cols = append(cols, outCol{name: it.Name, srcIdx: -1, agg: it.Agg})
		default:
			if col, ok, idx := plainColumn(it, t); ok {
				if starred[idx] && strings.EqualFold(col, t.Columns[idx]) {
					continue
				}
				emitted[idx] = true
				cols = append(cols, outCol{name: col, srcIdx: idx})
			} else {
				cols = append(cols, outCol{name: it.Name, srcIdx: -1, item: it})
			}
		}
	}

	out := &Table{Name: t.Name, Columns: colNames()}
	out.Rows = make([][]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make([]any, len(cols))
		for i, c := range cols {
			switch {
			case c.agg != nil:
				row[i] = computeAggregate(c.agg, g, t)
			case c.srcIdx >= 0:
				if g.first != nil {
					row[i] = g.first[c.srcIdx]
				}
			default:
				if g.first != nil {
					row[i] = evalScalar(c.item.Expr, t, g.first)
				}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// computeAggregate reduces one group to a single value.
func computeAggregate(agg *Aggregate, g *group, t *Table) any {
	if agg.Star {
		// COUNT(*): group cardinality, nulls included.
		return int64(len(g.rows))
	}
	idx, _ := t.ColumnIndex(agg.Column)

	switch agg.Kind {
	case AggCount:
		var n int64
		for _, row := range g.rows {
			if row[idx] != nil {
				n++
			}
		}
		return n
	case AggSum, AggAvg:
		// Numeric coercion; non-numeric values are excluded, not errors.
		var sum float64
		var intSum int64
		var included int
		allInts := true
		for _, row := range g.rows {
			v := row[idx]
			if v == nil {
				continue
			}
			f, ok := numericValue(v)
			if !ok {
				continue
			}
			included++
			sum += f
			if i, isInt := v.(int64); isInt {
				intSum += i
			} else {
				allInts = false
			}
		}
		if included == 0 {
			return nil
		}
		if agg.Kind == AggAvg {
			return sum / float64(included)
		}
		if allInts {
			return intSum
		}
		return sum
	case AggMin, AggMax:
		// Nulls are excluded; mixed types fall back to the fixed cross-type
		// total order so the function stays total.
		var best any
		have := false
		for _, row := range g.rows {
			v := row[idx]
			if v == nil {
				continue
			}
			if !have {
				best, have = v, true
				continue
			}
			c := totalOrderCompare(v, best)
			if (agg.Kind == AggMin && c < 0) || (agg.Kind == AggMax && c > 0) {
				best = v
			}
		}
		if !have {
			return nil
		}
		return best
	}
	return nil
}

// plainColumn reports whether a select item is an unaliased-or-aliased plain
// column reference, returning the output name and input index.
func plainColumn(it *SelectItem, t *Table) (string, bool, int) {
	col, ok := it.Expr.(*sqlparser.ColName)
	if !ok {
		return "", false, 0
	}
	idx, found := t.ColumnIndex(col.Name.String())
	if !found {
		return "", false, 0
	}
	return it.Name, true, idx
}

// scalarColumns collects the column names referenced by a scalar expression.
func scalarColumns(expr sqlparser.Expr) []string {
	var out []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if col, ok := node.(*sqlparser.ColName); ok {
			out = append(out, col.Name.String())
		}
		return true, nil
	}, expr)
	return out
}
