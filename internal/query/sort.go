package query

import "sort"

// sortAndLimit orders the result by the declared keys and truncates it.
// Keys resolve against the output schema, so ORDER BY works on aliases and
// aggregate result columns. The sort is stable: rows with equal key tuples
// keep their original relative order. limit < 0 means no truncation.
func sortAndLimit(t *Table, keys []OrderKey, limit int) (*Table, error) {
	if len(keys) > 0 {
		idxs := make([]int, len(keys))
		for i, k := range keys {
			idx, ok := t.ColumnIndex(k.Column)
			if !ok {
				return nil, Errf(KindColumnNotFound, "unknown column %q in ORDER BY", k.Column)
			}
			idxs[i] = idx
		}
		sort.SliceStable(t.Rows, func(a, b int) bool {
			ra, rb := t.Rows[a], t.Rows[b]
			for i, k := range keys {
				c := totalOrderCompare(ra[idxs[i]], rb[idxs[i]])
				if c == 0 {
					continue
				}
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if limit >= 0 && len(t.Rows) > limit {
		t.Rows = t.Rows[:limit]
	}
	return t, nil
}
