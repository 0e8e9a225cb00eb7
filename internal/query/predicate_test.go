package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func peopleTable() *Table {
	return &Table{
		Name:    "People",
		Columns: []string{"name", "age", "city"},
		Rows: [][]any{
			{"Ada", int64(36), "London"},
			{"Grace", int64(45), "Arlington"},
			{"Linus", "30", "Helsinki"},
			{"Ghost", nil, nil},
		},
	}
}

func names(t *testing.T, res *Result) []any {
	t.Helper()
	out := make([]any, 0, len(res.Rows))
	for _, r := range res.Rows {
		out = append(out, r[0])
	}
	return out
}

func TestFilterNumericStringCoercion(t *testing.T) {
	// "30" stored as text still matches a numeric comparison.
	res, err := ExecuteText("SELECT name FROM People WHERE age >= 30", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ada", "Grace", "Linus"}, names(t, res))
}

func TestFilterNullAlwaysFalse(t *testing.T) {
	for _, sql := range []string{
		"SELECT name FROM People WHERE age = 36 OR age < 100",
		"SELECT name FROM People WHERE age != 36",
	} {
		res, err := ExecuteText(sql, fixed(peopleTable()), 100)
		require.NoError(t, err)
		require.NotContains(t, names(t, res), "Ghost", sql)
	}
}

func TestFilterIsNull(t *testing.T) {
	res, err := ExecuteText("SELECT name FROM People WHERE age IS NULL", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ghost"}, names(t, res))

	res, err = ExecuteText("SELECT name FROM People WHERE city IS NOT NULL", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ada", "Grace", "Linus"}, names(t, res))
}

func TestFilterBetween(t *testing.T) {
	res, err := ExecuteText("SELECT name FROM People WHERE age BETWEEN 30 AND 40", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ada", "Linus"}, names(t, res))

	res, err = ExecuteText("SELECT name FROM People WHERE age NOT BETWEEN 30 AND 40", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Grace"}, names(t, res))
}

func TestFilterIn(t *testing.T) {
	res, err := ExecuteText("SELECT name FROM People WHERE city IN ('London', 'Helsinki')", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ada", "Linus"}, names(t, res))

	res, err = ExecuteText("SELECT name FROM People WHERE city NOT IN ('London')", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Grace", "Linus"}, names(t, res))
}

func TestFilterLike(t *testing.T) {
	res, err := ExecuteText("SELECT name FROM People WHERE city LIKE 'L%'", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Ada"}, names(t, res))

	// Underscore matches exactly one character and the pattern is anchored.
	res, err = ExecuteText("SELECT name FROM People WHERE name LIKE '_race'", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Grace"}, names(t, res))

	res, err = ExecuteText("SELECT name FROM People WHERE name NOT LIKE '%a%'", fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Linus", "Ghost"}, names(t, res))
}

func TestFilterBooleanComposition(t *testing.T) {
	res, err := ExecuteText(
		"SELECT name FROM People WHERE (age > 40 OR city = 'London') AND NOT name = 'Ada'",
		fixed(peopleTable()), 100)
	require.NoError(t, err)
	require.Equal(t, []any{"Grace"}, names(t, res))
}

func TestFilterUnsupportedCondition(t *testing.T) {
	// Column-to-column LIKE has no literal pattern to compile.
	_, err := ExecuteText("SELECT name FROM People WHERE name LIKE city", fixed(peopleTable()), 100)
	require.Equal(t, KindUnsupportedCondition, KindOf(err))

	// Aggregates are not allowed in WHERE.
	_, err = ExecuteText("SELECT name FROM People WHERE COUNT(*) > 1", fixed(peopleTable()), 100)
	require.Equal(t, KindUnsupportedCondition, KindOf(err))
}

func TestLikePatternCompilation(t *testing.T) {
	re, err := likePattern("a%b_c")
	require.NoError(t, err)
	require.True(t, re.MatchString("axxbYc"))
	require.True(t, re.MatchString("abzc"))
	require.False(t, re.MatchString("axxbc"))
	require.False(t, re.MatchString("xaxxbYc"))

	// Regex metacharacters in the pattern are literal.
	re, err = likePattern("1.5%")
	require.NoError(t, err)
	require.True(t, re.MatchString("1.50"))
	require.False(t, re.MatchString("1x50"))
}
