package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/sheets"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type nopGate struct{}

func (nopGate) AcquireWorkbook(ctx context.Context) error { return nil }
func (nopGate) ReleaseWorkbook()                          {}

func newService(t *testing.T, rows [][]any) (*Service, string) {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "search.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	mgr := workbooks.NewManager(time.Minute, time.Minute, nopGate{}, time.Now)
	id, _, err := mgr.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	return &Service{Limits: runtime.NewLimits(0, 0), Mgr: mgr}, id
}

func TestSearchSubstring(t *testing.T) {
	svc, id := newService(t, [][]any{
		{"name", "city"},
		{"Ada Lovelace", "London"},
		{"Grace Hopper", "Arlington"},
		{"Annie Easley", "Cleveland"},
	})
	out, err := svc.Search(context.Background(), id, "Sheet1", "lov", false, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	m := out.Matches[0]
	require.Equal(t, "A2", m.Cell)
	require.Equal(t, "Ada Lovelace", m.Value)
	require.Equal(t, []string{"Ada Lovelace", "London"}, m.RowSnapshot)
	// Total reports rows scanned, not matches.
	require.Equal(t, 4, out.Meta.Total)
	require.Equal(t, 1, out.Meta.Returned)
}

func TestSearchRegex(t *testing.T) {
	svc, id := newService(t, [][]any{
		{"code"},
		{"ab-123"},
		{"cd-9"},
		{"ef-4567"},
	})
	out, err := svc.Search(context.Background(), id, "Sheet1", `^\w{2}-\d{3,}$`, true, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)
	require.Equal(t, "ab-123", out.Matches[0].Value)
	require.Equal(t, "ef-4567", out.Matches[1].Value)

	_, err = svc.Search(context.Background(), id, "Sheet1", "(", true, nil, "", 0)
	require.ErrorContains(t, err, "invalid regex")
}

func TestSearchColumnFilter(t *testing.T) {
	svc, id := newService(t, [][]any{
		{"alpha", "alpha"},
		{"alpha", "beta"},
	})
	out, err := svc.Search(context.Background(), id, "Sheet1", "alpha", false, []int{2}, "", 0)
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	require.Equal(t, "B1", out.Matches[0].Cell)

	_, err = svc.Search(context.Background(), id, "Sheet1", "alpha", false, []int{0}, "", 0)
	require.ErrorContains(t, err, "1-based")
}

func TestSearchPagination(t *testing.T) {
	rows := [][]any{}
	for i := 0; i < 6; i++ {
		rows = append(rows, []any{"hit"})
	}
	svc, id := newService(t, rows)

	out, err := svc.Search(context.Background(), id, "Sheet1", "hit", false, nil, "", 2)
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)
	require.True(t, out.Meta.Truncated)
	require.NotEmpty(t, out.Meta.NextCursor)
	require.Equal(t, 2, out.Matches[1].Row)

	// Resume from the cursor; parameters come from the token.
	out, err = svc.Search(context.Background(), id, "", "", false, nil, out.Meta.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, out.Matches, 2)
	require.Equal(t, 3, out.Matches[0].Row)
	require.Equal(t, "hit", out.Query)
}

func TestSearchCursorStaleAfterWrite(t *testing.T) {
	rows := [][]any{{"hit"}, {"hit"}, {"hit"}}
	svc, id := newService(t, rows)

	out, err := svc.Search(context.Background(), id, "Sheet1", "hit", false, nil, "", 1)
	require.NoError(t, err)
	require.NotEmpty(t, out.Meta.NextCursor)

	require.NoError(t, svc.Mgr.WithWrite(id, func(f *excelize.File) error {
		return f.SetCellValue("Sheet1", "A1", "changed")
	}))

	_, err = svc.Search(context.Background(), id, "", "", false, nil, out.Meta.NextCursor, 1)
	require.ErrorIs(t, err, sheets.ErrStaleCursor)
}

func TestSearchUnknownSheet(t *testing.T) {
	svc, id := newService(t, [][]any{{"x"}})
	_, err := svc.Search(context.Background(), id, "Ghost", "x", false, nil, "", 0)
	require.ErrorIs(t, err, sheets.ErrSheetNotFound)
}
