package sheets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpsheets/mcpsheets/internal/runtime"
	"github.com/mcpsheets/mcpsheets/internal/workbooks"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type nopGate struct{}

func (nopGate) AcquireWorkbook(ctx context.Context) error { return nil }
func (nopGate) ReleaseWorkbook()                          {}

// newService creates a temp workbook on disk, opens it through a manager,
// and returns the service plus the handle ID.
func newService(t *testing.T, rows [][]any) (*Service, string) {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "svc.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	mgr := workbooks.NewManager(time.Minute, time.Minute, nopGate{}, time.Now)
	id, _, err := mgr.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	return &Service{Limits: runtime.NewLimits(0, 0), Mgr: mgr}, id
}

func TestStructure(t *testing.T) {
	svc, id := newService(t, [][]any{
		{"name", "age", "city"},
		{"Ada", 36, "London"},
		{"Grace", 45, "Arlington"},
	})
	out, err := svc.Structure(context.Background(), id, false)
	require.NoError(t, err)
	require.Len(t, out.Sheets, 1)
	require.Equal(t, "Sheet1", out.Sheets[0].Name)
	require.Equal(t, 3, out.Sheets[0].RowCount)
	require.Equal(t, 3, out.Sheets[0].ColumnCount)
	require.Equal(t, []string{"name", "age", "city"}, out.Sheets[0].Headers)

	out, err = svc.Structure(context.Background(), id, true)
	require.NoError(t, err)
	require.Nil(t, out.Sheets[0].Headers)
}

func TestUsedRangeIgnoresCollapsedDimension(t *testing.T) {
	f := excelize.NewFile()
	for i := 1; i <= 3; i++ {
		row := []any{i, i * 10, i * 100}
		cell, err := excelize.CoordinatesToCellName(1, i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "dim.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	// Files written by excelize keep their dimension ref at "A1"; the used
	// range must come from the scan fallback, not the stored ref.
	reopened, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer reopened.Close()

	rect, ok := usedRange(reopened, "Sheet1")
	require.True(t, ok)
	require.Equal(t, Rect{X1: 1, Y1: 1, X2: 3, Y2: 3}, rect)
}

func TestPreviewBounded(t *testing.T) {
	rows := [][]any{{"h1", "h2"}}
	for i := 0; i < 10; i++ {
		rows = append(rows, []any{i, i * 2})
	}
	svc, id := newService(t, rows)

	out, err := svc.Preview(context.Background(), id, "Sheet1", 3, "json")
	require.NoError(t, err)
	require.Equal(t, 3, out.Meta.Returned)
	require.Equal(t, 11, out.Meta.Total)
	require.True(t, out.Meta.Truncated)
	require.Equal(t, []string{"h1", "h2"}, out.Rows[0])

	out, err = svc.Preview(context.Background(), id, "Sheet1", 0, "csv")
	require.NoError(t, err)
	require.Nil(t, out.Rows)
	require.Contains(t, out.CSV, "h1,h2\n")

	_, err = svc.Preview(context.Background(), id, "Nope", 3, "json")
	require.ErrorIs(t, err, ErrSheetNotFound)
}

func TestReadRangePagination(t *testing.T) {
	rows := [][]any{}
	for i := 1; i <= 6; i++ {
		rows = append(rows, []any{i, i * 10})
	}
	svc, id := newService(t, rows)

	// 4 cells per page over a 6x2 range gives 2 rows per page.
	out, err := svc.ReadRange(context.Background(), id, "Sheet1", "A1:B6", "", 4)
	require.NoError(t, err)
	require.Equal(t, "A1:B6", out.Range)
	require.Equal(t, [][]string{{"1", "10"}, {"2", "20"}}, out.Rows)
	require.Equal(t, 6, out.Meta.Total)
	require.True(t, out.Meta.Truncated)
	require.NotEmpty(t, out.Meta.NextCursor)

	// Second page resumes from the cursor alone.
	out, err = svc.ReadRange(context.Background(), id, "", "", out.Meta.NextCursor, 0)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"3", "30"}, {"4", "40"}}, out.Rows)
	require.NotEmpty(t, out.Meta.NextCursor)

	// Third page is the last.
	out, err = svc.ReadRange(context.Background(), id, "", "", out.Meta.NextCursor, 0)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"5", "50"}, {"6", "60"}}, out.Rows)
	require.Empty(t, out.Meta.NextCursor)
	require.False(t, out.Meta.Truncated)
}

func TestReadRangeCursorStaleAfterWrite(t *testing.T) {
	rows := [][]any{{"a"}, {"b"}, {"c"}}
	svc, id := newService(t, rows)

	out, err := svc.ReadRange(context.Background(), id, "Sheet1", "A1:A3", "", 1)
	require.NoError(t, err)
	require.NotEmpty(t, out.Meta.NextCursor)

	_, err = svc.ApplyWrite(context.Background(), id, "Sheet1", "A1:A1", [][]string{{"z"}})
	require.NoError(t, err)

	_, err = svc.ReadRange(context.Background(), id, "", "", out.Meta.NextCursor, 0)
	require.ErrorIs(t, err, ErrStaleCursor)
}

func TestPlanAndApplyWrite(t *testing.T) {
	svc, id := newService(t, [][]any{
		{"a", "b"},
		{"1", ""},
	})

	impact, err := svc.PlanWrite(context.Background(), id, "Sheet1", "A2:B3", [][]string{
		{"x", "y"},
		{"p", "q"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, impact.Rows)
	require.Equal(t, 2, impact.Cols)
	require.Equal(t, 4, impact.Cells)
	require.Equal(t, 1, impact.NonEmptyBefore)

	n, err := svc.ApplyWrite(context.Background(), id, "Sheet1", "A2:B3", [][]string{
		{"x", "y"},
		{"p", "q"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	out, err := svc.ReadRange(context.Background(), id, "Sheet1", "A2:B3", "", 0)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"x", "y"}, {"p", "q"}}, out.Rows)
}

func TestWriteShapeRejected(t *testing.T) {
	svc, id := newService(t, [][]any{{"a"}})

	_, err := svc.PlanWrite(context.Background(), id, "Sheet1", "A1:B2", [][]string{
		{"1", "2"}, {"3", "4"}, {"5", "6"},
	})
	require.ErrorContains(t, err, "rows")

	_, err = svc.PlanWrite(context.Background(), id, "Sheet1", "A1:A2", [][]string{
		{"1", "2"},
	})
	require.ErrorContains(t, err, "columns")
}

func TestSheetManagement(t *testing.T) {
	svc, id := newService(t, [][]any{{"a"}})
	ctx := context.Background()

	require.NoError(t, svc.AddSheet(ctx, id, "Extra"))
	require.Error(t, svc.AddSheet(ctx, id, "extra"), "case-insensitive duplicate")

	require.NoError(t, svc.CopySheet(ctx, id, "Sheet1", "Copy"))
	require.NoError(t, svc.RenameSheet(ctx, id, "Copy", "Renamed"))
	require.ErrorIs(t, svc.RenameSheet(ctx, id, "Ghost", "X"), ErrSheetNotFound)

	require.NoError(t, svc.DeleteSheet(ctx, id, "Extra"))
	require.NoError(t, svc.DeleteSheet(ctx, id, "Renamed"))
	require.Error(t, svc.DeleteSheet(ctx, id, "Sheet1"), "last sheet")

	out, err := svc.Structure(ctx, id, true)
	require.NoError(t, err)
	require.Len(t, out.Sheets, 1)
}

func TestResolveRangeForms(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{
		Name:     "SalesData",
		RefersTo: "Sheet1!$A$1:$C$4",
	}))

	rect, norm, err := ResolveRange(f, "Sheet1", "B2:a1")
	require.NoError(t, err)
	require.Equal(t, Rect{1, 1, 2, 2}, rect)
	require.Equal(t, "A1:B2", norm)

	rect, norm, err = ResolveRange(f, "Sheet1", "C3")
	require.NoError(t, err)
	require.Equal(t, Rect{3, 3, 3, 3}, rect)
	require.Equal(t, "C3:C3", norm)

	rect, norm, err = ResolveRange(f, "Sheet1", "SalesData")
	require.NoError(t, err)
	require.Equal(t, Rect{1, 1, 3, 4}, rect)
	require.Equal(t, "A1:C4", norm)

	_, _, err = ResolveRange(f, "Sheet1", "Other!A1:B2")
	require.Error(t, err)

	_, _, err = ResolveRange(f, "Sheet1", "not a range")
	require.Error(t, err)
}
