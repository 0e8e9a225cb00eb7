package diff

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

func newService(t *testing.T, sheetRows map[string][][]any) (*Service, string) {
	t.Helper()
	f := excelize.NewFile()
	for sheet, rows := range sheetRows {
		if sheet != "Sheet1" {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &row))
		}
	}
	path := filepath.Join(t.TempDir(), "diff.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	mgr := workbooks.NewManager(time.Minute, time.Minute, nopGate{}, time.Now)
	id, _, err := mgr.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	return &Service{Limits: runtime.NewLimits(0, 0), Mgr: mgr}, id
}

func TestPositionalDiff(t *testing.T) {
	svc, id := newService(t, map[string][][]any{
		"Sheet1": {
			{"a", "b"},
			{"1", "2"},
			{"3", "4"},
		},
		"After": {
			{"a", "b"},
			{"1", "9"},
			{"3", "4"},
		},
	})
	out, err := svc.Diff(context.Background(), id, "Sheet1", "A1:B3", "After", "A1:B3", 0)
	require.NoError(t, err)
	require.False(t, out.Identical)
	require.Equal(t, []CellChange{{Row: 2, Column: 2, Before: "2", After: "9"}}, out.CellChanges)
}

func TestPositionalDiffIdentical(t *testing.T) {
	svc, id := newService(t, map[string][][]any{
		"Sheet1": {{"x", "y"}, {"1", "2"}},
	})
	out, err := svc.Diff(context.Background(), id, "Sheet1", "A1:B2", "Sheet1", "A1:B2", 0)
	require.NoError(t, err)
	require.True(t, out.Identical)
	require.Empty(t, out.CellChanges)
}

func TestPositionalDiffExtraRows(t *testing.T) {
	svc, id := newService(t, map[string][][]any{
		"Sheet1": {{"1"}, {"2"}, {"3"}},
	})
	out, err := svc.Diff(context.Background(), id, "Sheet1", "A1:A3", "Sheet1", "A1:A2", 0)
	require.NoError(t, err)
	require.False(t, out.Identical)
	require.Equal(t, 1, out.ExtraRowsA)
	require.Equal(t, 0, out.ExtraRowsB)
}

func TestKeyedDiff(t *testing.T) {
	svc, id := newService(t, map[string][][]any{
		"Before": {
			{"sku", "qty", "price"},
			{"w-1", "3", "2.50"},
			{"w-2", "9", "4.00"},
			{"w-3", "1", "1.00"},
		},
		"After": {
			{"sku", "qty", "price"},
			{"w-1", "3", "2.75"},
			{"w-3", "1", "1.00"},
			{"w-4", "5", "9.99"},
		},
	})
	out, err := svc.Diff(context.Background(), id, "Before", "A1:C4", "After", "A1:C4", 1)
	require.NoError(t, err)
	require.True(t, out.Keyed)
	require.False(t, out.Identical)
	require.Equal(t, []string{"w-4"}, out.Added)
	require.Equal(t, []string{"w-2"}, out.Removed)
	require.Len(t, out.Changed, 1)
	require.Equal(t, "w-1", out.Changed[0].Key)
	require.Equal(t, []FieldChange{
		{Column: "price", Before: "2.50", After: "2.75"},
	}, out.Changed[0].Changes)
}

func TestKeyedDiffDuplicateKey(t *testing.T) {
	svc, id := newService(t, map[string][][]any{
		"Sheet1": {
			{"id", "v"},
			{"k", "1"},
			{"k", "2"},
		},
	})
	_, err := svc.Diff(context.Background(), id, "Sheet1", "A1:B3", "Sheet1", "A1:B3", 1)
	require.ErrorContains(t, err, "duplicate key")
}

func TestDiffUnknownSheet(t *testing.T) {
	svc, id := newService(t, map[string][][]any{"Sheet1": {{"x"}}})
	_, err := svc.Diff(context.Background(), id, "Ghost", "A1:A1", "Sheet1", "A1:A1", 0)
	require.ErrorIs(t, err, sheets.ErrSheetNotFound)
}

func TestDiffRangeTooLarge(t *testing.T) {
	svc, id := newService(t, map[string][][]any{"Sheet1": {{"x"}}})
	svc.Limits.MaxCellsPerOp = 4
	_, err := svc.Diff(context.Background(), id, "Sheet1", "A1:C3", "Sheet1", "A1:C3", 0)
	require.ErrorContains(t, err, "exceeds limit")
}
