package backup

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var now atomic.Int64
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }
	advance := func(d time.Duration) { now.Add(int64(d)) }
	return clock, advance
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSnapshotListRestore(t *testing.T) {
	dir := t.TempDir()
	clock, advance := testClock(time.Now())
	m, err := NewManager(filepath.Join(dir, "backups"), 5, time.Minute, clock)
	require.NoError(t, err)

	src := writeFile(t, dir, "book.xlsx", "v1")

	snap, err := m.Snapshot(src)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.SizeBytes)
	require.FileExists(t, snap.Path)

	// Mutate the source, snapshot again.
	advance(time.Second)
	require.NoError(t, os.WriteFile(src, []byte("v2-longer"), 0o644))
	snap2, err := m.Snapshot(src)
	require.NoError(t, err)

	list, err := m.List(src)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, snap2.ID, list[0].ID, "newest first")
	require.Equal(t, snap.ID, list[1].ID)

	// Restore the first snapshot over the mutated source.
	_, err = m.Restore(src, snap.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	_, err = m.Restore(src, "nope")
	require.ErrorContains(t, err, "no snapshot")
}

func TestSnapshotPrune(t *testing.T) {
	dir := t.TempDir()
	clock, advance := testClock(time.Now())
	m, err := NewManager(filepath.Join(dir, "backups"), 2, time.Minute, clock)
	require.NoError(t, err)

	src := writeFile(t, dir, "book.xlsx", "data")
	for i := 0; i < 4; i++ {
		_, err := m.Snapshot(src)
		require.NoError(t, err)
		advance(time.Second)
	}

	list, err := m.List(src)
	require.NoError(t, err)
	require.Len(t, list, 2, "per-file cap enforced")
}

func TestSnapshotsIsolatedPerFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "backups"), 5, time.Minute, nil)
	require.NoError(t, err)

	a := writeFile(t, dir, "a.xlsx", "a")
	b := writeFile(t, dir, "b.xlsx", "b")
	_, err = m.Snapshot(a)
	require.NoError(t, err)
	_, err = m.Snapshot(b)
	require.NoError(t, err)

	list, err := m.List(a)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestStageConfirmSingleUse(t *testing.T) {
	clock, _ := testClock(time.Now())
	m, err := NewManager(t.TempDir(), 5, time.Minute, clock)
	require.NoError(t, err)

	token := m.Stage(StagedWrite{
		WorkbookID: "wb-1",
		Sheet:      "Sheet1",
		Range:      "A1:B2",
		Values:     [][]string{{"x"}},
		Version:    3,
	})

	w, err := m.Confirm(token, "wb-1", 3)
	require.NoError(t, err)
	require.Equal(t, "Sheet1", w.Sheet)
	require.Equal(t, "A1:B2", w.Range)

	// Second use fails.
	_, err = m.Confirm(token, "wb-1", 3)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirmExpired(t *testing.T) {
	clock, advance := testClock(time.Now())
	m, err := NewManager(t.TempDir(), 5, time.Minute, clock)
	require.NoError(t, err)

	token := m.Stage(StagedWrite{WorkbookID: "wb-1", Version: 1})
	advance(2 * time.Minute)
	_, err = m.Confirm(token, "wb-1", 1)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestConfirmStaleVersion(t *testing.T) {
	clock, _ := testClock(time.Now())
	m, err := NewManager(t.TempDir(), 5, time.Minute, clock)
	require.NoError(t, err)

	// Another write bumped the workbook version after staging.
	token := m.Stage(StagedWrite{WorkbookID: "wb-1", Version: 2})
	_, err = m.Confirm(token, "wb-1", 3)
	require.ErrorIs(t, err, ErrTokenStale)
}

func TestConfirmWrongWorkbook(t *testing.T) {
	m, err := NewManager(t.TempDir(), 5, time.Minute, nil)
	require.NoError(t, err)

	token := m.Stage(StagedWrite{WorkbookID: "wb-1", Version: 1})
	_, err = m.Confirm(token, "wb-2", 1)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestSweepExpired(t *testing.T) {
	clock, advance := testClock(time.Now())
	m, err := NewManager(t.TempDir(), 5, time.Second, clock)
	require.NoError(t, err)

	token := m.Stage(StagedWrite{WorkbookID: "wb-1", Version: 1})
	advance(2 * time.Second)
	m.SweepExpired()
	_, err = m.Confirm(token, "wb-1", 1)
	require.ErrorIs(t, err, ErrTokenNotFound)
}
