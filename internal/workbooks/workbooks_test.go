package workbooks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeGate implements WorkbookGate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireWorkbook(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseWorkbook() { g.releases.Add(1) }

func TestAdoptGetClose(t *testing.T) {
	gate := &fakeGate{}
	// Use a long TTL to avoid eviction in this test; disable background loop by not calling Start.
	m := NewManager(2*time.Second, time.Second, gate, time.Now)

	f := excelize.NewFile()
	id, err := m.Adopt(context.Background(), f)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, m.Count())

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, id, h.ID)

	// Close and ensure it is removed and capacity released.
	require.NoError(t, m.CloseHandle(context.Background(), id))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestTTLExpiryAndEviction(t *testing.T) {
	// Custom clock we can advance.
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, 5*time.Millisecond, gate, clock)

	_, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	// Advance time beyond TTL and evict.
	now.Store(time.Now().Add(200 * time.Millisecond).UnixNano())
	m.EvictExpired()

	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestWriteVersionBumpsOnSuccessfulWrite(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	v, ok := m.Version(id)
	require.True(t, ok)
	require.Equal(t, int64(1), v, "fresh handles start at version 1")

	require.NoError(t, m.WithWrite(id, func(f *excelize.File) error {
		return f.SetCellValue("Sheet1", "A1", "x")
	}))

	v, _ = m.Version(id)
	require.Equal(t, int64(2), v)

	// A failed write must not bump the version.
	wantErr := context.Canceled
	err = m.WithWrite(id, func(f *excelize.File) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	v, _ = m.Version(id)
	require.Equal(t, int64(2), v)

	// Readers observe the committed version.
	var seen int64 = -1
	require.NoError(t, m.WithRead(id, func(f *excelize.File, ver int64) error {
		seen = ver
		return nil
	}))
	require.Equal(t, int64(2), seen)
}

func TestReadWriteLocking(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	var r1Acq, r2Acq, wAcq sync.WaitGroup
	r1Acq.Add(1)
	r2Acq.Add(1)
	wAcq.Add(1)

	releaseR1 := make(chan struct{})
	releaseR2 := make(chan struct{})
	writeDone := make(chan struct{})

	// Reader 1
	go func() {
		err := m.WithRead(id, func(*excelize.File, int64) error {
			r1Acq.Done()
			<-releaseR1
			return nil
		})
		require.NoError(t, err)
	}()

	// Reader 2
	go func() {
		err := m.WithRead(id, func(*excelize.File, int64) error {
			r2Acq.Done()
			<-releaseR2
			return nil
		})
		require.NoError(t, err)
	}()

	// Writer (should block until both readers release)
	go func() {
		// Wait until both readers have acquired before attempting write
		r1Acq.Wait()
		r2Acq.Wait()
		err := m.WithWrite(id, func(*excelize.File) error {
			wAcq.Done()
			return nil
		})
		require.NoError(t, err)
		close(writeDone)
	}()

	// Ensure writer hasn't acquired yet
	ch := make(chan struct{})
	go func() { wAcq.Wait(); close(ch) }()
	select {
	case <-ch:
		t.Fatal("writer acquired lock while readers held it")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseR1)
	close(releaseR2)

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired lock after readers released")
	}
}

func TestGetUnknownHandle(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	_, ok := m.Get("nope")
	require.False(t, ok)

	err := m.WithRead("nope", func(*excelize.File, int64) error { return nil })
	require.ErrorIs(t, err, ErrHandleNotFound)
}
