package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const snapshotExt = ".bak"

var (
	// ErrTokenNotFound marks an unknown or already consumed confirmation token.
	ErrTokenNotFound = errors.New("confirmation token not found or already used")
	// ErrTokenExpired marks a confirmation token past its TTL.
	ErrTokenExpired = errors.New("confirmation token expired")
	// ErrTokenStale marks a token issued against an older workbook version.
	ErrTokenStale = errors.New("workbook changed since the write was staged: stage it again")
)

// SnapshotInfo describes one on-disk snapshot of a workbook file.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path" jsonschema_description:"Snapshot file location"`
	Source    string    `json:"source" jsonschema_description:"Workbook file the snapshot was taken from"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// StagedWrite is a pending write held behind a confirmation token.
type StagedWrite struct {
	WorkbookID string
	Sheet      string
	Range      string
	Values     [][]string
	Version    int64
	ExpiresAt  time.Time
}

// Manager owns the snapshot directory and the staged-write token table.
// Tokens are single-use, TTL-bound, and pinned to the workbook write-version
// observed at staging time.
type Manager struct {
	dir        string
	maxPerFile int
	tokenTTL   time.Duration
	clock      func() time.Time

	mu     sync.Mutex
	staged map[string]StagedWrite
}

// NewManager prepares a snapshot manager rooted at dir, creating it when
// missing.
func NewManager(dir string, maxPerFile int, tokenTTL time.Duration, clock func() time.Time) (*Manager, error) {
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Manager{
		dir:        dir,
		maxPerFile: maxPerFile,
		tokenTTL:   tokenTTL,
		clock:      clock,
		staged:     map[string]StagedWrite{},
	}, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// Snapshot copies the workbook file into the snapshot directory and prunes
// old snapshots beyond the per-file cap.
func (m *Manager) Snapshot(sourcePath string) (SnapshotInfo, error) {
	var info SnapshotInfo
	src, err := os.Open(sourcePath)
	if err != nil {
		return info, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	id := uuid.NewString()[:8]
	now := m.clock()
	name := fmt.Sprintf("%s__%d__%s%s", filepath.Base(sourcePath), now.UnixNano(), id, snapshotExt)
	dest := filepath.Join(m.dir, name)

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return info, fmt.Errorf("create snapshot: %w", err)
	}
	size, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return info, fmt.Errorf("write snapshot: %w", err)
	}

	if err := m.prune(filepath.Base(sourcePath)); err != nil {
		return info, err
	}
	return SnapshotInfo{
		ID:        id,
		Path:      dest,
		Source:    sourcePath,
		CreatedAt: now,
		SizeBytes: size,
	}, nil
}

// List returns snapshots of the given workbook file, newest first.
func (m *Manager) List(sourcePath string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(sourcePath) + "__"
	var out []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		info, ok := parseSnapshotName(m.dir, e.Name(), sourcePath)
		if !ok {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore copies the identified snapshot back over the workbook file. The
// caller is responsible for holding the workbook write lock and reloading
// the handle afterwards.
func (m *Manager) Restore(sourcePath, snapshotID string) (SnapshotInfo, error) {
	snaps, err := m.List(sourcePath)
	if err != nil {
		return SnapshotInfo{}, err
	}
	for _, snap := range snaps {
		if snap.ID != snapshotID {
			continue
		}
		data, err := os.ReadFile(snap.Path)
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("read snapshot: %w", err)
		}
		if err := os.WriteFile(sourcePath, data, 0o644); err != nil {
			return SnapshotInfo{}, fmt.Errorf("restore: %w", err)
		}
		return snap, nil
	}
	return SnapshotInfo{}, fmt.Errorf("no snapshot %q for %s", snapshotID, filepath.Base(sourcePath))
}

// Stage records a pending write and returns its single-use token.
func (m *Manager) Stage(w StagedWrite) string {
	token := uuid.NewString()
	w.ExpiresAt = m.clock().Add(m.tokenTTL)
	m.mu.Lock()
	m.staged[token] = w
	m.mu.Unlock()
	return token
}

// Confirm consumes a token and returns the staged write. The token must
// exist, be unexpired, match the workbook, and carry the workbook's current
// write-version; any other write since staging invalidates it.
func (m *Manager) Confirm(token, workbookID string, currentVersion int64) (StagedWrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.staged[token]
	if !ok {
		return StagedWrite{}, ErrTokenNotFound
	}
	delete(m.staged, token)

	if m.clock().After(w.ExpiresAt) {
		return StagedWrite{}, ErrTokenExpired
	}
	if w.WorkbookID != workbookID {
		return StagedWrite{}, ErrTokenNotFound
	}
	if w.Version != currentVersion {
		return StagedWrite{}, ErrTokenStale
	}
	return w, nil
}

// SweepExpired drops expired tokens. Called opportunistically from staging
// paths; there is no background goroutine.
func (m *Manager) SweepExpired() {
	now := m.clock()
	m.mu.Lock()
	for token, w := range m.staged {
		if now.After(w.ExpiresAt) {
			delete(m.staged, token)
		}
	}
	m.mu.Unlock()
}

// prune removes the oldest snapshots of a file beyond the per-file cap.
func (m *Manager) prune(base string) error {
	if m.maxPerFile <= 0 {
		return nil
	}
	snaps, err := m.List(base)
	if err != nil {
		return err
	}
	for i := m.maxPerFile; i < len(snaps); i++ {
		if err := os.Remove(snaps[i].Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// parseSnapshotName decodes "<base>__<unixnano>__<id>.bak".
func parseSnapshotName(dir, name, source string) (SnapshotInfo, bool) {
	trimmed := strings.TrimSuffix(name, snapshotExt)
	parts := strings.Split(trimmed, "__")
	if len(parts) < 3 {
		return SnapshotInfo{}, false
	}
	id := parts[len(parts)-1]
	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return SnapshotInfo{}, false
	}
	path := filepath.Join(dir, name)
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}
	return SnapshotInfo{
		ID:        id,
		Path:      path,
		Source:    source,
		CreatedAt: time.Unix(0, nanos),
		SizeBytes: size,
	}, true
}
