package workbooks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpsheets/mcpsheets/config"
	"github.com/xuri/excelize/v2"
)

// Handle represents an in-memory workbook reference paired with metadata for
// TTL eviction. Version counts committed writes through this handle; cursors
// and staged-write confirmations snapshot it to detect concurrent edits.
type Handle struct {
	ID        string
	Path      string
	File      *excelize.File
	LoadedAt  time.Time
	ExpiresAt time.Time
	version   int64
	mu        sync.RWMutex
}

// WorkbookGate coordinates capacity for open workbook handles (backed by runtime.Controller).
type WorkbookGate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator abstracts filesystem path validation. Implementations should
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Manager provides lifecycle hooks for opening and closing workbooks and a
// stateless handle cache indexed by both handle ID and canonical path.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	byPath       map[string]string
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         WorkbookGate
	stopCh       chan struct{}
	cleanupWG    sync.WaitGroup
	validator    PathValidator
}

// ErrHandleNotFound indicates an unknown or expired handle ID.
var ErrHandleNotFound = errors.New("workbooks: handle not found")

// NewManager constructs a lifecycle manager with TTL-bearing handle cache.
// Pass ttl or cleanupEvery <= 0 to use defaults from config.
// Gate can be nil for tests; clock defaults to time.Now when nil.
func NewManager(ttl, cleanupEvery time.Duration, gate WorkbookGate, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultWorkbookIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultWorkbookCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		byPath:       make(map[string]string),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
	}
}

// WithValidator installs a path validator consulted by Open and GetOrOpenByPath.
func (m *Manager) WithValidator(v PathValidator) *Manager {
	m.validator = v
	return m
}

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and closes all open handles.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		// block until we can close; best-effort cleanup
		h.mu.Lock()
		_ = h.File.Close()
		h.mu.Unlock()
		delete(m.handles, id)
		delete(m.byPath, h.Path)
		if m.gate != nil {
			m.gate.ReleaseWorkbook()
		}
	}
	return nil
}

// Open opens a workbook from the given path, registers a TTL-bearing handle,
// and returns its ID. The manager enforces open-workbook capacity via the
// gate when provided.
func (m *Manager) Open(ctx context.Context, path string) (string, error) {
	id, _, err := m.GetOrOpenByPath(ctx, path)
	return id, err
}

// GetOrOpenByPath returns an existing handle for the canonical path when one
// is cached, or opens the workbook and registers a new handle. It returns the
// handle ID and the canonical path.
func (m *Manager) GetOrOpenByPath(ctx context.Context, path string) (string, string, error) {
	canonical := path
	if m.validator != nil {
		c, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", "", err
		}
		canonical = c
	} else {
		// Basic format validation when no validator is installed (tests).
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".xlsx", ".xlsm", ".xltx", ".xltm":
		default:
			return "", "", fmt.Errorf("workbooks: unsupported format: %s", ext)
		}
	}

	m.mu.RLock()
	id, ok := m.byPath[canonical]
	m.mu.RUnlock()
	if ok {
		if _, live := m.Get(id); live {
			return id, canonical, nil
		}
	}

	if err := m.acquire(ctx); err != nil {
		return "", "", err
	}
	f, err := excelize.OpenFile(canonical)
	if err != nil {
		m.release()
		return "", "", err
	}
	h, err := m.register(canonical, f)
	if err != nil {
		_ = f.Close()
		m.release()
		return "", "", err
	}
	return h.ID, canonical, nil
}

// Adopt registers an existing excelize.File as a managed handle. Intended for
// tests or advanced flows; the handle carries no path index entry.
func (m *Manager) Adopt(ctx context.Context, f *excelize.File) (string, error) {
	if f == nil {
		return "", fmt.Errorf("workbooks: nil file")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	h, err := m.register("", f)
	if err != nil {
		m.release()
		return "", err
	}
	return h.ID, nil
}

func (m *Manager) register(path string, f *excelize.File) (*Handle, error) {
	if f == nil {
		return nil, fmt.Errorf("workbooks: nil excelize file")
	}
	now := m.clock()
	h := &Handle{
		ID:        uuid.NewString(),
		Path:      path,
		File:      f,
		LoadedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		// Write-versions start at 1 so a zero value can mean "unknown"
		// in cursors and confirmation tokens.
		version: 1,
	}
	m.mu.Lock()
	m.handles[h.ID] = h
	if path != "" {
		m.byPath[path] = h.ID
	}
	m.mu.Unlock()
	return h, nil
}

// Get returns the handle when present and refreshes its TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Refresh TTL on access (idle timeout semantics)
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// PathOf returns the canonical path backing a handle, when known.
func (m *Manager) PathOf(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return "", false
	}
	return h.Path, h.Path != ""
}

// Version returns the current write-version of a handle.
func (m *Manager) Version(id string) (int64, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version, true
}

// WithRead obtains a shared read lock for the handle and executes fn with the
// file and the write-version observed under that lock.
func (m *Manager) WithRead(id string, fn func(*excelize.File, int64) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.File, h.version)
}

// WithWrite obtains an exclusive write lock for the handle and executes fn.
// The write-version is bumped when fn succeeds.
func (m *Manager) WithWrite(id string, fn func(*excelize.File) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(h.File); err != nil {
		return err
	}
	h.version++
	return nil
}

// CloseHandle closes and removes a handle by ID, releasing capacity via the gate.
func (m *Manager) CloseHandle(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
		delete(m.byPath, h.Path)
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	// Ensure no other readers/writers are inside the workbook.
	h.mu.Lock()
	err := h.File.Close()
	h.mu.Unlock()
	m.release()
	return err
}

// EvictExpired scans for expired handles and closes them.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expired []*Handle

	m.mu.RLock()
	for _, h := range m.handles {
		h.mu.RLock()
		isExpired := now.After(h.ExpiresAt)
		h.mu.RUnlock()
		if isExpired {
			expired = append(expired, h)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	// Close outside of read lock; remove from maps under write lock.
	for _, h := range expired {
		// block until safe to close
		h.mu.Lock()
		_ = h.File.Close()
		h.mu.Unlock()

		m.mu.Lock()
		delete(m.handles, h.ID)
		delete(m.byPath, h.Path)
		m.mu.Unlock()
		m.release()
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireWorkbook(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseWorkbook()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return now.After(h.ExpiresAt)
}
