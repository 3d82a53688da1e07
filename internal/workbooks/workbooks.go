package workbooks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vinodismyname/leadfunnel/config"
)

var (
	// ErrHandleNotFound indicates an unknown, closed or evicted handle ID.
	ErrHandleNotFound = errors.New("workbooks: handle not found")
	// ErrUnsupportedFormat indicates a path without a workbook extension.
	ErrUnsupportedFormat = errors.New("workbooks: unsupported format")
	// ErrNoPath indicates a save on a handle that was adopted rather than opened from disk.
	ErrNoPath = errors.New("workbooks: handle has no backing path")
)

// Gate bounds how many workbooks may be open at once; runtime.Controller implements it.
type Gate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator resolves paths against the filesystem allow-list.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
	ValidateWritePath(path string) (string, error)
}

// Handle is one open lead workbook. Readers share it; exports take it exclusively and bump
// its version so page cursors notice the edit.
type Handle struct {
	ID   string
	Path string

	mu      sync.RWMutex
	file    *excelize.File
	version int64

	// expiresAt holds unix nanoseconds and is read without mu.
	expiresAt atomic.Int64
}

// Version returns the number of completed writes.
func (h *Handle) Version() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Expired reports whether the handle has been idle past its TTL at now.
func (h *Handle) Expired(now time.Time) bool {
	return now.UnixNano() > h.expiresAt.Load()
}

func (h *Handle) touch(deadline time.Time) {
	h.expiresAt.Store(deadline.UnixNano())
}

// Option customizes a Manager.
type Option func(*Manager)

// WithValidator routes every open and save through v.
func WithValidator(v PathValidator) Option {
	return func(m *Manager) { m.validator = v }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager caches open workbooks by handle ID and by resolved path, evicting handles that
// stay idle longer than the TTL.
type Manager struct {
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	validator    PathValidator
	log          zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	byPath  map[string]string
	opening singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup
}

// NewManager returns a manager; ttl and cleanupEvery <= 0 select the config defaults, a nil
// gate disables capacity limits and a nil clock means time.Now.
func NewManager(ttl, cleanupEvery time.Duration, gate Gate, clock func() time.Time, opts ...Option) *Manager {
	m := &Manager{
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		log:          zerolog.Nop(),
		handles:      make(map[string]*Handle),
		byPath:       make(map[string]string),
		stop:         make(chan struct{}),
	}
	if m.ttl <= 0 {
		m.ttl = config.DefaultWorkbookIdleTTL
	}
	if m.cleanupEvery <= 0 {
		m.cleanupEvery = config.DefaultWorkbookCleanupPeriod
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start runs idle eviction every cleanupEvery until Close.
func (m *Manager) Start() {
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		t := time.NewTicker(m.cleanupEvery)
		defer t.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops eviction and closes every handle. Unsaved exports are discarded.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	stopped := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	all := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		all = append(all, h)
	}
	m.handles = make(map[string]*Handle)
	m.byPath = make(map[string]string)
	m.mu.Unlock()

	var errs []error
	for _, h := range all {
		errs = append(errs, m.shut(h))
	}
	return errors.Join(errs...)
}

// Open opens the workbook at path, or returns the handle already caching it.
func (m *Manager) Open(ctx context.Context, path string) (string, error) {
	id, _, err := m.GetOrOpenByPath(ctx, path)
	return id, err
}

// GetOrOpenByPath returns the handle ID caching path and the resolved path, opening the file
// on a miss. Concurrent calls for the same file share one open.
func (m *Manager) GetOrOpenByPath(ctx context.Context, path string) (string, string, error) {
	resolved, err := m.resolve(path)
	if err != nil {
		return "", "", err
	}
	v, err, _ := m.opening.Do(resolved, func() (any, error) {
		if id, ok := m.cached(resolved); ok {
			return id, nil
		}
		return m.openFile(ctx, resolved)
	})
	if err != nil {
		return "", "", err
	}
	return v.(string), resolved, nil
}

func (m *Manager) resolve(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if m.validator != nil {
		return m.validator.ValidateOpenPath(path)
	}
	return filepath.Abs(path)
}

func (m *Manager) cached(resolved string) (string, bool) {
	m.mu.RLock()
	id, ok := m.byPath[resolved]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	_, live := m.Get(id)
	return id, live
}

func (m *Manager) openFile(ctx context.Context, resolved string) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	f, err := excelize.OpenFile(resolved)
	if err != nil {
		m.release()
		return "", fmt.Errorf("workbooks: open %s: %w", filepath.Base(resolved), err)
	}
	h := m.register(f, resolved)
	m.log.Debug().Str("workbook_id", h.ID).Str("path", resolved).Msg("workbook opened")
	return h.ID, nil
}

// Adopt manages an in-memory workbook that has no backing file; Save reports ErrNoPath.
func (m *Manager) Adopt(ctx context.Context, f *excelize.File) (string, error) {
	if f == nil {
		return "", errors.New("workbooks: nil file")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	return m.register(f, "").ID, nil
}

func (m *Manager) register(f *excelize.File, path string) *Handle {
	h := &Handle{ID: uuid.NewString(), Path: path, file: f}
	h.touch(m.clock().Add(m.ttl))
	m.mu.Lock()
	m.handles[h.ID] = h
	if path != "" {
		m.byPath[path] = h.ID
	}
	m.mu.Unlock()
	return h
}

// Get returns the handle and restarts its idle TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h.touch(m.clock().Add(m.ttl))
	return h, true
}

// WithRead runs fn under the handle's shared lock, passing the current write version.
func (m *Manager) WithRead(id string, fn func(*excelize.File, int64) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.file, h.version)
}

// WithWrite runs fn under the handle's exclusive lock; success bumps the version.
func (m *Manager) WithWrite(id string, fn func(*excelize.File) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(h.file); err != nil {
		return err
	}
	h.version++
	return nil
}

// Save writes the workbook back to its path after re-checking it as a write target.
func (m *Manager) Save(id string) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	if h.Path == "" {
		return ErrNoPath
	}
	target := h.Path
	if m.validator != nil {
		var err error
		if target, err = m.validator.ValidateWritePath(h.Path); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.SaveAs(target); err != nil {
		return fmt.Errorf("workbooks: save %s: %w", filepath.Base(target), err)
	}
	m.log.Debug().Str("workbook_id", id).Str("path", target).Msg("workbook saved")
	return nil
}

// CloseHandle closes one handle and frees its slot.
func (m *Manager) CloseHandle(ctx context.Context, id string) error {
	h, ok := m.forget(func(h *Handle) bool { return h.ID == id })
	if !ok {
		return ErrHandleNotFound
	}
	return m.shut(h[0])
}

// EvictExpired closes every handle idle past its TTL.
func (m *Manager) EvictExpired() {
	now := m.clock()
	expired, _ := m.forget(func(h *Handle) bool { return h.Expired(now) })
	for _, h := range expired {
		if err := m.shut(h); err != nil {
			m.log.Warn().Err(err).Str("workbook_id", h.ID).Msg("closing evicted workbook")
			continue
		}
		m.log.Debug().Str("workbook_id", h.ID).Msg("workbook evicted after idle ttl")
	}
}

// forget unregisters the handles matching pick and reports whether any did.
func (m *Manager) forget(pick func(*Handle) bool) ([]*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Handle
	for id, h := range m.handles {
		if !pick(h) {
			continue
		}
		delete(m.handles, id)
		if h.Path != "" && m.byPath[h.Path] == id {
			delete(m.byPath, h.Path)
		}
		out = append(out, h)
	}
	return out, len(out) > 0
}

// shut waits for in-flight readers and writers, closes the file and frees the slot.
func (m *Manager) shut(h *Handle) error {
	h.mu.Lock()
	err := h.file.Close()
	h.mu.Unlock()
	m.release()
	return err
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Open      int `json:"open"`
	FileBound int `json:"file_bound"`
}

// Stats counts open handles and those backed by a file.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Open: len(m.handles), FileBound: len(m.byPath)}
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireWorkbook(ctx)
}

func (m *Manager) release() {
	if m.gate != nil {
		m.gate.ReleaseWorkbook()
	}
}
