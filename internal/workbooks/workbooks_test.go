package workbooks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type countingGate struct {
	err      error
	acquires atomic.Int64
	releases atomic.Int64
}

func (g *countingGate) AcquireWorkbook(context.Context) error {
	g.acquires.Add(1)
	return g.err
}

func (g *countingGate) ReleaseWorkbook() { g.releases.Add(1) }

var errDenied = errors.New("denied")

type denyAll struct{}

func (denyAll) ValidateOpenPath(string) (string, error)  { return "", errDenied }
func (denyAll) ValidateWritePath(string) (string, error) { return "", errDenied }

func leadsFile(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"status", "login_type"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"3 - Codice Fiscale OK", "Google"}))
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestAdopt_GetAndCloseHandle(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil)

	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, Stats{Open: 1}, m.Stats())

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, id, h.ID)
	require.Empty(t, h.Path)

	require.NoError(t, m.CloseHandle(context.Background(), id))
	require.ErrorIs(t, m.CloseHandle(context.Background(), id), ErrHandleNotFound)
	require.Zero(t, m.Stats().Open)
	require.EqualValues(t, 1, gate.acquires.Load())
	require.EqualValues(t, 1, gate.releases.Load())

	_, err = m.Adopt(context.Background(), nil)
	require.Error(t, err)
}

func TestEvictExpired_FollowsClock(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2019, 9, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, clock)
	stale, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	now.Add(int64(45 * time.Second))
	fresh, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	// stale is past its ttl, fresh is not
	now.Add(int64(30 * time.Second))
	m.EvictExpired()

	_, ok := m.Get(stale)
	require.False(t, ok)
	_, ok = m.Get(fresh)
	require.True(t, ok)
	require.EqualValues(t, 1, gate.releases.Load())
	require.ErrorIs(t, m.WithRead(stale, func(*excelize.File, int64) error { return nil }), ErrHandleNotFound)
}

func TestGet_RestartsTTL(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2019, 9, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(time.Minute, time.Minute, nil, clock)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	for range 3 {
		now.Add(int64(40 * time.Second))
		_, ok := m.Get(id)
		require.True(t, ok)
		m.EvictExpired()
	}
	require.Equal(t, 1, m.Stats().Open)
}

func TestWithWrite_WaitsForReaders(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	var reading sync.WaitGroup
	reading.Add(2)
	hold := make(chan struct{})
	for range 2 {
		go func() {
			_ = m.WithRead(id, func(*excelize.File, int64) error {
				reading.Done()
				<-hold
				return nil
			})
		}()
	}
	reading.Wait()

	wrote := make(chan error, 1)
	go func() { wrote <- m.WithWrite(id, func(*excelize.File) error { return nil }) }()

	select {
	case <-wrote:
		t.Fatal("write ran while readers held the workbook")
	case <-time.After(30 * time.Millisecond):
	}
	close(hold)
	require.NoError(t, <-wrote)
}

func TestWithWrite_BumpsVersionOnSuccess(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	var before int64
	require.NoError(t, m.WithRead(id, func(_ *excelize.File, v int64) error { before = v; return nil }))
	require.NoError(t, m.WithWrite(id, func(*excelize.File) error { return nil }))

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, before+1, h.Version())

	require.Error(t, m.WithWrite(id, func(*excelize.File) error { return errors.New("boom") }))
	require.Equal(t, before+1, h.Version())
}

func TestOpen_RejectsBeforeTakingASlot(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil)
	_, err := m.Open(context.Background(), "leads.csv")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	denied := NewManager(time.Minute, time.Minute, gate, nil, WithValidator(denyAll{}))
	_, err = denied.Open(context.Background(), "leads.xlsx")
	require.ErrorIs(t, err, errDenied)

	require.Zero(t, gate.acquires.Load())
}

func TestOpen_GateBusy(t *testing.T) {
	gate := &countingGate{err: context.DeadlineExceeded}
	m := NewManager(time.Minute, time.Minute, gate, nil)

	_, err := m.Open(context.Background(), leadsFile(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, gate.acquires.Load())
	require.Zero(t, gate.releases.Load())
	require.Zero(t, m.Stats().Open)
}

func TestOpen_MissingFileReleasesSlot(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil)

	_, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "gone.xlsx"))
	require.Error(t, err)
	require.EqualValues(t, 1, gate.acquires.Load())
	require.EqualValues(t, 1, gate.releases.Load())
}

func TestGetOrOpenByPath_ReusesHandle(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil)
	path := leadsFile(t)

	id, resolved, err := m.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(resolved))

	again, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, Stats{Open: 1, FileBound: 1}, m.Stats())
	require.EqualValues(t, 1, gate.acquires.Load())

	require.NoError(t, m.CloseHandle(context.Background(), id))
	next, _, err := m.GetOrOpenByPath(context.Background(), path)
	require.NoError(t, err)
	require.NotEqual(t, id, next)
}

func TestGetOrOpenByPath_ConcurrentCallersShareOneOpen(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil)
	path := leadsFile(t)

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := m.GetOrOpenByPath(context.Background(), path)
			if err == nil {
				ids[i] = id
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.EqualValues(t, 1, gate.acquires.Load())
	require.Equal(t, 1, m.Stats().Open)
}

func TestClose_ReleasesEverySlot(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, 5*time.Millisecond, gate, nil)
	m.Start()

	_, err := m.Open(context.Background(), leadsFile(t))
	require.NoError(t, err)
	_, err = m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background()))
	require.Zero(t, m.Stats().Open)
	require.EqualValues(t, 2, gate.releases.Load())
}

func TestSave_PersistsExport(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil)
	path := leadsFile(t)

	id, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, m.WithWrite(id, func(f *excelize.File) error {
		_, err := f.NewSheet("Funnel")
		return err
	}))
	require.NoError(t, m.Save(id))
	require.NoError(t, m.Close(context.Background()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	idx, err := f.GetSheetIndex("Funnel")
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, 0)
}

func TestSave_Refusals(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil)
	id, err := m.Adopt(context.Background(), excelize.NewFile())
	require.NoError(t, err)
	require.ErrorIs(t, m.Save(id), ErrNoPath)
	require.ErrorIs(t, m.Save("missing"), ErrHandleNotFound)
}
