package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versekeep/versekeep/internal/domain"
	"github.com/versekeep/versekeep/internal/event"
	"github.com/versekeep/versekeep/internal/store"
)

// fakeTransport is a scripted transfer: each value sent on steps is a byte
// delta reported through onProgress; closing steps ends the transfer with
// failWith (nil for success). Sends synchronize the test with the transfer
// goroutine. With ignoreCtx set the transfer keeps reading past a
// cancellation, like a real transport whose final read races the cancel.
type fakeTransport struct {
	mu        sync.Mutex
	total     int64
	resume    bool
	ignoreCtx bool
	failWith  error
	steps     chan int64
	offsets   []int64
	deleted   []string
}

func newFakeTransport(total int64) *fakeTransport {
	return &fakeTransport{total: total, resume: true, steps: make(chan int64)}
}

func (f *fakeTransport) Fetch(ctx context.Context, itemID string, offset int64, onProgress domain.TransferProgressFunc) error {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()

	downloaded := offset
	for {
		select {
		case <-f.ctxDone(ctx, ignoreCtx):
			return ctx.Err()
		case n, ok := <-f.steps:
			if !ok {
				f.mu.Lock()
				defer f.mu.Unlock()
				return f.failWith
			}
			downloaded += n
			onProgress(downloaded, f.total)
		}
	}
}

// ctxDone hides the context's done channel when the transfer ignores
// cancellation.
func (f *fakeTransport) ctxDone(ctx context.Context, ignore bool) <-chan struct{} {
	if ignore {
		return nil
	}
	return ctx.Done()
}

func (f *fakeTransport) SupportsResume() bool { return f.resume }

func (f *fakeTransport) Delete(itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeTransport) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeTransport) deletedItems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type markerCall struct {
	itemID     string
	downloaded bool
	progress   float64
}

type fakeMarker struct {
	mu    sync.Mutex
	calls []markerCall
}

func (f *fakeMarker) SetItemDownloadState(itemID string, downloaded bool, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, markerCall{itemID, downloaded, progress})
	return nil
}

func (f *fakeMarker) last() (markerCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return markerCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

func newTestManager(t *testing.T, transport *fakeTransport) (*Manager, *fakeMarker, *event.Bus) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := event.NewBus()
	t.Cleanup(bus.Close)

	marker := &fakeMarker{}
	m := NewManager(s, transport, bus, nil)
	m.SetMarker(marker)
	t.Cleanup(m.Stop)
	return m, marker, bus
}

func waitForStatus(t *testing.T, m *Manager, itemID string, want domain.DownloadStatus) domain.LibraryDownload {
	t.Helper()
	var rec domain.LibraryDownload
	require.Eventually(t, func() bool {
		got, err := m.Status(itemID)
		if err != nil {
			return false
		}
		rec = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for status %s", want)
	return rec
}

func TestStartCreatesPendingRecord(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	rec, err := m.Start("item-1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "item-1", rec.ItemID)
	assert.Equal(t, domain.DownloadStatusPending, rec.Status)
	assert.False(t, rec.StartedAt.IsZero())
}

func TestStartIsIdempotent(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	first, err := m.Start("item-1")
	require.NoError(t, err)

	second, err := m.Start("item-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "no duplicate record for the same item")

	records, err := m.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProgressIsPersisted(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)

	transport.steps <- 50
	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)
	require.Eventually(t, func() bool {
		rec, _ = m.Status("item-1")
		return rec.Progress == 0.5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(50), rec.DownloadedBytes)
	assert.Equal(t, int64(100), rec.TotalBytes)
}

func TestCompletionMarksItemDownloaded(t *testing.T) {
	transport := newFakeTransport(100)
	m, marker, bus := newTestManager(t, transport)

	events, cancel := bus.Subscribe()
	defer cancel()

	_, err := m.Start("item-1")
	require.NoError(t, err)

	transport.steps <- 100
	close(transport.steps)

	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, int64(100), rec.DownloadedBytes)
	require.NotNil(t, rec.CompletedAt)

	require.Eventually(t, func() bool {
		call, ok := marker.last()
		return ok && call == markerCall{"item-1", true, 1.0}
	}, 2*time.Second, 5*time.Millisecond)

	var types []domain.EventType
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				types = append(types, ev.Type)
			default:
				for _, typ := range types {
					if typ == domain.EventDownloadCompleted {
						return true
					}
				}
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, types, domain.EventDownloadStarted)
	assert.Contains(t, types, domain.EventDownloadProgress)
}

func TestPauseAndResume(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)

	transport.steps <- 60
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.Progress == 0.6
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause("item-1"))
	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusPaused)
	assert.Equal(t, int64(60), rec.DownloadedBytes, "paused record keeps its progress")

	require.NoError(t, m.Resume("item-1"))
	waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)

	transport.steps <- 40
	close(transport.steps)
	waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)

	transport.mu.Lock()
	offsets := append([]int64(nil), transport.offsets...)
	transport.mu.Unlock()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[0])
	assert.Equal(t, int64(60), offsets[1], "resume restarts from the persisted offset")
}

func TestResumeWithoutTransportSupportRestarts(t *testing.T) {
	transport := newFakeTransport(100)
	transport.resume = false
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)

	transport.steps <- 60
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.Progress == 0.6
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause("item-1"))
	waitForStatus(t, m, "item-1", domain.DownloadStatusPaused)

	require.NoError(t, m.Resume("item-1"))
	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)
	assert.Equal(t, int64(0), rec.DownloadedBytes, "progress reset when resume is unsupported")
	assert.Equal(t, 0.0, rec.Progress)
}

func TestPauseOnlyFromDownloading(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	err := m.Pause("missing")
	assert.ErrorIs(t, err, domain.ErrDownloadNotFound)

	_, err = m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 100
	close(transport.steps)
	waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)

	err = m.Pause("item-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelRemovesRecordAndBlob(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 30
	waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)

	require.NoError(t, m.Cancel("item-1"))

	_, err = m.Status("item-1")
	assert.ErrorIs(t, err, domain.ErrDownloadNotFound)
	assert.Contains(t, transport.deletedItems(), "item-1")
}

func TestCancelLeavesCompletedAlone(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 100
	close(transport.steps)
	waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)

	err = m.Cancel("item-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	rec, err := m.Status("item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadStatusCompleted, rec.Status)
}

func TestFailureAndRetry(t *testing.T) {
	transport := newFakeTransport(100)
	transport.setFailure(errors.New("connection reset"))
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 30
	close(transport.steps)

	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusFailed)
	assert.Equal(t, "connection reset", rec.LastError)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, int64(30), rec.DownloadedBytes, "failed record keeps its progress")

	// Resume retries; the healed transport completes immediately.
	transport.setFailure(nil)
	require.NoError(t, m.Resume("item-1"))
	rec = waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)
	assert.Empty(t, rec.LastError)
}

func TestDeleteCompletedDownload(t *testing.T) {
	transport := newFakeTransport(100)
	m, marker, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 100
	close(transport.steps)
	waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)

	require.NoError(t, m.Delete("item-1"))

	_, err = m.Status("item-1")
	assert.ErrorIs(t, err, domain.ErrDownloadNotFound)
	assert.Contains(t, transport.deletedItems(), "item-1")

	call, ok := marker.last()
	require.True(t, ok)
	assert.Equal(t, markerCall{"item-1", false, 0}, call, "item flags reset on delete")
}

func TestDeleteRequiresCompleted(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 30
	waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)

	err = m.Delete("item-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLateCompletionAfterPauseIsIgnored(t *testing.T) {
	transport := newFakeTransport(100)
	transport.ignoreCtx = true
	m, marker, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 40
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.Progress == 0.4
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause("item-1"))

	// The transfer misses the cancellation and finishes anyway; the settled
	// paused record must stand.
	close(transport.steps)
	assert.Never(t, func() bool {
		rec, err := m.Status("item-1")
		return err == nil && rec.Status == domain.DownloadStatusCompleted
	}, 300*time.Millisecond, 20*time.Millisecond)

	rec, err := m.Status("item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadStatusPaused, rec.Status)
	assert.Equal(t, 0.4, rec.Progress)

	marker.mu.Lock()
	defer marker.mu.Unlock()
	for _, call := range marker.calls {
		assert.False(t, call.downloaded, "a paused item must never be marked downloaded")
	}
}

func TestStaleTransferExitKeepsRelaunchedTransfer(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 40
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.Progress == 0.4
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause("item-1"))
	require.NoError(t, m.Resume("item-1"))
	waitForStatus(t, m, "item-1", domain.DownloadStatusDownloading)

	// The first transfer's goroutine runs its deferred cleanup only now,
	// after the resume relaunched the item under a newer generation.
	m.clearActive("item-1", 1)

	m.mu.Lock()
	_, ok := m.active["item-1"]
	m.mu.Unlock()
	require.True(t, ok, "the relaunched transfer's cancel func must survive")

	// Pause can still reach the relaunched transfer
	require.NoError(t, m.Pause("item-1"))
	waitForStatus(t, m, "item-1", domain.DownloadStatusPaused)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.active) == 0
	}, 2*time.Second, 5*time.Millisecond, "the cancelled transfer exits")
}

func TestUnknownTotalPersistsByteProgress(t *testing.T) {
	transport := newFakeTransport(0) // Length unknown
	m, _, _ := newTestManager(t, transport)
	m.progressByteStep = 1

	_, err := m.Start("item-1")
	require.NoError(t, err)

	transport.steps <- 30
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.DownloadedBytes == 30
	}, 2*time.Second, 5*time.Millisecond)

	transport.steps <- 30
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.DownloadedBytes == 60
	}, 2*time.Second, 5*time.Millisecond)

	close(transport.steps)
	rec := waitForStatus(t, m, "item-1", domain.DownloadStatusCompleted)
	assert.Equal(t, int64(60), rec.DownloadedBytes)
	assert.Equal(t, 1.0, rec.Progress)
}

func TestStopWaitsForTransfers(t *testing.T) {
	transport := newFakeTransport(100)
	m, _, _ := newTestManager(t, transport)

	_, err := m.Start("item-1")
	require.NoError(t, err)
	transport.steps <- 30
	require.Eventually(t, func() bool {
		rec, _ := m.Status("item-1")
		return rec.DownloadedBytes == 30
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// The record stands at its last persisted progress.
	rec, err := m.Status("item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), rec.DownloadedBytes)
}
