// Package download drives the per-item offline download state machine:
// pending -> downloading -> {paused, completed, failed}, with paused and
// failed able to re-enter downloading. Transfers run as independent
// goroutines; every progress increment is persisted before it is published,
// so a crash leaves the record at the last durable progress.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versekeep/versekeep/internal/domain"
	"github.com/versekeep/versekeep/internal/event"
)

// ItemMarker applies a download's outcome to the owning library item.
// Implemented by the library facade, which owns the item mutation path.
type ItemMarker interface {
	SetItemDownloadState(itemID string, downloaded bool, progress float64) error
}

const (
	defaultProgressStep     = 0.05
	defaultProgressByteStep = 256 * 1024
)

// Manager is the download lifecycle manager. All record transitions for a
// single item are serialized under one mutex, so pause/resume/cancel are
// applied in the order issued.
type Manager struct {
	store     domain.Store
	transport domain.BlobTransport
	bus       *event.Bus
	marker    ItemMarker
	logger    *slog.Logger

	// Minimum progress/byte delta between persisted increments. The byte
	// step keeps increments flowing when the total length is unknown.
	progressStep     float64
	progressByteStep int64

	mu      sync.Mutex
	active  map[string]activeTransfer // In-flight transfers by item id
	lastGen uint64
	wg      sync.WaitGroup
}

// activeTransfer tags each launch with a generation so a transfer goroutine
// that exits late (after a pause/resume relaunched the item) cannot clear the
// relaunched transfer's cancel func.
type activeTransfer struct {
	cancel context.CancelFunc
	gen    uint64
}

// NewManager creates a download manager. marker may be nil until SetMarker
// is called by whoever owns item mutations.
func NewManager(store domain.Store, transport domain.BlobTransport, bus *event.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:            store,
		transport:        transport,
		bus:              bus,
		logger:           logger,
		progressStep:     defaultProgressStep,
		progressByteStep: defaultProgressByteStep,
		active:           make(map[string]activeTransfer),
	}
}

// SetMarker wires the item mutation path. Must be called before Start.
func (m *Manager) SetMarker(marker ItemMarker) {
	m.marker = marker
}

// Start requests a download for itemID. When a record already exists it is
// returned as-is and no new transfer is launched (no duplicates ever);
// otherwise a pending record is persisted and the transfer is launched as an
// independent goroutine. Start never blocks on the transfer itself.
func (m *Manager) Start(itemID string) (domain.LibraryDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return domain.LibraryDownload{}, err
	}
	if existing, ok := records[itemID]; ok {
		return existing, nil
	}

	rec := domain.LibraryDownload{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Status:    domain.DownloadStatusPending,
		StartedAt: time.Now(),
	}
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		return domain.LibraryDownload{}, err
	}

	m.bus.Publish(domain.Event{Type: domain.EventDownloadStarted, ItemID: itemID})
	m.launch(itemID, 0)
	m.logger.Debug("download started", "itemID", itemID)
	return rec, nil
}

// Pause suspends an in-flight download. Valid only from downloading.
func (m *Manager) Pause(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	rec, ok := records[itemID]
	if !ok {
		return domain.ErrDownloadNotFound
	}
	if rec.Status != domain.DownloadStatusDownloading {
		return fmt.Errorf("pause from %s: %w", rec.Status, domain.ErrInvalidTransition)
	}

	// Persist the paused state before stopping the transfer, so the
	// goroutine's exit path sees a settled record.
	rec.Status = domain.DownloadStatusPaused
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		return err
	}
	m.stopTransfer(itemID)
	m.logger.Debug("download paused", "itemID", itemID)
	return nil
}

// Resume restarts a paused or failed download. A failed record is treated as
// a retry. The transfer restarts from the last persisted byte offset when the
// transport supports resumption, else from zero.
func (m *Manager) Resume(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	rec, ok := records[itemID]
	if !ok {
		return domain.ErrDownloadNotFound
	}
	if rec.Status != domain.DownloadStatusPaused && rec.Status != domain.DownloadStatusFailed {
		return fmt.Errorf("resume from %s: %w", rec.Status, domain.ErrInvalidTransition)
	}

	offset := rec.DownloadedBytes
	if !m.transport.SupportsResume() {
		offset = 0
		rec.DownloadedBytes = 0
		rec.Progress = 0
	}
	rec.Status = domain.DownloadStatusDownloading
	rec.LastError = ""
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		return err
	}

	m.bus.Publish(domain.Event{Type: domain.EventDownloadStarted, ItemID: itemID})
	m.launch(itemID, offset)
	m.logger.Debug("download resumed", "itemID", itemID, "offset", offset)
	return nil
}

// Cancel stops the transfer and removes the record. Valid from any
// non-terminal state; a completed record is unaffected (use Delete).
func (m *Manager) Cancel(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	rec, ok := records[itemID]
	if !ok {
		return domain.ErrDownloadNotFound
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("cancel from %s: %w", rec.Status, domain.ErrInvalidTransition)
	}

	delete(records, itemID)
	if err := m.saveRecords(records); err != nil {
		return err
	}
	m.stopTransfer(itemID)

	// Drop the partial blob so nothing stays registered
	if err := m.transport.Delete(itemID); err != nil {
		m.logger.Warn("failed to remove partial blob", "itemID", itemID, "error", err)
	}
	m.logger.Debug("download cancelled", "itemID", itemID)
	return nil
}

// Delete removes a completed download: the local blob is deleted, the owning
// item's downloaded flag and progress are reset, and the record is removed.
func (m *Manager) Delete(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return err
	}
	rec, ok := records[itemID]
	if !ok {
		return domain.ErrDownloadNotFound
	}
	if rec.Status != domain.DownloadStatusCompleted {
		return fmt.Errorf("delete from %s: %w", rec.Status, domain.ErrInvalidTransition)
	}

	if err := m.transport.Delete(itemID); err != nil {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	delete(records, itemID)
	if err := m.saveRecords(records); err != nil {
		return err
	}

	if m.marker != nil {
		if err := m.marker.SetItemDownloadState(itemID, false, 0); err != nil && !errors.Is(err, domain.ErrItemNotFound) {
			m.logger.Error("failed to reset item download state", "itemID", itemID, "error", err)
		}
	}
	m.logger.Debug("download deleted", "itemID", itemID)
	return nil
}

// Status returns the download record for itemID.
func (m *Manager) Status(itemID string) (domain.LibraryDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return domain.LibraryDownload{}, err
	}
	rec, ok := records[itemID]
	if !ok {
		return domain.LibraryDownload{}, domain.ErrDownloadNotFound
	}
	return rec, nil
}

// List returns all download records.
func (m *Manager) List() ([]domain.LibraryDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return nil, err
	}
	out := make([]domain.LibraryDownload, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	return out, nil
}

// Stop cancels all in-flight transfers and waits for their goroutines to
// exit. Paused/failed records stand at their last persisted progress.
func (m *Manager) Stop() {
	m.mu.Lock()
	for id, t := range m.active {
		t.cancel()
		delete(m.active, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// --- Transfer goroutine ---

// launch starts the transfer goroutine. Caller holds m.mu.
func (m *Manager) launch(itemID string, offset int64) {
	ctx, cancel := context.WithCancel(context.Background())
	m.lastGen++
	gen := m.lastGen
	m.active[itemID] = activeTransfer{cancel: cancel, gen: gen}
	m.wg.Add(1)
	go m.run(ctx, itemID, offset, gen)
}

func (m *Manager) run(ctx context.Context, itemID string, offset int64, gen uint64) {
	defer m.wg.Done()
	defer m.clearActive(itemID, gen)

	// pending -> downloading; a cancel between launch and here removes the
	// record, in which case there is nothing to do.
	if ok := m.markDownloading(itemID); !ok {
		return
	}

	var last progressMark
	onProgress := func(downloaded, total int64) {
		m.recordProgress(itemID, downloaded, total, &last)
	}

	err := m.transport.Fetch(ctx, itemID, offset, onProgress)
	switch {
	case err == nil:
		m.complete(itemID)
	case errors.Is(err, context.Canceled):
		// Paused or cancelled; the persisted record already reflects it.
	default:
		m.fail(itemID, err)
	}
}

// clearActive removes the transfer's cancel func, but only while it still
// belongs to the generation that is exiting.
func (m *Manager) clearActive(itemID string, gen uint64) {
	m.mu.Lock()
	if t, ok := m.active[itemID]; ok && t.gen == gen {
		delete(m.active, itemID)
	}
	m.mu.Unlock()
}

// stopTransfer cancels the in-flight transfer, if any. Caller holds m.mu.
func (m *Manager) stopTransfer(itemID string) {
	if t, ok := m.active[itemID]; ok {
		t.cancel()
		delete(m.active, itemID)
	}
}

func (m *Manager) markDownloading(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		m.logger.Error("failed to load download records", "error", err)
		return false
	}
	rec, ok := records[itemID]
	if !ok {
		return false
	}
	if rec.Status == domain.DownloadStatusDownloading {
		return true // Resume already transitioned
	}
	if err := rec.SetStatus(domain.DownloadStatusDownloading); err != nil {
		return false
	}
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		m.logger.Error("failed to persist download state", "itemID", itemID, "error", err)
		return false
	}
	return true
}

// progressMark remembers the last persisted increment of one transfer.
type progressMark struct {
	progress float64
	bytes    int64
	valid    bool
}

// recordProgress persists a progress increment and then publishes it. Small
// increments are skipped (except the final one): below progressStep when the
// total is known, and below progressByteStep in bytes, so transfers with an
// unknown total still persist advancing byte counts.
func (m *Manager) recordProgress(itemID string, downloaded, total int64, last *progressMark) {
	progress := 0.0
	if total > 0 {
		progress = float64(downloaded) / float64(total)
		if progress > 1.0 {
			progress = 1.0
		}
	}
	final := total > 0 && downloaded >= total
	if !final && last.valid &&
		progress-last.progress < m.progressStep &&
		downloaded-last.bytes < m.progressByteStep {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadRecords()
	if err != nil {
		return
	}
	rec, ok := records[itemID]
	if !ok || rec.Status != domain.DownloadStatusDownloading {
		return // Cancelled or paused mid-callback
	}
	rec.DownloadedBytes = downloaded
	rec.TotalBytes = total
	rec.Progress = progress
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		m.logger.Error("failed to persist download progress", "itemID", itemID, "error", err)
		return
	}
	*last = progressMark{progress: progress, bytes: downloaded, valid: true}

	// Persisted first, published second: a crash leaves the record at the
	// last durable progress rather than reverting to zero.
	m.bus.Publish(domain.Event{Type: domain.EventDownloadProgress, ItemID: itemID, Progress: progress})

	if m.marker != nil {
		if err := m.marker.SetItemDownloadState(itemID, false, progress); err != nil && !errors.Is(err, domain.ErrItemNotFound) {
			m.logger.Error("failed to update item progress", "itemID", itemID, "error", err)
		}
	}
}

func (m *Manager) complete(itemID string) {
	m.mu.Lock()

	records, err := m.loadRecords()
	if err != nil {
		m.mu.Unlock()
		return
	}
	rec, ok := records[itemID]
	if !ok || rec.Status != domain.DownloadStatusDownloading {
		// Paused or cancelled while the last read was in flight; the
		// settled record stands.
		m.mu.Unlock()
		return
	}
	now := time.Now()
	rec.Status = domain.DownloadStatusCompleted
	rec.Progress = 1.0
	if rec.TotalBytes > 0 {
		rec.DownloadedBytes = rec.TotalBytes
	}
	rec.CompletedAt = &now
	rec.LastError = ""
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		m.logger.Error("failed to persist download completion", "itemID", itemID, "error", err)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.marker != nil {
		if err := m.marker.SetItemDownloadState(itemID, true, 1.0); err != nil && !errors.Is(err, domain.ErrItemNotFound) {
			m.logger.Error("failed to mark item downloaded", "itemID", itemID, "error", err)
		}
	}
	m.bus.Publish(domain.Event{Type: domain.EventDownloadCompleted, ItemID: itemID})
	m.logger.Info("download completed", "itemID", itemID)
}

// fail moves the record to failed with the error captured. Callers may
// resume (treated as retry); retry limiting is caller policy, not enforced
// here.
func (m *Manager) fail(itemID string, cause error) {
	m.mu.Lock()

	records, err := m.loadRecords()
	if err != nil {
		m.mu.Unlock()
		return
	}
	rec, ok := records[itemID]
	if !ok || rec.Status != domain.DownloadStatusDownloading {
		m.mu.Unlock()
		return
	}
	rec.Status = domain.DownloadStatusFailed
	rec.LastError = cause.Error()
	rec.RetryCount++
	records[itemID] = rec
	if err := m.saveRecords(records); err != nil {
		m.logger.Error("failed to persist download failure", "itemID", itemID, "error", err)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.bus.Publish(domain.Event{Type: domain.EventDownloadFailed, ItemID: itemID, Error: cause.Error()})
	m.logger.Warn("download failed", "itemID", itemID, "error", cause, "retries", rec.RetryCount)
}

// --- Persistence helpers ---

func (m *Manager) loadRecords() (map[string]domain.LibraryDownload, error) {
	records := make(map[string]domain.LibraryDownload)
	if _, err := m.store.Load(domain.KeyDownloads, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (m *Manager) saveRecords(records map[string]domain.LibraryDownload) error {
	return m.store.Save(domain.KeyDownloads, records)
}
