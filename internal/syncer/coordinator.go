// Package syncer reconciles local items and collections with the remote
// library. Local state is authoritative: per-entity pushes are best-effort
// and never fail the local write, with the periodic full sync as the
// reconciliation backstop.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/versekeep/versekeep/internal/domain"
	"github.com/versekeep/versekeep/internal/event"
)

const (
	// DefaultInterval is the periodic full-sync cadence.
	DefaultInterval = 300 * time.Second

	// DefaultTimeout bounds each network operation.
	DefaultTimeout = 30 * time.Second
)

// Coordinator owns the process-wide sync status record, the durable outbox,
// and the periodic scheduler. Reentrant Sync calls while one is in flight
// coalesce to a no-op.
type Coordinator struct {
	store  domain.Store
	remote domain.RemoteLibrary
	bus    *event.Bus
	logger *slog.Logger

	interval time.Duration
	timeout  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu        sync.Mutex // Guards status + outbox keys and the flags below
	isRunning bool       // Scheduler started
	isSyncing bool       // Full sync in flight
}

// NewCoordinator creates a sync coordinator. Zero interval/timeout select
// the defaults.
func NewCoordinator(store domain.Store, remote domain.RemoteLibrary, bus *event.Bus, interval, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		store:    store,
		remote:   remote,
		bus:      bus,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		cron:     cron.New(),
	}
}

// Start begins the periodic full sync. Safe to call once; further calls are
// no-ops while running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return nil
	}

	entryID, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.interval), func() {
		if err := c.Sync(ctx); err != nil {
			c.logger.Warn("scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	c.entryID = entryID
	c.cron.Start()
	c.isRunning = true

	if err := c.setEnabled(true); err != nil {
		c.logger.Warn("failed to persist sync status", "error", err)
	}
	c.logger.Info("sync scheduler started", "interval", c.interval)
	return nil
}

// Stop cancels the next scheduled run. A sync already in flight finishes.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	c.cron.Remove(c.entryID)
	c.cron.Stop()
	c.isRunning = false

	if err := c.setEnabled(false); err != nil {
		c.logger.Warn("failed to persist sync status", "error", err)
	}
	c.logger.Info("sync scheduler stopped")
}

// Sync pushes the full local item and collection sets to the remote. On
// success it stamps the last sync date; on failure it records the error and
// returns it. A call while another sync is in flight returns immediately.
func (c *Coordinator) Sync(ctx context.Context) error {
	c.mu.Lock()
	if c.isSyncing {
		c.mu.Unlock()
		c.logger.Debug("sync already in flight, coalescing")
		return nil
	}
	c.isSyncing = true

	if err := c.updateStatus(func(st *domain.LibrarySyncStatus) {
		st.State = domain.SyncStateSyncing
	}); err != nil {
		c.isSyncing = false
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.bus.Publish(domain.Event{Type: domain.EventSyncStarted})

	err := c.sync(ctx)

	c.mu.Lock()
	c.isSyncing = false
	pending := c.outboxLen()
	if err != nil {
		// Failure leaves LastSyncAt untouched
		if uerr := c.updateStatus(func(st *domain.LibrarySyncStatus) {
			st.State = domain.SyncStateFailed
			st.LastError = err.Error()
			st.PendingOps = pending
		}); uerr != nil {
			c.logger.Error("failed to persist sync status", "error", uerr)
		}
		c.mu.Unlock()
		c.bus.Publish(domain.Event{Type: domain.EventSyncFailed, Error: err.Error()})
		c.logger.Warn("sync failed", "error", err)
		return err
	}

	now := time.Now()
	if uerr := c.updateStatus(func(st *domain.LibrarySyncStatus) {
		st.State = domain.SyncStateSuccess
		st.LastSyncAt = &now
		st.LastError = ""
		st.PendingOps = pending
		st.ConflictItems = 0 // Last-write-wins; conflicts are never surfaced
	}); uerr != nil {
		c.logger.Error("failed to persist sync status", "error", uerr)
	}
	c.mu.Unlock()

	c.bus.Publish(domain.Event{Type: domain.EventSyncCompleted})
	c.logger.Info("sync completed")
	return nil
}

func (c *Coordinator) sync(ctx context.Context) error {
	// Replay queued per-entity pushes first; whatever still fails stays
	// queued for the next run.
	c.drainOutbox(ctx)

	var items []domain.LibraryItem
	if _, err := c.store.Load(domain.KeyItems, &items); err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	var cols []domain.LibraryCollection
	if _, err := c.store.Load(domain.KeyCollections, &cols); err != nil {
		return fmt.Errorf("failed to load collections: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.remote.SyncItems(pushCtx, items); err != nil {
		return fmt.Errorf("failed to sync items: %w", err)
	}
	if err := c.remote.SyncCollections(pushCtx, cols); err != nil {
		return fmt.Errorf("failed to sync collections: %w", err)
	}
	return nil
}

// Status returns the process-wide sync status record.
func (c *Coordinator) Status() (domain.LibrarySyncStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadStatus()
}

// --- Status persistence (caller holds c.mu) ---

func (c *Coordinator) loadStatus() (domain.LibrarySyncStatus, error) {
	st := domain.LibrarySyncStatus{State: domain.SyncStateIdle}
	if _, err := c.store.Load(domain.KeySyncStatus, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Coordinator) updateStatus(apply func(*domain.LibrarySyncStatus)) error {
	st, err := c.loadStatus()
	if err != nil {
		return err
	}
	apply(&st)
	return c.store.Save(domain.KeySyncStatus, st)
}

func (c *Coordinator) setEnabled(enabled bool) error {
	return c.updateStatus(func(st *domain.LibrarySyncStatus) {
		st.Enabled = enabled
	})
}
