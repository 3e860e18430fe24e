// Package library is the public facade of the engine. Every mutation goes
// through the Service so the invariants stay centralized: full-set
// read-modify-write under a per-key mutex, exactly one event per successful
// mutation, statistics invalidated on every item or collection change, and a
// best-effort cloud push that never fails the local write.
package library

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
	"github.com/versekeep/versekeep/internal/download"
	"github.com/versekeep/versekeep/internal/event"
	"github.com/versekeep/versekeep/internal/syncer"
)

// Options tunes the facade's background behavior.
type Options struct {
	SyncInterval    time.Duration // Periodic full-sync cadence (default 300s)
	NetworkTimeout  time.Duration // Per network operation (default 30s)
	StatsFreshness  time.Duration // Statistics cache window (default 5m)
	CloudPushOnSave bool          // Best-effort per-entity push on every mutation
}

const defaultStatsFreshness = 5 * time.Minute

// Service ties the store, query engine, download manager, sync coordinator,
// and event bus together behind one contract.
type Service struct {
	store  domain.Store
	bus    *event.Bus
	logger *slog.Logger

	downloads *download.Manager
	syncer    *syncer.Coordinator

	statsFreshness time.Duration
	cloudPush      bool

	itemsMu       sync.Mutex // Serializes read-modify-write on the items key
	collectionsMu sync.Mutex // Serializes read-modify-write on the collections key
	statsMu       sync.Mutex // Guards the statistics key
}

// NewService creates the library facade and wires its subcomponents.
func NewService(store domain.Store, remote domain.RemoteLibrary, transport domain.BlobTransport, bus *event.Bus, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StatsFreshness <= 0 {
		opts.StatsFreshness = defaultStatsFreshness
	}

	s := &Service{
		store:          store,
		bus:            bus,
		logger:         logger,
		statsFreshness: opts.StatsFreshness,
		cloudPush:      opts.CloudPushOnSave,
	}
	s.downloads = download.NewManager(store, transport, bus, logger)
	s.downloads.SetMarker(s)
	s.syncer = syncer.NewCoordinator(store, remote, bus, opts.SyncInterval, opts.NetworkTimeout, logger)
	return s
}

// Events subscribes an observer to the domain event stream. The returned
// cancel must be called when done. Observers combine an initial snapshot
// (GetAllItems and friends) with the stream; there is no replay.
func (s *Service) Events() (<-chan domain.Event, func()) {
	return s.bus.Subscribe()
}

// StartSync begins the periodic background sync.
func (s *Service) StartSync(ctx context.Context) error {
	return s.syncer.Start(ctx)
}

// StopSync cancels the next scheduled sync; one in flight finishes.
func (s *Service) StopSync() {
	s.syncer.Stop()
}

// Sync runs a full sync on demand. Calls while one is in flight coalesce.
func (s *Service) Sync(ctx context.Context) error {
	return s.syncer.Sync(ctx)
}

// SyncStatus returns the process-wide sync status record.
func (s *Service) SyncStatus() (domain.LibrarySyncStatus, error) {
	return s.syncer.Status()
}

// Close stops background work and the event bus. The store is owned by the
// composer and closed separately.
func (s *Service) Close() {
	s.syncer.Stop()
	s.downloads.Stop()
	s.bus.Close()
}
