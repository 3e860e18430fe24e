package domain

import (
	"encoding/json"
	"time"
)

// SyncState represents the state of the process-wide sync status record
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSuccess SyncState = "success"
	SyncStateFailed  SyncState = "failed"
)

// LibrarySyncStatus is the single process-wide sync record (not per-item).
// ConflictItems is always zero: conflict policy is last-write-wins by local
// timestamp with no merge, so conflicts are never detected or surfaced.
type LibrarySyncStatus struct {
	Enabled       bool       `json:"enabled"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	PendingOps    int        `json:"pending_ops"`
	ConflictItems int        `json:"conflict_items"`
	State         SyncState  `json:"state"`
	LastError     string     `json:"last_error,omitempty"`
}

// Outbox operation kinds
const (
	OutboxOpSaveItem         = "save_item"
	OutboxOpDeleteItem       = "delete_item"
	OutboxOpSaveCollection   = "save_collection"
	OutboxOpDeleteCollection = "delete_collection"
)

// OutboxEntry is one intended remote operation, appended durably when a
// best-effort cloud push fails and drained on the next full sync.
type OutboxEntry struct {
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Payload    json.RawMessage `json:"payload"` // Entity for saves, bare id string for deletes
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}
