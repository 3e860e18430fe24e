package domain

import "time"

// EventType identifies a domain change notification
type EventType string

const (
	EventItemAdded   EventType = "item_added"
	EventItemUpdated EventType = "item_updated"
	EventItemDeleted EventType = "item_deleted"

	EventCollectionCreated EventType = "collection_created"
	EventCollectionUpdated EventType = "collection_updated"
	EventCollectionDeleted EventType = "collection_deleted"

	EventDownloadStarted   EventType = "download_started"
	EventDownloadProgress  EventType = "download_progress"
	EventDownloadCompleted EventType = "download_completed"
	EventDownloadFailed    EventType = "download_failed"

	EventSyncStarted   EventType = "sync_started"
	EventSyncCompleted EventType = "sync_completed"
	EventSyncFailed    EventType = "sync_failed"

	EventLibraryImported EventType = "library_imported"
)

// Event is one domain change notification published on the event bus.
// Observers combine an initial snapshot pulled from the facade with the
// event stream; events carry ids, not full entities.
type Event struct {
	Type         EventType `json:"type"`
	ItemID       string    `json:"item_id,omitempty"`
	CollectionID string    `json:"collection_id,omitempty"`
	Progress     float64   `json:"progress,omitempty"` // Download progress events only
	Error        string    `json:"error,omitempty"`    // Failure events only
	At           time.Time `json:"at"`
}
