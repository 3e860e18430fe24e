package domain

import "context"

// Persisted state layout. Each key's value is the unit of atomicity; no
// cross-key transactions are assumed.
const (
	KeyItems       = "library_items"
	KeyCollections = "library_collections"
	KeyDownloads   = "library_downloads"
	KeyStatistics  = "library_statistics"
	KeySyncStatus  = "library_sync_status"
	KeySyncOutbox  = "library_sync_outbox"
)

// Store is durable key-value persistence over JSON-serializable values.
// Load reports (false, nil) when the key is absent.
type Store interface {
	Load(key string, dest any) (bool, error)
	Save(key string, value any) error
	Delete(key string) error
	Close() error
}

// RemoteLibrary is the remote store the sync coordinator reconciles against.
// All operations are independently failable; failures never roll back local
// state (local-first).
type RemoteLibrary interface {
	SaveItem(ctx context.Context, item LibraryItem) error
	DeleteItem(ctx context.Context, itemID string) error

	CreateCollection(ctx context.Context, col LibraryCollection) error
	UpdateCollection(ctx context.Context, col LibraryCollection) error
	DeleteCollection(ctx context.Context, collectionID string) error

	SyncItems(ctx context.Context, items []LibraryItem) error
	SyncCollections(ctx context.Context, cols []LibraryCollection) error
}

// TransferProgressFunc reports transfer progress in bounded increments.
type TransferProgressFunc func(downloadedBytes, totalBytes int64)

// BlobTransport produces an item's offline bytes and manages the local blob.
// Fetch blocks until the transfer finishes, the context is cancelled, or an
// error occurs; offset resumes a partial transfer when SupportsResume is true.
type BlobTransport interface {
	Fetch(ctx context.Context, itemID string, offset int64, onProgress TransferProgressFunc) error
	SupportsResume() bool
	Delete(itemID string) error
}
