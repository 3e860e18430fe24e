package domain

import (
	"time"

	"github.com/dustin/go-humanize"
)

// LibraryStatistics is a derived, cached snapshot of the library. It is
// recomputed on demand and invalidated by any item or collection mutation;
// callers past the freshness window get a fresh computation.
type LibraryStatistics struct {
	TotalItems      int                 `json:"total_items"`
	ItemsByType     map[ContentType]int `json:"items_by_type"`
	TotalBytes      int64               `json:"total_bytes"`
	DownloadedBytes int64               `json:"downloaded_bytes"`
	MostAccessed    []LibraryItem       `json:"most_accessed"`  // Most recently accessed, newest first
	RecentlyAdded   []LibraryItem       `json:"recently_added"` // Newest saves first
	Collections     []LibraryCollection `json:"collections"`
	LastSyncAt      *time.Time          `json:"last_sync_at,omitempty"`
	ComputedAt      time.Time           `json:"computed_at"`
}

// Fresh reports whether the snapshot is still within the freshness window.
func (s LibraryStatistics) Fresh(window time.Duration, now time.Time) bool {
	return now.Sub(s.ComputedAt) < window
}

// FormattedTotalSize returns the total byte count in a human-readable format
func (s LibraryStatistics) FormattedTotalSize() string {
	if s.TotalBytes <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(s.TotalBytes))
}
