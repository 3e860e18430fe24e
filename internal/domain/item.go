package domain

import (
	"time"

	"github.com/dustin/go-humanize"
)

// ContentType distinguishes the kinds of saved content
type ContentType string

const (
	ContentTypeVerse      ContentType = "verse"
	ContentTypeNote       ContentType = "note"
	ContentTypeBookmark   ContentType = "bookmark"
	ContentTypeHighlight  ContentType = "highlight"
	ContentTypeDevotional ContentType = "devotional"
	ContentTypeImage      ContentType = "image"
)

// LibraryItem represents one saved piece of content (a verse reference,
// note, bookmark, or highlight). Items are immutable values; mutations go
// through the library facade, which replaces the whole item by ID.
type LibraryItem struct {
	ID          string      `json:"id"`           // Unique identifier, immutable once created
	Title       string      `json:"title"`        // Display title
	Subtitle    string      `json:"subtitle"`     // Secondary line (e.g., passage reference)
	Description string      `json:"description"`  // Free-text description
	ContentType ContentType `json:"content_type"` // Kind of content
	SourceType  string      `json:"source_type"`  // Origin kind (e.g., "bible", "web")
	SourceID    string      `json:"source_id"`    // Origin identifier
	SourceURL   string      `json:"source_url"`   // Origin URL

	ThumbnailURL string `json:"thumbnail_url"` // Thumbnail image URL
	CoverURL     string `json:"cover_url"`     // Cover image URL
	Author       string `json:"author"`        // Author or source attribution

	Tags       []string `json:"tags"`       // User tags
	Categories []string `json:"categories"` // Category labels

	// Rating (0-5 scale, user rating)
	Rating float64 `json:"rating"`

	SavedAt        time.Time  `json:"saved_at"`                   // When the item was saved
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"` // nil = never accessed

	IsDownloaded     bool    `json:"is_downloaded"`     // True once offline content is fully present
	DownloadProgress float64 `json:"download_progress"` // 0.0-1.0; 1.0 when IsDownloaded
	FileSize         int64   `json:"file_size"`         // Bytes, 0 = unknown

	Metadata map[string]string `json:"metadata,omitempty"` // Open-ended metadata
}

// WithAccessTime returns a copy of the item stamped as accessed at t.
func (i LibraryItem) WithAccessTime(t time.Time) LibraryItem {
	i.LastAccessedAt = &t
	return i
}

// WithDownloadState returns a copy of the item with the download flag and
// progress set together, preserving the downloaded-implies-complete invariant.
func (i LibraryItem) WithDownloadState(downloaded bool, progress float64) LibraryItem {
	if downloaded {
		progress = 1.0
	}
	i.IsDownloaded = downloaded
	i.DownloadProgress = progress
	return i
}

// AccessedOrZero returns the last-accessed time, or the distant past when the
// item has never been accessed. Used for oldest-first sorting of unaccessed items.
func (i LibraryItem) AccessedOrZero() time.Time {
	if i.LastAccessedAt == nil {
		return time.Time{}
	}
	return *i.LastAccessedAt
}

// FormattedFileSize returns the file size in a human-readable format
func (i LibraryItem) FormattedFileSize() string {
	if i.FileSize <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(i.FileSize))
}
