package domain

import "time"

// ExportVersion identifies the snapshot format.
const ExportVersion = "1.0"

// LibraryExport is a full snapshot of items and collections, suitable for
// backup and restore. Import merges by id.
type LibraryExport struct {
	Version     string              `json:"version"`
	ExportedAt  time.Time           `json:"exported_at"`
	Items       []LibraryItem       `json:"items"`
	Collections []LibraryCollection `json:"collections"`
}
