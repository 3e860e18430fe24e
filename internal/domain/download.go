package domain

import "time"

// DownloadStatus represents the current state of a download record
type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusPaused      DownloadStatus = "paused"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
)

// downloadTransitions is the set of legal state transitions. Cancel is not a
// state: it deletes the record and is allowed from any non-terminal state.
var downloadTransitions = map[DownloadStatus][]DownloadStatus{
	DownloadStatusPending:     {DownloadStatusDownloading},
	DownloadStatusDownloading: {DownloadStatusPaused, DownloadStatusCompleted, DownloadStatusFailed},
	DownloadStatusPaused:      {DownloadStatusDownloading},
	DownloadStatusFailed:      {DownloadStatusDownloading},
	DownloadStatusCompleted:   {},
}

// CanTransition reports whether moving from s to target is legal.
func (s DownloadStatus) CanTransition(target DownloadStatus) bool {
	for _, t := range downloadTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadStatusCompleted
}

// LibraryDownload tracks one item's offline download. Records are created by
// the download manager when a download is requested and mutated only by it.
type LibraryDownload struct {
	ID              string         `json:"id"`
	ItemID          string         `json:"item_id"`
	Status          DownloadStatus `json:"status"`
	Progress        float64        `json:"progress"` // 0.0-1.0
	TotalBytes      int64          `json:"total_bytes"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	RetryCount      int            `json:"retry_count"`
}

// SetStatus transitions the record to target.
// Returns ErrInvalidTransition when the move is not legal.
// Idempotent: setting the current status succeeds without error.
func (d *LibraryDownload) SetStatus(target DownloadStatus) error {
	if d.Status == target {
		return nil
	}
	if !d.Status.CanTransition(target) {
		return ErrInvalidTransition
	}
	d.Status = target
	return nil
}
