package library

import (
	"github.com/versekeep/versekeep/internal/domain"
)

// Download operations delegate to the lifecycle manager; existence of the
// owning item is checked here so the manager stays item-agnostic.

// StartDownload requests an offline download for an item. If a record
// already exists it is returned unchanged (saves are idempotent, downloads
// never duplicate).
func (s *Service) StartDownload(itemID string) (domain.LibraryDownload, error) {
	if _, err := s.GetItem(itemID); err != nil {
		return domain.LibraryDownload{}, err
	}
	return s.downloads.Start(itemID)
}

// PauseDownload suspends an in-flight download.
func (s *Service) PauseDownload(itemID string) error {
	return s.downloads.Pause(itemID)
}

// ResumeDownload restarts a paused or failed download.
func (s *Service) ResumeDownload(itemID string) error {
	return s.downloads.Resume(itemID)
}

// CancelDownload stops the transfer and removes the record.
func (s *Service) CancelDownload(itemID string) error {
	return s.downloads.Cancel(itemID)
}

// DeleteDownload removes a completed download's blob and record, and resets
// the owning item's downloaded flag.
func (s *Service) DeleteDownload(itemID string) error {
	return s.downloads.Delete(itemID)
}

// GetDownloadStatus returns the item's download record.
func (s *Service) GetDownloadStatus(itemID string) (domain.LibraryDownload, error) {
	return s.downloads.Status(itemID)
}

// GetAllDownloads returns all download records.
func (s *Service) GetAllDownloads() ([]domain.LibraryDownload, error) {
	return s.downloads.List()
}
