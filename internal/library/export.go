package library

import (
	"context"
	"fmt"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
)

// Export returns a full snapshot of items and collections.
func (s *Service) Export() (domain.LibraryExport, error) {
	items, err := s.loadItems()
	if err != nil {
		return domain.LibraryExport{}, err
	}
	cols, err := s.loadCollections()
	if err != nil {
		return domain.LibraryExport{}, err
	}
	return domain.LibraryExport{
		Version:     domain.ExportVersion,
		ExportedAt:  time.Now(),
		Items:       items,
		Collections: cols,
	}, nil
}

// Import merges a snapshot into the library, upserting items and collections
// by id. Importing into an empty store reproduces the exported sets. One
// libraryImported event is published for the whole operation.
func (s *Service) Import(ctx context.Context, exp domain.LibraryExport) error {
	if exp.Version == "" {
		return fmt.Errorf("export version is required: %w", domain.ErrInvalidRequest)
	}

	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	items = upsertItems(items, exp.Items)
	if err := s.saveItems(items); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.collectionsMu.Lock()
	cols, err := s.loadCollections()
	if err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	cols = upsertCollections(cols, exp.Collections)
	if err := s.saveCollections(cols); err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	s.collectionsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventLibraryImported})
	s.logger.Info("library imported", "items", len(exp.Items), "collections", len(exp.Collections))
	return nil
}

func upsertItems(existing, incoming []domain.LibraryItem) []domain.LibraryItem {
	index := make(map[string]int, len(existing))
	for i, item := range existing {
		index[item.ID] = i
	}
	for _, item := range incoming {
		item = item.WithDownloadState(item.IsDownloaded, item.DownloadProgress)
		if i, ok := index[item.ID]; ok {
			existing[i] = item
		} else {
			index[item.ID] = len(existing)
			existing = append(existing, item)
		}
	}
	return existing
}

func upsertCollections(existing, incoming []domain.LibraryCollection) []domain.LibraryCollection {
	index := make(map[string]int, len(existing))
	for i, col := range existing {
		index[col.ID] = i
	}
	for _, col := range incoming {
		col.ItemCount = len(col.ItemIDs)
		if i, ok := index[col.ID]; ok {
			existing[i] = col
		} else {
			index[col.ID] = len(existing)
			existing = append(existing, col)
		}
	}
	return existing
}
