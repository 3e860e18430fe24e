package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/versekeep/versekeep/internal/domain"
	"github.com/versekeep/versekeep/internal/query"
)

// GetAllItems returns the full item set in storage order.
func (s *Service) GetAllItems() ([]domain.LibraryItem, error) {
	return s.loadItems()
}

// GetItems loads the full item set, filters, sorts, and paginates.
func (s *Service) GetItems(filters query.Filters, sort query.Sort, limit, offset int) ([]domain.LibraryItem, error) {
	items, err := s.loadItems()
	if err != nil {
		return nil, err
	}
	items = query.Apply(items, filters)
	items = query.Order(items, sort)
	return query.Paginate(items, limit, offset), nil
}

// SearchItems performs a case-insensitive substring search over the filtered
// set. An empty query returns the filtered set.
func (s *Service) SearchItems(q string, filters query.Filters) ([]domain.LibraryItem, error) {
	items, err := s.loadItems()
	if err != nil {
		return nil, err
	}
	return query.Search(items, q, filters), nil
}

// SearchItemsRanked returns items whose titles fuzzy-match q, best matches
// first. Suited to typeahead; exact-substring callers use SearchItems.
func (s *Service) SearchItemsRanked(q string) ([]domain.LibraryItem, error) {
	items, err := s.loadItems()
	if err != nil {
		return nil, err
	}
	return query.RankFold(items, q), nil
}

// GetItem returns one item by id.
func (s *Service) GetItem(itemID string) (domain.LibraryItem, error) {
	items, err := s.loadItems()
	if err != nil {
		return domain.LibraryItem{}, err
	}
	for _, item := range items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return domain.LibraryItem{}, domain.ErrItemNotFound
}

// SaveItem upserts an item by id. Re-saving an existing id replaces the item
// wholesale and never duplicates it. A missing id is generated; a missing
// saved-at timestamp is stamped now.
func (s *Service) SaveItem(ctx context.Context, item domain.LibraryItem) (domain.LibraryItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.SavedAt.IsZero() {
		item.SavedAt = time.Now()
	}
	// Downloaded implies complete progress
	item = item.WithDownloadState(item.IsDownloaded, item.DownloadProgress)

	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return domain.LibraryItem{}, err
	}

	replaced := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, item)
	}
	if err := s.saveItems(items); err != nil {
		s.itemsMu.Unlock()
		return domain.LibraryItem{}, err
	}
	s.itemsMu.Unlock()

	s.invalidateStatistics()
	evType := domain.EventItemAdded
	if replaced {
		evType = domain.EventItemUpdated
	}
	s.bus.Publish(domain.Event{Type: evType, ItemID: item.ID})
	s.pushItem(item)
	s.logger.Debug("item saved", "itemID", item.ID, "replaced", replaced, "size", item.FormattedFileSize())
	return item, nil
}

// UpdateItem replaces an existing item. Unlike SaveItem it fails with
// ErrItemNotFound when the id is unknown.
func (s *Service) UpdateItem(ctx context.Context, item domain.LibraryItem) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required: %w", domain.ErrInvalidRequest)
	}
	item = item.WithDownloadState(item.IsDownloaded, item.DownloadProgress)

	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	found := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			found = true
			break
		}
	}
	if !found {
		s.itemsMu.Unlock()
		return domain.ErrItemNotFound
	}
	if err := s.saveItems(items); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventItemUpdated, ItemID: item.ID})
	s.pushItem(item)
	return nil
}

// DeleteItem removes an item and its download record, if any.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	kept := items[:0]
	found := false
	for _, item := range items {
		if item.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		s.itemsMu.Unlock()
		return domain.ErrItemNotFound
	}
	if err := s.saveItems(kept); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.removeDownloadRecord(itemID)
	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventItemDeleted, ItemID: itemID})
	s.pushItemDelete(itemID)
	s.logger.Debug("item deleted", "itemID", itemID)
	return nil
}

// DeleteItems removes the given ids. Unknown ids are skipped; one
// itemDeleted event is published per removed item.
func (s *Service) DeleteItems(ctx context.Context, itemIDs []string) error {
	idSet := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		idSet[id] = true
	}

	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	kept := items[:0]
	var removed []string
	for _, item := range items {
		if idSet[item.ID] {
			removed = append(removed, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		s.itemsMu.Unlock()
		return nil
	}
	if err := s.saveItems(kept); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.invalidateStatistics()
	for _, id := range removed {
		s.removeDownloadRecord(id)
		s.bus.Publish(domain.Event{Type: domain.EventItemDeleted, ItemID: id})
		s.pushItemDelete(id)
	}
	s.logger.Debug("items deleted", "count", len(removed))
	return nil
}

// MarkItemAsAccessed stamps the item's last-accessed time.
func (s *Service) MarkItemAsAccessed(ctx context.Context, itemID string) error {
	now := time.Now()

	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	var updated *domain.LibraryItem
	for i := range items {
		if items[i].ID == itemID {
			items[i] = items[i].WithAccessTime(now)
			updated = &items[i]
			break
		}
	}
	if updated == nil {
		s.itemsMu.Unlock()
		return domain.ErrItemNotFound
	}
	item := *updated
	if err := s.saveItems(items); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventItemUpdated, ItemID: itemID})
	s.pushItem(item)
	return nil
}

// SetItemDownloadState is the download manager's write path into items.
// It updates the download flag and progress without emitting an item event;
// the manager publishes the download events itself.
func (s *Service) SetItemDownloadState(itemID string, downloaded bool, progress float64) error {
	s.itemsMu.Lock()
	items, err := s.loadItems()
	if err != nil {
		s.itemsMu.Unlock()
		return err
	}
	found := false
	for i := range items {
		if items[i].ID == itemID {
			items[i] = items[i].WithDownloadState(downloaded, progress)
			found = true
			break
		}
	}
	if !found {
		s.itemsMu.Unlock()
		return domain.ErrItemNotFound
	}
	if err := s.saveItems(items); err != nil {
		s.itemsMu.Unlock()
		return err
	}
	s.itemsMu.Unlock()

	s.invalidateStatistics()
	return nil
}

// --- Private helpers ---

func (s *Service) loadItems() ([]domain.LibraryItem, error) {
	var items []domain.LibraryItem
	if _, err := s.store.Load(domain.KeyItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) saveItems(items []domain.LibraryItem) error {
	return s.store.Save(domain.KeyItems, items)
}

func (s *Service) pushItem(item domain.LibraryItem) {
	if !s.cloudPush {
		return
	}
	go s.syncer.PushItem(context.Background(), item)
}

func (s *Service) pushItemDelete(itemID string) {
	if !s.cloudPush {
		return
	}
	go s.syncer.PushItemDelete(context.Background(), itemID)
}

// removeDownloadRecord drops any download record for a deleted item.
func (s *Service) removeDownloadRecord(itemID string) {
	err := s.downloads.Cancel(itemID)
	if errors.Is(err, domain.ErrInvalidTransition) {
		err = s.downloads.Delete(itemID)
	}
	if err != nil && !errors.Is(err, domain.ErrDownloadNotFound) && !errors.Is(err, domain.ErrItemNotFound) {
		s.logger.Warn("failed to remove download record", "itemID", itemID, "error", err)
	}
}
