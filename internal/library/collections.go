package library

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/versekeep/versekeep/internal/domain"
)

// GetAllCollections returns every collection ordered by sort order, then name.
func (s *Service) GetAllCollections() ([]domain.LibraryCollection, error) {
	cols, err := s.loadCollections()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].SortOrder != cols[j].SortOrder {
			return cols[i].SortOrder < cols[j].SortOrder
		}
		return cols[i].Name < cols[j].Name
	})
	return cols, nil
}

// GetCollection returns one collection by id.
func (s *Service) GetCollection(collectionID string) (domain.LibraryCollection, error) {
	cols, err := s.loadCollections()
	if err != nil {
		return domain.LibraryCollection{}, err
	}
	for _, col := range cols {
		if col.ID == collectionID {
			return col, nil
		}
	}
	return domain.LibraryCollection{}, domain.ErrCollectionNotFound
}

// GetCollectionItems returns the collection's items in membership order.
// Dangling ids (members no longer in the item set) are filtered out.
func (s *Service) GetCollectionItems(collectionID string) ([]domain.LibraryItem, error) {
	col, err := s.GetCollection(collectionID)
	if err != nil {
		return nil, err
	}
	items, err := s.loadItems()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.LibraryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	out := make([]domain.LibraryItem, 0, len(col.ItemIDs))
	for _, id := range col.ItemIDs {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// CreateCollection persists a new collection. A missing id is generated.
func (s *Service) CreateCollection(ctx context.Context, col domain.LibraryCollection) (domain.LibraryCollection, error) {
	if col.Name == "" {
		return domain.LibraryCollection{}, fmt.Errorf("collection name is required: %w", domain.ErrInvalidRequest)
	}
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	now := time.Now()
	if col.CreatedAt.IsZero() {
		col.CreatedAt = now
	}
	col.UpdatedAt = now
	col.ItemCount = len(col.ItemIDs)

	s.collectionsMu.Lock()
	cols, err := s.loadCollections()
	if err != nil {
		s.collectionsMu.Unlock()
		return domain.LibraryCollection{}, err
	}
	for _, existing := range cols {
		if existing.ID == col.ID {
			s.collectionsMu.Unlock()
			return domain.LibraryCollection{}, fmt.Errorf("collection %q already exists: %w", col.ID, domain.ErrInvalidRequest)
		}
	}
	cols = append(cols, col)
	if err := s.saveCollections(cols); err != nil {
		s.collectionsMu.Unlock()
		return domain.LibraryCollection{}, err
	}
	s.collectionsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventCollectionCreated, CollectionID: col.ID})
	s.pushCollection(col, true)
	s.logger.Debug("collection created", "collectionID", col.ID, "name", col.Name)
	return col, nil
}

// UpdateCollection replaces an existing collection by id.
func (s *Service) UpdateCollection(ctx context.Context, col domain.LibraryCollection) error {
	col.UpdatedAt = time.Now()
	col.ItemCount = len(col.ItemIDs)

	s.collectionsMu.Lock()
	cols, err := s.loadCollections()
	if err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	found := false
	for i := range cols {
		if cols[i].ID == col.ID {
			cols[i] = col
			found = true
			break
		}
	}
	if !found {
		s.collectionsMu.Unlock()
		return domain.ErrCollectionNotFound
	}
	if err := s.saveCollections(cols); err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	s.collectionsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventCollectionUpdated, CollectionID: col.ID})
	s.pushCollection(col, false)
	return nil
}

// DeleteCollection removes a collection. Member items are untouched: the
// membership list is a back-reference, never an ownership link.
func (s *Service) DeleteCollection(ctx context.Context, collectionID string) error {
	s.collectionsMu.Lock()
	cols, err := s.loadCollections()
	if err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	kept := cols[:0]
	found := false
	for _, col := range cols {
		if col.ID == collectionID {
			found = true
			continue
		}
		kept = append(kept, col)
	}
	if !found {
		s.collectionsMu.Unlock()
		return domain.ErrCollectionNotFound
	}
	if err := s.saveCollections(kept); err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	s.collectionsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventCollectionDeleted, CollectionID: collectionID})
	s.pushCollectionDelete(collectionID)
	s.logger.Debug("collection deleted", "collectionID", collectionID)
	return nil
}

// AddItemToCollection appends an item id to the collection's membership.
// Adding an id already present is a no-op that still succeeds.
func (s *Service) AddItemToCollection(ctx context.Context, itemID, collectionID string) error {
	return s.mutateCollection(collectionID, func(col *domain.LibraryCollection) bool {
		if col.Contains(itemID) {
			return false
		}
		col.ItemIDs = append(col.ItemIDs, itemID)
		return true
	})
}

// RemoveItemFromCollection drops an item id from the collection's membership.
func (s *Service) RemoveItemFromCollection(ctx context.Context, itemID, collectionID string) error {
	return s.mutateCollection(collectionID, func(col *domain.LibraryCollection) bool {
		for i, id := range col.ItemIDs {
			if id == itemID {
				col.ItemIDs = append(col.ItemIDs[:i], col.ItemIDs[i+1:]...)
				return true
			}
		}
		return false
	})
}

// mutateCollection applies one membership change under the collections lock.
// apply reports whether anything changed; unchanged collections are not
// rewritten and publish no event.
func (s *Service) mutateCollection(collectionID string, apply func(*domain.LibraryCollection) bool) error {
	s.collectionsMu.Lock()
	cols, err := s.loadCollections()
	if err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	idx := -1
	for i := range cols {
		if cols[i].ID == collectionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.collectionsMu.Unlock()
		return domain.ErrCollectionNotFound
	}
	if !apply(&cols[idx]) {
		s.collectionsMu.Unlock()
		return nil
	}
	cols[idx].ItemCount = len(cols[idx].ItemIDs)
	cols[idx].UpdatedAt = time.Now()
	col := cols[idx]
	if err := s.saveCollections(cols); err != nil {
		s.collectionsMu.Unlock()
		return err
	}
	s.collectionsMu.Unlock()

	s.invalidateStatistics()
	s.bus.Publish(domain.Event{Type: domain.EventCollectionUpdated, CollectionID: collectionID})
	s.pushCollection(col, false)
	return nil
}

// --- Private helpers ---

func (s *Service) loadCollections() ([]domain.LibraryCollection, error) {
	var cols []domain.LibraryCollection
	if _, err := s.store.Load(domain.KeyCollections, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func (s *Service) saveCollections(cols []domain.LibraryCollection) error {
	return s.store.Save(domain.KeyCollections, cols)
}

func (s *Service) pushCollection(col domain.LibraryCollection, created bool) {
	if !s.cloudPush {
		return
	}
	go s.syncer.PushCollection(context.Background(), col, created)
}

func (s *Service) pushCollectionDelete(collectionID string) {
	if !s.cloudPush {
		return
	}
	go s.syncer.PushCollectionDelete(context.Background(), collectionID)
}
