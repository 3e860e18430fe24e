package library

import (
	"sort"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
)

const statsTopN = 5

// GetLibraryStatistics returns the cached statistics snapshot, recomputing it
// when the cache is missing, invalidated, or older than the freshness window.
func (s *Service) GetLibraryStatistics() (domain.LibraryStatistics, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var cached domain.LibraryStatistics
	ok, err := s.store.Load(domain.KeyStatistics, &cached)
	if err != nil {
		return domain.LibraryStatistics{}, err
	}
	if ok && cached.Fresh(s.statsFreshness, time.Now()) {
		return cached, nil
	}

	stats, err := s.computeStatistics()
	if err != nil {
		return domain.LibraryStatistics{}, err
	}
	if err := s.store.Save(domain.KeyStatistics, stats); err != nil {
		// Serve the fresh computation even when the cache write fails
		s.logger.Warn("failed to cache statistics", "error", err)
	}
	return stats, nil
}

// RefreshStatistics discards the cache and recomputes immediately.
func (s *Service) RefreshStatistics() (domain.LibraryStatistics, error) {
	s.invalidateStatistics()
	return s.GetLibraryStatistics()
}

// invalidateStatistics drops the cached snapshot; the next read recomputes.
func (s *Service) invalidateStatistics() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err := s.store.Delete(domain.KeyStatistics); err != nil {
		s.logger.Warn("failed to invalidate statistics", "error", err)
	}
}

func (s *Service) computeStatistics() (domain.LibraryStatistics, error) {
	items, err := s.loadItems()
	if err != nil {
		return domain.LibraryStatistics{}, err
	}
	cols, err := s.loadCollections()
	if err != nil {
		return domain.LibraryStatistics{}, err
	}

	stats := domain.LibraryStatistics{
		TotalItems:  len(items),
		ItemsByType: make(map[domain.ContentType]int),
		Collections: cols,
		ComputedAt:  time.Now(),
	}
	for _, item := range items {
		stats.ItemsByType[item.ContentType]++
		stats.TotalBytes += item.FileSize
		if item.IsDownloaded {
			stats.DownloadedBytes += item.FileSize
		}
	}

	accessed := make([]domain.LibraryItem, 0, len(items))
	for _, item := range items {
		if item.LastAccessedAt != nil {
			accessed = append(accessed, item)
		}
	}
	sort.SliceStable(accessed, func(i, j int) bool {
		return accessed[i].AccessedOrZero().After(accessed[j].AccessedOrZero())
	})
	stats.MostAccessed = topN(accessed, statsTopN)

	recent := make([]domain.LibraryItem, len(items))
	copy(recent, items)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].SavedAt.After(recent[j].SavedAt)
	})
	stats.RecentlyAdded = topN(recent, statsTopN)

	if status, err := s.syncer.Status(); err == nil {
		stats.LastSyncAt = status.LastSyncAt
	}

	s.logger.Debug("statistics computed", "items", stats.TotalItems, "totalSize", stats.FormattedTotalSize())
	return stats, nil
}

func topN(items []domain.LibraryItem, n int) []domain.LibraryItem {
	if len(items) > n {
		items = items[:n]
	}
	out := make([]domain.LibraryItem, len(items))
	copy(out, items)
	return out
}
