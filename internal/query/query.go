// Package query is the pure, in-memory query engine: filtering, stable
// sorting, pagination, and search over the full item set. It never touches
// storage; callers hand it a snapshot and get a new slice back.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
)

// Filters narrows an item set. Zero-value fields are ignored; slice fields
// use membership (tags/categories match when the intersection is non-empty).
type Filters struct {
	ContentTypes []domain.ContentType
	SourceTypes  []string
	Tags         []string
	Categories   []string
	Authors      []string
	Downloaded   *bool
	SavedAfter   *time.Time
	SavedBefore  *time.Time
}

// SortKey selects the attribute to order by
type SortKey string

const (
	SortByTitle        SortKey = "title"
	SortByAuthor       SortKey = "author"
	SortByDateAdded    SortKey = "date_added"
	SortByLastAccessed SortKey = "last_accessed"
	SortByContentType  SortKey = "content_type"
	SortByFileSize     SortKey = "file_size"
	SortByRating       SortKey = "rating"
)

// Direction of a sort
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Sort describes one ordering request
type Sort struct {
	Key       SortKey
	Direction Direction
}

// Apply returns the items passing every set filter, preserving input order.
func Apply(items []domain.LibraryItem, f Filters) []domain.LibraryItem {
	out := make([]domain.LibraryItem, 0, len(items))
	for _, item := range items {
		if f.matches(item) {
			out = append(out, item)
		}
	}
	return out
}

func (f Filters) matches(item domain.LibraryItem) bool {
	if len(f.ContentTypes) > 0 && !containsContentType(f.ContentTypes, item.ContentType) {
		return false
	}
	if len(f.SourceTypes) > 0 && !containsFold(f.SourceTypes, item.SourceType) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, item.Tags) {
		return false
	}
	if len(f.Categories) > 0 && !intersects(f.Categories, item.Categories) {
		return false
	}
	if len(f.Authors) > 0 && !containsFold(f.Authors, item.Author) {
		return false
	}
	if f.Downloaded != nil && item.IsDownloaded != *f.Downloaded {
		return false
	}
	if f.SavedAfter != nil && item.SavedAt.Before(*f.SavedAfter) {
		return false
	}
	if f.SavedBefore != nil && item.SavedAt.After(*f.SavedBefore) {
		return false
	}
	return true
}

// Order sorts items by the given key and direction. The sort is stable: ties
// preserve the original relative order. Items never accessed sort before all
// accessed ones under last-accessed ascending (distant-past sentinel).
func Order(items []domain.LibraryItem, s Sort) []domain.LibraryItem {
	out := make([]domain.LibraryItem, len(items))
	copy(out, items)

	less := lessFunc(s.Key)
	if less == nil {
		return out
	}
	if s.Direction == Descending {
		inner := less
		less = func(a, b domain.LibraryItem) bool { return inner(b, a) }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func lessFunc(key SortKey) func(a, b domain.LibraryItem) bool {
	switch key {
	case SortByTitle:
		return func(a, b domain.LibraryItem) bool {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	case SortByAuthor:
		return func(a, b domain.LibraryItem) bool {
			return strings.ToLower(a.Author) < strings.ToLower(b.Author)
		}
	case SortByDateAdded:
		return func(a, b domain.LibraryItem) bool { return a.SavedAt.Before(b.SavedAt) }
	case SortByLastAccessed:
		return func(a, b domain.LibraryItem) bool {
			return a.AccessedOrZero().Before(b.AccessedOrZero())
		}
	case SortByContentType:
		return func(a, b domain.LibraryItem) bool { return a.ContentType < b.ContentType }
	case SortByFileSize:
		return func(a, b domain.LibraryItem) bool { return a.FileSize < b.FileSize }
	case SortByRating:
		return func(a, b domain.LibraryItem) bool { return a.Rating < b.Rating }
	default:
		return nil
	}
}

// Paginate returns the window [offset, offset+limit). An offset at or past
// the end returns an empty slice, not an error. A non-positive limit means
// no limit.
func Paginate(items []domain.LibraryItem, limit, offset int) []domain.LibraryItem {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []domain.LibraryItem{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// Search returns the filtered items whose title, description, author, tags,
// or categories contain q (case-insensitive substring). An empty query
// returns the filtered set unsearched.
func Search(items []domain.LibraryItem, q string, f Filters) []domain.LibraryItem {
	filtered := Apply(items, f)
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return filtered
	}

	out := make([]domain.LibraryItem, 0, len(filtered))
	for _, item := range filtered {
		if matchesQuery(item, q) {
			out = append(out, item)
		}
	}
	return out
}

func matchesQuery(item domain.LibraryItem, q string) bool {
	if strings.Contains(strings.ToLower(item.Title), q) ||
		strings.Contains(strings.ToLower(item.Description), q) ||
		strings.Contains(strings.ToLower(item.Author), q) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	for _, cat := range item.Categories {
		if strings.Contains(strings.ToLower(cat), q) {
			return true
		}
	}
	return false
}

// --- Private helpers ---

func containsContentType(set []domain.ContentType, t domain.ContentType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}
