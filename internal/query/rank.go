package query

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/versekeep/versekeep/internal/domain"
)

// RankFold returns items whose titles fuzzy-match q, best matches first.
// Unlike Search this tolerates typos and ranks by edit distance, which suits
// typeahead callers; exact-substring callers should use Search.
func RankFold(items []domain.LibraryItem, q string) []domain.LibraryItem {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}

	ranks := fuzzy.RankFindFold(q, titles)
	sort.Sort(ranks)

	out := make([]domain.LibraryItem, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, items[r.OriginalIndex])
	}
	return out
}
