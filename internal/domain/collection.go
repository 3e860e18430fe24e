package domain

import "time"

// LibraryCollection is a named, ordered grouping of item ids.
// Item ids are soft references: a referenced item need not exist in the item
// set, and dangling ids are filtered when the collection's items are read.
type LibraryCollection struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Color       string   `json:"color"` // Display color (hex or named)
	Icon        string   `json:"icon"`  // Display icon identifier
	ItemIDs     []string `json:"item_ids"`
	ItemCount   int      `json:"item_count"` // Always equals len(ItemIDs)

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDefault bool `json:"is_default"` // Default collection for new saves
	SortOrder int  `json:"sort_order"` // User-defined ordering among collections
}

// Contains reports whether the collection references the given item id.
func (c LibraryCollection) Contains(itemID string) bool {
	for _, id := range c.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}
