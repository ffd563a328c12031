package domain

import (
	"context"
	"strings"
	"unicode"
)

// Item is a single creature record as served by the remote API.
// Items are plain values; two items are equal when all fields match.
type Item struct {
	Name     string `json:"name"`
	ImageURL string `json:"img"`
	Level    string `json:"level"`
}

// ImageID derives the on-disk identifier for an item's image from its name.
// The name is lower-cased, every run of whitespace becomes a single
// underscore, and path separators are replaced so the ID is always a plain
// file name. An empty or blank name has no ID.
func ImageID(name string) string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/' || r == '\\'
	})
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, "_"))
}

// ItemStore is the durable local copy of the full item collection together
// with one persisted image per item.
type ItemStore interface {
	// SaveAll replaces the stored collection with items. Anything not in
	// items is removed, including its image.
	SaveAll(ctx context.Context, items []Item) error

	// FetchAll returns the stored collection in save order.
	FetchAll(ctx context.Context) ([]Item, error)

	// ImageFor returns the persisted image for the item with exactly this
	// name, or nil when there is none.
	ImageFor(ctx context.Context, name string) (*Image, error)

	// ClearAll deletes every stored item and image.
	ClearAll(ctx context.Context) error
}
