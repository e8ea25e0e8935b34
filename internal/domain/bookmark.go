package domain

import (
	"context"
	"time"
)

// Bookmark is a story saved locally by a client.
type Bookmark struct {
	OwnerID   string
	Story     Story
	CreatedAt time.Time
}

// BookmarkRepository persists bookmarks keyed by owner and story id.
type BookmarkRepository interface {
	Put(ctx context.Context, bookmark *Bookmark) error
	Remove(ctx context.Context, ownerID, storyID string) error
	Has(ctx context.Context, ownerID, storyID string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Bookmark, error)
	// IDsByOwner returns the set of bookmarked story ids.
	IDsByOwner(ctx context.Context, ownerID string) (map[string]bool, error)
}
