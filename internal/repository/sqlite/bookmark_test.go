package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/msomdec/geostory/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestBookmarkRepository_PutAndList(t *testing.T) {
	db := newTestDB(t)
	repo := db.Bookmarks()
	ctx := context.Background()

	older := &domain.Bookmark{
		OwnerID:   "client-1",
		Story:     domain.Story{ID: "story-1", Name: "Ana", Description: "Sunrise", Lat: ptr(-6.2), Lon: ptr(106.8)},
		CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	newer := &domain.Bookmark{
		OwnerID:   "client-1",
		Story:     domain.Story{ID: "story-2", Name: "Budi", Description: "No location"},
		CreatedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	for _, b := range []*domain.Bookmark{older, newer} {
		if err := repo.Put(ctx, b); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	list, err := repo.ListByOwner(ctx, "client-1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 bookmarks, got %d", len(list))
	}
	if list[0].Story.ID != "story-2" {
		t.Fatalf("expected newest first, got %s", list[0].Story.ID)
	}
	got := list[1].Story
	if got.Name != "Ana" || got.Lat == nil || *got.Lat != -6.2 || got.Lon == nil || *got.Lon != 106.8 {
		t.Fatalf("story snapshot not preserved: %+v", got)
	}
	if list[0].Story.Lat != nil {
		t.Fatal("expected missing latitude to stay nil")
	}
}

func TestBookmarkRepository_PutIsUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := db.Bookmarks()
	ctx := context.Background()

	b := &domain.Bookmark{OwnerID: "c", Story: domain.Story{ID: "s", Name: "old"}}
	if err := repo.Put(ctx, b); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b.Story.Name = "new"
	if err := repo.Put(ctx, b); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	list, err := repo.ListByOwner(ctx, "c")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 1 || list[0].Story.Name != "new" {
		t.Fatalf("expected one updated bookmark, got %+v", list)
	}
}

func TestBookmarkRepository_HasRemoveAndIDs(t *testing.T) {
	db := newTestDB(t)
	repo := db.Bookmarks()
	ctx := context.Background()

	if err := repo.Put(ctx, &domain.Bookmark{OwnerID: "a", Story: domain.Story{ID: "s1"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(ctx, &domain.Bookmark{OwnerID: "b", Story: domain.Story{ID: "s2"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	has, err := repo.Has(ctx, "a", "s1")
	if err != nil || !has {
		t.Fatalf("Has(a, s1) = %v, %v; want true", has, err)
	}
	has, err = repo.Has(ctx, "a", "s2")
	if err != nil || has {
		t.Fatalf("Has(a, s2) = %v, %v; want false", has, err)
	}

	ids, err := repo.IDsByOwner(ctx, "b")
	if err != nil {
		t.Fatalf("IDsByOwner: %v", err)
	}
	if len(ids) != 1 || !ids["s2"] {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := repo.Remove(ctx, "a", "s1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := repo.Remove(ctx, "a", "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second Remove, got %v", err)
	}
}
