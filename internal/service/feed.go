package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"golang.org/x/sync/errgroup"
)

// FeedService reads published stories for one client and marks the ones the
// client has bookmarked.
type FeedService struct {
	stories   domain.StoryReader
	bookmarks domain.BookmarkRepository
}

// NewFeedService creates a new FeedService.
func NewFeedService(stories domain.StoryReader, bookmarks domain.BookmarkRepository) *FeedService {
	return &FeedService{stories: stories, bookmarks: bookmarks}
}

// Feed loads a page of stories and the owner's bookmark ids concurrently.
func (s *FeedService) Feed(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.StoryFeed, error) {
	var (
		stories []domain.Story
		marked  map[string]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stories, err = s.stories.ListStories(gctx, opts)
		if err != nil {
			return fmt.Errorf("list stories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		marked, err = s.bookmarks.IDsByOwner(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("list bookmark ids: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	feed := make([]domain.StoryFeed, len(stories))
	for i, st := range stories {
		feed[i] = domain.StoryFeed{Story: st, Bookmarked: marked[st.ID]}
	}
	return feed, nil
}

// Story loads one story annotated with the owner's bookmark flag.
func (s *FeedService) Story(ctx context.Context, ownerID, id string) (*domain.StoryFeed, error) {
	st, err := s.stories.GetStory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	has, err := s.bookmarks.Has(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("check bookmark: %w", err)
	}
	return &domain.StoryFeed{Story: *st, Bookmarked: has}, nil
}

// BookmarkService saves stories locally so they can be shown without the API.
type BookmarkService struct {
	bookmarks domain.BookmarkRepository
	stories   domain.StoryReader
	now       func() time.Time
}

// NewBookmarkService creates a new BookmarkService.
func NewBookmarkService(bookmarks domain.BookmarkRepository, stories domain.StoryReader) *BookmarkService {
	return &BookmarkService{bookmarks: bookmarks, stories: stories, now: time.Now}
}

// Toggle bookmarks storyID for ownerID, or removes the bookmark if it exists.
// It returns the new flag.
func (s *BookmarkService) Toggle(ctx context.Context, ownerID, storyID string) (bool, error) {
	if storyID == "" {
		return false, fmt.Errorf("%w: story id is required", domain.ErrInvalidInput)
	}

	has, err := s.bookmarks.Has(ctx, ownerID, storyID)
	if err != nil {
		return false, fmt.Errorf("check bookmark: %w", err)
	}
	if has {
		if err := s.bookmarks.Remove(ctx, ownerID, storyID); err != nil {
			return false, fmt.Errorf("remove bookmark: %w", err)
		}
		slog.Debug("bookmark removed", "owner", ownerID, "story", storyID)
		return false, nil
	}

	st, err := s.stories.GetStory(ctx, storyID)
	if err != nil {
		return false, fmt.Errorf("get story: %w", err)
	}
	b := &domain.Bookmark{OwnerID: ownerID, Story: *st, CreatedAt: s.now().UTC()}
	if err := s.bookmarks.Put(ctx, b); err != nil {
		return false, fmt.Errorf("put bookmark: %w", err)
	}
	slog.Debug("bookmark added", "owner", ownerID, "story", storyID)
	return true, nil
}

// List returns the owner's bookmarks, newest first.
func (s *BookmarkService) List(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	list, err := s.bookmarks.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return list, nil
}
