package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
)

const (
	RouteFeed       = "/"
	RouteBookmarks  = "/bookmarks"
	HomeSurfaceID   = "mapHomeContainer"
	DefaultFeedZoom = 12
	DefaultPageSize = 20
)

// DefaultFeedCenter is shown when no story has a location.
var DefaultFeedCenter = domain.Coordinate{Lat: -7.88289, Lng: 111.45081}

// MapPageConfig configures the multi-marker map of a list page.
type MapPageConfig struct {
	SurfaceID string
	Center    domain.Coordinate
	Zoom      int
	PageSize  int
}

func (c MapPageConfig) withDefaults() MapPageConfig {
	if c.SurfaceID == "" {
		c.SurfaceID = HomeSurfaceID
	}
	if c.Center == (domain.Coordinate{}) {
		c.Center = DefaultFeedCenter
	}
	if c.Zoom == 0 {
		c.Zoom = DefaultFeedZoom
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

func storyMarkers(stories []domain.Story) []MarkerSpec {
	specs := make([]MarkerSpec, len(stories))
	for i, st := range stories {
		specs[i] = MarkerSpec{Lat: st.Lat, Lng: st.Lon, Popup: st.Name}
	}
	return specs
}

// FeedPage lists published stories and shows the located ones on a map.
type FeedPage struct {
	maps *MapRegistry
	cfg  MapPageConfig

	mu      sync.Mutex
	stories []domain.StoryFeed
}

// NewFeedPage loads the first page of the feed and binds the home map.
func NewFeedPage(ctx context.Context, feeds *FeedService, maps *MapRegistry, ownerID string, cfg MapPageConfig) (*FeedPage, error) {
	cfg = cfg.withDefaults()
	stories, err := feeds.Feed(ctx, ownerID, domain.ListOptions{Page: 1, Size: cfg.PageSize})
	if err != nil {
		return nil, err
	}

	plain := make([]domain.Story, len(stories))
	for i := range stories {
		plain[i] = stories[i].Story
	}
	if _, err := maps.DisplayMarkers(cfg.SurfaceID, storyMarkers(plain), DisplayOptions{DefaultCenter: cfg.Center, Zoom: cfg.Zoom}); err != nil {
		return nil, fmt.Errorf("display feed map: %w", err)
	}
	return &FeedPage{maps: maps, cfg: cfg, stories: stories}, nil
}

func (p *FeedPage) Route() string { return RouteFeed }

// SurfaceID returns the map surface the page renders on.
func (p *FeedPage) SurfaceID() string { return p.cfg.SurfaceID }

// Stories returns the loaded feed.
func (p *FeedPage) Stories() []domain.StoryFeed {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.StoryFeed, len(p.stories))
	copy(out, p.stories)
	return out
}

// SetBookmarked updates the flag of a loaded story after a toggle.
func (p *FeedPage) SetBookmarked(storyID string, marked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.stories {
		if p.stories[i].ID == storyID {
			p.stories[i].Bookmarked = marked
		}
	}
}

// Teardown releases the home map.
func (p *FeedPage) Teardown() {
	p.maps.Release(p.cfg.SurfaceID)
}

// BookmarkPage lists saved stories on the same surface as the feed.
type BookmarkPage struct {
	maps *MapRegistry
	cfg  MapPageConfig

	mu        sync.Mutex
	bookmarks []domain.Bookmark
}

// NewBookmarkPage loads the owner's bookmarks and binds the home map.
func NewBookmarkPage(ctx context.Context, bookmarks *BookmarkService, maps *MapRegistry, ownerID string, cfg MapPageConfig) (*BookmarkPage, error) {
	cfg = cfg.withDefaults()
	list, err := bookmarks.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stories := make([]domain.Story, len(list))
	for i := range list {
		stories[i] = list[i].Story
	}
	if _, err := maps.DisplayMarkers(cfg.SurfaceID, storyMarkers(stories), DisplayOptions{DefaultCenter: cfg.Center, Zoom: cfg.Zoom}); err != nil {
		return nil, fmt.Errorf("display bookmark map: %w", err)
	}
	return &BookmarkPage{maps: maps, cfg: cfg, bookmarks: list}, nil
}

func (p *BookmarkPage) Route() string { return RouteBookmarks }

// SurfaceID returns the map surface the page renders on.
func (p *BookmarkPage) SurfaceID() string { return p.cfg.SurfaceID }

// Bookmarks returns the loaded bookmarks.
func (p *BookmarkPage) Bookmarks() []domain.Bookmark {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Bookmark, len(p.bookmarks))
	copy(out, p.bookmarks)
	return out
}

// Teardown releases the home map.
func (p *BookmarkPage) Teardown() {
	p.maps.Release(p.cfg.SurfaceID)
}
