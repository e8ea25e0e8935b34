package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
)

const (
	DetailSurfaceID       = "storyModalMap"
	DefaultDetailZoom     = 12
	LoadingDetailLocation = "Loading location..."
)

// DetailConfig configures the story detail map.
type DetailConfig struct {
	SurfaceID string
	Zoom      int
}

func (c DetailConfig) withDefaults() DetailConfig {
	if c.SurfaceID == "" {
		c.SurfaceID = DetailSurfaceID
	}
	if c.Zoom == 0 {
		c.Zoom = DefaultDetailZoom
	}
	return c
}

// DetailSnapshot is the renderable state of the story detail.
type DetailSnapshot struct {
	Story        *domain.StoryFeed
	LocationName string
	Resolving    bool
	SurfaceID    string
	HasMap       bool
}

// StoryDetail shows one story over a list page, with its own single-marker
// map on a separate surface and the reverse-geocoded name of its location.
// At most one story is open at a time.
type StoryDetail struct {
	feeds    *FeedService
	maps     *MapRegistry
	resolver *LocationResolver
	cfg      DetailConfig
	onChange func()

	mu       sync.Mutex
	story    *domain.StoryFeed
	location string
	resolve  bool
	hasMap   bool
	seq      uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewStoryDetail creates a closed detail. onChange may be nil.
func NewStoryDetail(feeds *FeedService, maps *MapRegistry, resolver *LocationResolver, cfg DetailConfig, onChange func()) *StoryDetail {
	if onChange == nil {
		onChange = func() {}
	}
	return &StoryDetail{
		feeds:    feeds,
		maps:     maps,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		onChange: onChange,
	}
}

// SurfaceID returns the surface the detail map binds to.
func (d *StoryDetail) SurfaceID() string { return d.cfg.SurfaceID }

// Open loads storyID and shows it, replacing any open story. A located story
// gets a map centered on it and its place name is resolved in the background.
func (d *StoryDetail) Open(ctx context.Context, ownerID, storyID string) (*domain.StoryFeed, error) {
	st, err := d.feeds.Story(ctx, ownerID, storyID)
	if err != nil {
		return nil, err
	}
	d.Close()

	at, located := storyCoordinate(st.Story)
	lctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.story = st
	d.location = ""
	d.resolve = located
	d.hasMap = located
	d.cancel = cancel
	if located {
		d.location = LoadingDetailLocation
	}
	d.mu.Unlock()

	if !located {
		d.onChange()
		return st, nil
	}

	if _, err := d.maps.Acquire(d.cfg.SurfaceID, AcquireOptions{Center: at, Zoom: d.cfg.Zoom}); err != nil {
		d.Close()
		return nil, fmt.Errorf("acquire detail map: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		name := d.resolver.ResolveName(lctx, at)

		d.mu.Lock()
		if d.seq != seq {
			d.mu.Unlock()
			slog.Debug("discarded stale detail location", "story", st.Story.ID)
			return
		}
		d.location = name
		d.resolve = false
		d.mu.Unlock()
		d.onChange()
	}()

	d.onChange()
	return st, nil
}

// Close hides the story and releases its map. It is a no-op when nothing is open.
func (d *StoryDetail) Close() {
	d.mu.Lock()
	open := d.story != nil
	d.seq++
	d.story = nil
	d.location = ""
	d.resolve = false
	d.hasMap = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.maps.Release(d.cfg.SurfaceID)
	if open {
		d.onChange()
	}
}

// Snapshot returns the current state; Story is nil while closed.
func (d *StoryDetail) Snapshot() DetailSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := DetailSnapshot{
		LocationName: d.location,
		Resolving:    d.resolve,
		SurfaceID:    d.cfg.SurfaceID,
		HasMap:       d.hasMap,
	}
	if d.story != nil {
		st := *d.story
		snap.Story = &st
	}
	return snap
}

// Wait blocks until every background lookup has finished.
func (d *StoryDetail) Wait() {
	d.wg.Wait()
}

func storyCoordinate(s domain.Story) (domain.Coordinate, bool) {
	if s.Lat == nil || s.Lon == nil {
		return domain.Coordinate{}, false
	}
	c := domain.Coordinate{Lat: *s.Lat, Lng: *s.Lon}
	return c, c.Valid()
}
