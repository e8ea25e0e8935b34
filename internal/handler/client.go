package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
	"github.com/msomdec/geostory/internal/platform"
	"github.com/msomdec/geostory/internal/service"
	"github.com/msomdec/geostory/internal/storyapi"
	"github.com/patrickmn/go-cache"
)

const noticeBuffer = 8

// AppConfig holds the page settings shared by every client.
type AppConfig struct {
	Create        service.CreationConfig
	Feed          service.MapPageConfig
	Detail        service.DetailConfig
	Capture       domain.CaptureConstraints
	RelayoutDelay time.Duration
}

// Deps are the process-wide services a ClientApp is built from.
type Deps struct {
	Stories     *storyapi.Client
	Credentials *service.CredentialService
	Bookmarks   domain.BookmarkRepository
	Resolver    *service.LocationResolver
	Config      AppConfig
}

// ClientApp is the live page state of one browser: its navigator, map
// engine, camera and the services bound to its credential.
type ClientApp struct {
	ID string

	Engine    *platform.MapEngine
	Maps      *service.MapRegistry
	Device    *platform.FrameDevice
	Capture   *service.CaptureController
	Nav       *service.Navigator
	Feeds     *service.FeedService
	Bookmarks *service.BookmarkService
	Detail    *service.StoryDetail

	stories  *storyapi.Client
	resolver *service.LocationResolver
	cfg      AppConfig

	changed chan struct{}
	notices chan service.Notice
	closed  sync.Once
}

func newClientApp(id string, d Deps) *ClientApp {
	app := &ClientApp{
		ID:       id,
		Device:   platform.NewFrameDevice(),
		Nav:      service.NewNavigator(),
		resolver: d.Resolver,
		cfg:      d.Config,
		changed:  make(chan struct{}, 1),
		notices:  make(chan service.Notice, noticeBuffer),
	}
	app.Engine = platform.NewMapEngine(func(platform.MapEvent) { app.signal() })
	app.Maps = service.NewMapRegistry(app.Engine, d.Config.RelayoutDelay)
	app.Capture = service.NewCaptureController(app.Device, d.Config.Capture)
	app.stories = d.Stories.WithTokenSource(storyapi.TokenSource(d.Credentials.TokenSource(id)))
	app.Feeds = service.NewFeedService(app.stories, d.Bookmarks)
	app.Bookmarks = service.NewBookmarkService(d.Bookmarks, app.stories)
	app.Detail = service.NewStoryDetail(app.Feeds, app.Maps, d.Resolver, d.Config.Detail, app.signal)
	return app
}

// Navigate switches the client to route, tearing the current page and any
// open story detail down first.
func (a *ClientApp) Navigate(ctx context.Context, route string) (service.Page, error) {
	a.Detail.Close()
	p, err := a.Nav.SwitchTo(func() (service.Page, error) {
		switch route {
		case service.RouteFeed:
			return service.NewFeedPage(ctx, a.Feeds, a.Maps, a.ID, a.cfg.Feed)
		case service.RouteBookmarks:
			return service.NewBookmarkPage(ctx, a.Bookmarks, a.Maps, a.ID, a.cfg.Feed)
		case service.RouteCreate:
			return service.NewCreationSession(service.CreationDeps{
				Maps:      a.Maps,
				Capture:   a.Capture,
				Resolver:  a.resolver,
				Publisher: a.stories,
				View:      a,
			}, a.cfg.Create)
		}
		return nil, fmt.Errorf("%w: unknown route %q", domain.ErrInvalidInput, route)
	})
	a.signal()
	return p, err
}

// CreationSession returns the active creation session.
func (a *ClientApp) CreationSession() (*service.CreationSession, error) {
	if s, ok := a.Nav.Current().(*service.CreationSession); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: not on the create page", domain.ErrInvalidState)
}

// OpenDetail shows storyID over the current list page.
func (a *ClientApp) OpenDetail(ctx context.Context, storyID string) (*domain.StoryFeed, error) {
	switch a.Nav.Current().(type) {
	case *service.FeedPage, *service.BookmarkPage:
	default:
		return nil, fmt.Errorf("%w: stories open from a list page", domain.ErrInvalidState)
	}
	return a.Detail.Open(ctx, a.ID, storyID)
}

// Leave closes the story detail and the current page.
func (a *ClientApp) Leave() {
	a.Detail.Close()
	a.Nav.Close()
	a.signal()
}

// RenderCreate implements service.CreateView.
func (a *ClientApp) RenderCreate(service.CreateSnapshot) {
	a.signal()
}

// Notify implements service.CreateView. Notices beyond the buffer are dropped.
func (a *ClientApp) Notify(n service.Notice) {
	select {
	case a.notices <- n:
	default:
		slog.Debug("notice dropped", "client", a.ID, "message", n.Message)
	}
	a.signal()
}

func (a *ClientApp) signal() {
	select {
	case a.changed <- struct{}{}:
	default:
	}
}

// Changed fires whenever renderable state may have changed.
func (a *ClientApp) Changed() <-chan struct{} { return a.changed }

// DrainNotices returns every pending notice.
func (a *ClientApp) DrainNotices() []service.Notice {
	var out []service.Notice
	for {
		select {
		case n := <-a.notices:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Close tears down the active page and releases every device and map.
func (a *ClientApp) Close() {
	a.closed.Do(func() {
		a.Detail.Close()
		a.Nav.Close()
		a.Capture.StopCapture()
		a.Maps.ReleaseAll()
		slog.Debug("client closed", "client", a.ID)
	})
}

// ClientRegistry keeps one ClientApp per client id and closes apps that stay
// idle past the configured timeout.
type ClientRegistry struct {
	deps Deps

	mu   sync.Mutex
	apps *cache.Cache
}

// NewClientRegistry creates a registry whose apps expire after idle.
func NewClientRegistry(deps Deps, idle time.Duration) *ClientRegistry {
	r := &ClientRegistry{deps: deps, apps: cache.New(idle, idle/2)}
	r.apps.OnEvicted(func(id string, v any) {
		metrics.ActiveClients.Dec()
		v.(*ClientApp).Close()
		slog.Info("client evicted", "client", id)
	})
	return r
}

// Get returns the app for id, creating it on first use, and renews its expiry.
func (r *ClientRegistry) Get(id string) *ClientApp {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.apps.Get(id); ok {
		app := v.(*ClientApp)
		r.apps.SetDefault(id, app)
		return app
	}
	app := newClientApp(id, r.deps)
	r.apps.SetDefault(id, app)
	metrics.ActiveClients.Inc()
	return app
}

// Len returns the number of live apps.
func (r *ClientRegistry) Len() int {
	return r.apps.ItemCount()
}

// CloseAll closes every app, for shutdown.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.apps.Items() {
		r.apps.Delete(id)
	}
}
