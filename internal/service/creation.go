package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
)

// SessionState is the publish state machine of a creation session.
type SessionState int

const (
	SessionComposing SessionState = iota
	SessionPublishing
	SessionSucceeded
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionPublishing:
		return "publishing"
	case SessionSucceeded:
		return "succeeded"
	case SessionFailed:
		return "failed"
	default:
		return "composing"
	}
}

const (
	RouteCreate         = "/create"
	CreateSurfaceID     = "mapContainer"
	DefaultMaxImageSize = 10 << 20 // 10 MiB
	DefaultCreateZoom   = 4
)

// DefaultCreateCenter is where a fresh draft is located.
var DefaultCreateCenter = domain.Coordinate{Lat: -3.04628, Lng: 119.79492}

// NoticeKind classifies a user-facing notice.
type NoticeKind string

const (
	NoticeSuccess  NoticeKind = "success"
	NoticeError    NoticeKind = "error"
	NoticeAdvisory NoticeKind = "advisory"
)

// Notice is a transient banner for the user.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// CreateSnapshot is everything the create view renders.
type CreateSnapshot struct {
	Draft      domain.Draft
	State      SessionState
	Capture    CaptureState
	CanPublish bool
}

// CreateView receives renders and notices. Implementations must not block.
// They are called without the session lock held.
type CreateView interface {
	RenderCreate(snap CreateSnapshot)
	Notify(n Notice)
}

type nopCreateView struct{}

func (nopCreateView) RenderCreate(CreateSnapshot) {}
func (nopCreateView) Notify(Notice)               {}

// CreationConfig holds the tunables of a creation session.
type CreationConfig struct {
	SurfaceID    string
	Center       domain.Coordinate
	Zoom         int
	MaxImageSize int64
}

func (c CreationConfig) withDefaults() CreationConfig {
	if c.SurfaceID == "" {
		c.SurfaceID = CreateSurfaceID
	}
	if c.Center == (domain.Coordinate{}) {
		c.Center = DefaultCreateCenter
	}
	if c.Zoom == 0 {
		c.Zoom = DefaultCreateZoom
	}
	if c.MaxImageSize <= 0 {
		c.MaxImageSize = DefaultMaxImageSize
	}
	return c
}

// CreationDeps are the resources a creation session composes.
type CreationDeps struct {
	Maps      *MapRegistry
	Capture   *CaptureController
	Resolver  *LocationResolver
	Publisher domain.StoryPublisher
	View      CreateView
}

// CreationSession drives one story-creation workflow: it keeps the map, the
// camera and the geocoder in step with a single draft and owns their teardown.
type CreationSession struct {
	cfg       CreationConfig
	maps      *MapRegistry
	capture   *CaptureController
	resolver  *LocationResolver
	publisher domain.StoryPublisher
	view      CreateView
	draft     *DraftState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state SessionState
	last  SessionState
	torn  bool
}

// NewCreationSession starts a session: it binds the map surface, leaves the
// camera and resolver in standby and renders the empty draft.
func NewCreationSession(deps CreationDeps, cfg CreationConfig) (*CreationSession, error) {
	cfg = cfg.withDefaults()
	view := deps.View
	if view == nil {
		view = nopCreateView{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &CreationSession{
		cfg:       cfg,
		maps:      deps.Maps,
		capture:   deps.Capture,
		resolver:  deps.Resolver,
		publisher: deps.Publisher,
		view:      view,
		draft:     NewDraftState(cfg.Center),
		ctx:       ctx,
		cancel:    cancel,
	}

	_, err := s.maps.Acquire(cfg.SurfaceID, AcquireOptions{
		Center:    cfg.Center,
		Zoom:      cfg.Zoom,
		Draggable: true,
		OnClick:   s.SetLocationFromMap,
		OnDrag:    s.OnMarkerDrag,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire create map: %w", err)
	}

	s.render()
	return s, nil
}

// Route returns the page route this session serves.
func (s *CreationSession) Route() string { return RouteCreate }

// SurfaceID returns the map surface owned by the session.
func (s *CreationSession) SurfaceID() string { return s.cfg.SurfaceID }

// Snapshot returns the current renderable state.
func (s *CreationSession) Snapshot() CreateSnapshot {
	s.mu.Lock()
	state := s.state
	torn := s.torn
	s.mu.Unlock()

	return CreateSnapshot{
		Draft:      s.draft.Snapshot(),
		State:      state,
		Capture:    s.capture.State(),
		CanPublish: !torn && state == SessionComposing && s.draft.Ready(),
	}
}

// LastOutcome returns Succeeded or Failed for the most recent publish, or
// Composing if nothing was published yet.
func (s *CreationSession) LastOutcome() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CanPublish reports whether the publish affordance is enabled.
func (s *CreationSession) CanPublish() bool {
	return s.Snapshot().CanPublish
}

// SetImage validates src and makes it the draft's only image. An uploaded
// file first closes the camera and discards any captured photo.
func (s *CreationSession) SetImage(src domain.ImageSource) error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	if err := s.validateImage(src); err != nil {
		s.view.Notify(Notice{Kind: NoticeError, Message: err.Error()})
		return err
	}

	img := src
	err := s.edit(func() {
		if img.Origin == domain.ImageOriginUpload {
			s.capture.Clear()
		}
		s.draft.SetImage(&img)
	})
	if err != nil {
		return err
	}
	s.render()
	return nil
}

func (s *CreationSession) validateImage(src domain.ImageSource) error {
	if !strings.HasPrefix(src.ContentType, "image/") {
		return fmt.Errorf("%w: only image files are accepted", domain.ErrInvalidInput)
	}
	if len(src.Data) == 0 {
		return fmt.Errorf("%w: image is empty", domain.ErrInvalidInput)
	}
	if src.Size() > s.cfg.MaxImageSize {
		return fmt.Errorf("%w: image exceeds %d MiB limit", domain.ErrInvalidInput, s.cfg.MaxImageSize>>20)
	}
	return nil
}

// ClearImage removes the active image and any captured photo.
func (s *CreationSession) ClearImage() error {
	err := s.edit(func() {
		s.capture.Clear()
		s.draft.ClearImage()
	})
	if err != nil {
		return err
	}
	s.render()
	return nil
}

// StartCamera opens the capture device for a live preview.
func (s *CreationSession) StartCamera(ctx context.Context) error {
	if err := s.checkLive(); err != nil {
		return err
	}
	err := s.capture.StartCapture(ctx)
	if errors.Is(err, domain.ErrDeviceUnavailable) {
		s.view.Notify(Notice{Kind: NoticeError, Message: "Could not access camera. Please check permissions."})
	}
	s.render()
	return err
}

// StopCamera closes the capture device without taking a photo.
func (s *CreationSession) StopCamera() {
	s.capture.StopCapture()
	if s.checkLive() == nil {
		s.render()
	}
}

// CapturePhoto takes a still from the live stream and makes it the active
// image, replacing any uploaded file.
func (s *CreationSession) CapturePhoto() error {
	if err := s.checkEditable(); err != nil {
		return err
	}
	photo, err := s.capture.CapturePhoto()
	if err != nil {
		return err
	}
	return s.SetImage(*photo)
}

// SetDescription replaces the draft text.
func (s *CreationSession) SetDescription(text string) error {
	if err := s.edit(func() { s.draft.SetDescription(text) }); err != nil {
		return err
	}
	s.render()
	return nil
}

// SetLocationFromMap handles a click on the map.
func (s *CreationSession) SetLocationFromMap(c domain.Coordinate) {
	s.updateLocation(c)
}

// OnMarkerDrag handles the end of a marker drag.
func (s *CreationSession) OnMarkerDrag(c domain.Coordinate) {
	s.updateLocation(c)
}

// updateLocation marks the draft Loading and resolves c in the background.
// Only the lookup for the latest coordinate may name the draft.
func (s *CreationSession) updateLocation(c domain.Coordinate) {
	var req domain.GeocodeRequest
	err := s.edit(func() {
		if c.Valid() {
			req = s.draft.BeginLocation(c, s.resolver.Deadline())
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrPublishInProgress) {
			if h, ok := s.maps.Handle(s.cfg.SurfaceID); ok {
				h.MoveMarker(s.draft.Snapshot().Location.Coordinate)
			}
			s.view.Notify(Notice{Kind: NoticeAdvisory, Message: "The story is being published; the location was not changed."})
		}
		return
	}
	if !c.Valid() {
		s.view.Notify(Notice{Kind: NoticeAdvisory, Message: "Selected position is outside the map."})
		return
	}
	s.render()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.resolver.Resolve(s.ctx, req)
		if !s.draft.ApplyLocation(res) {
			metrics.GeocodeResults.WithLabelValues("stale").Inc()
			slog.Debug("discarded stale geocode result", "seq", res.Seq, "coordinate", res.Coordinate.String())
			return
		}
		if s.checkLive() != nil {
			return
		}
		if res.Err != nil {
			s.view.Notify(Notice{Kind: NoticeAdvisory, Message: "Could not find a place name; showing coordinates instead."})
		}
		s.render()
	}()
}

// Publish submits the draft. It fails fast, without a network call, unless
// the draft has an image and a description, and rejects a second submit
// while one is in flight. On failure the draft is kept for retry.
func (s *CreationSession) Publish(ctx context.Context) error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed", domain.ErrInvalidState)
	}
	if s.state == SessionPublishing {
		s.mu.Unlock()
		return domain.ErrPublishInProgress
	}
	snap := s.draft.Snapshot()
	if snap.Image == nil || strings.TrimSpace(snap.Description) == "" {
		s.mu.Unlock()
		err := fmt.Errorf("%w: a photo and a description are required", domain.ErrInvalidInput)
		s.view.Notify(Notice{Kind: NoticeError, Message: err.Error()})
		return err
	}
	s.state = SessionPublishing
	s.mu.Unlock()
	s.render()

	story := domain.NewStory{
		Description: snap.Description,
		Photo:       *snap.Image,
		Lat:         snap.Location.Lat,
		Lon:         snap.Location.Lng,
	}
	_, err := s.publisher.CreateStory(ctx, story)

	s.mu.Lock()
	if err != nil {
		s.last = SessionFailed
	} else {
		s.last = SessionSucceeded
		if !s.torn {
			s.discardDraft()
		}
	}
	s.state = SessionComposing
	torn := s.torn
	s.mu.Unlock()

	if err != nil {
		metrics.Publishes.WithLabelValues("failure").Inc()
		slog.Warn("publish story failed", "draft", snap.ID, "error", err)
		if !torn {
			s.view.Notify(Notice{Kind: NoticeError, Message: "Failed to publish story. Please try again."})
			s.render()
		}
		return fmt.Errorf("publish story: %w", err)
	}

	metrics.Publishes.WithLabelValues("success").Inc()
	slog.Info("story published", "draft", snap.ID)
	if !torn {
		s.view.Notify(Notice{Kind: NoticeSuccess, Message: "Story published."})
		s.render()
	}
	return nil
}

// Cancel discards the draft and any captured photo.
func (s *CreationSession) Cancel() error {
	if err := s.edit(s.discardDraft); err != nil {
		return err
	}
	s.render()
	return nil
}

func (s *CreationSession) discardDraft() {
	s.capture.Clear()
	s.draft.Reset()
	if h, ok := s.maps.Handle(s.cfg.SurfaceID); ok {
		h.MoveMarker(s.cfg.Center)
	}
}

// Teardown releases the camera and the map surface. It runs regardless of
// state, is idempotent and does not wait for in-flight lookups; their
// results are discarded.
func (s *CreationSession) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.mu.Unlock()

	s.cancel()
	s.capture.Clear()
	s.maps.Release(s.cfg.SurfaceID)
	slog.Debug("creation session torn down", "surface", s.cfg.SurfaceID)
}

// Wait blocks until every in-flight location lookup has finished.
func (s *CreationSession) Wait() {
	s.wg.Wait()
}

func (s *CreationSession) checkLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return fmt.Errorf("%w: session closed", domain.ErrInvalidState)
	}
	return nil
}

// checkEditable is checkLive that also refuses draft edits while a publish
// is in flight, so the submitted draft is the one that gets discarded.
func (s *CreationSession) checkEditable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editableLocked()
}

// edit applies fn to the draft under the session lock so it cannot land
// between Publish taking its snapshot and discarding the draft.
func (s *CreationSession) edit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	fn()
	return nil
}

func (s *CreationSession) editableLocked() error {
	if s.torn {
		return fmt.Errorf("%w: session closed", domain.ErrInvalidState)
	}
	if s.state == SessionPublishing {
		return domain.ErrPublishInProgress
	}
	return nil
}

func (s *CreationSession) render() {
	s.view.RenderCreate(s.Snapshot())
}
