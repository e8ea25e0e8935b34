package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/platform"
	"github.com/msomdec/geostory/internal/service"
)

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	calls   []domain.NewStory
	entered chan struct{}
	release chan struct{}
}

func (p *fakePublisher) CreateStory(ctx context.Context, story domain.NewStory) (*domain.PublishResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, story)
	err := p.err
	entered, release := p.entered, p.release
	p.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &domain.PublishResult{Message: "Story created successfully"}, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingView struct {
	mu      sync.Mutex
	renders int
	notices []service.Notice
}

func (v *recordingView) RenderCreate(service.CreateSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders++
}

func (v *recordingView) Notify(n service.Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *recordingView) lastNotice() (service.Notice, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.notices) == 0 {
		return service.Notice{}, false
	}
	return v.notices[len(v.notices)-1], true
}

type creationFixture struct {
	session   *service.CreationSession
	engine    *platform.MapEngine
	maps      *service.MapRegistry
	device    *platform.FrameDevice
	capture   *service.CaptureController
	geocoder  *fakeGeocoder
	publisher *fakePublisher
	view      *recordingView
}

func newCreationFixture(t *testing.T) *creationFixture {
	t.Helper()
	f := &creationFixture{
		engine:    platform.NewMapEngine(nil),
		device:    platform.NewFrameDevice(),
		geocoder:  newFakeGeocoder(),
		publisher: &fakePublisher{},
		view:      &recordingView{},
	}
	f.maps = service.NewMapRegistry(f.engine, time.Millisecond)
	f.capture = service.NewCaptureController(f.device, service.DefaultCaptureConstraints)

	s, err := service.NewCreationSession(service.CreationDeps{
		Maps:      f.maps,
		Capture:   f.capture,
		Resolver:  service.NewLocationResolver(f.geocoder, time.Second),
		Publisher: f.publisher,
		View:      f.view,
	}, service.CreationConfig{})
	require.NoError(t, err)
	f.session = s
	t.Cleanup(func() {
		s.Teardown()
		s.Wait()
	})
	return f
}

func pngUpload(size int) domain.ImageSource {
	data := make([]byte, size)
	return domain.ImageSource{Filename: "photo.png", ContentType: "image/png", Data: data, Origin: domain.ImageOriginUpload}
}

func (f *creationFixture) makeReady(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.SetImage(pngUpload(16)))
	require.NoError(t, f.session.SetDescription("Morning at the market"))
	require.True(t, f.session.CanPublish())
}

func TestCreationSession_StartsWithMapAtDefaultCenter(t *testing.T) {
	f := newCreationFixture(t)

	view, ok := f.engine.View(service.CreateSurfaceID)
	require.True(t, ok)
	assert.Equal(t, service.DefaultCreateCenter, view.Center)
	assert.Equal(t, service.DefaultCreateZoom, view.Zoom)
	require.Len(t, view.Markers, 1)
	assert.True(t, view.Markers[0].Draggable)
	assert.Equal(t, service.DefaultCreateCenter, view.Markers[0].At)

	snap := f.session.Snapshot()
	assert.Equal(t, service.SessionComposing, snap.State)
	assert.False(t, snap.CanPublish)
	assert.Equal(t, service.DefaultCreateCenter, snap.Draft.Location.Coordinate)
	assert.Equal(t, service.RouteCreate, f.session.Route())
}

func TestCreationSession_SetImageValidation(t *testing.T) {
	f := newCreationFixture(t)

	err := f.session.SetImage(domain.ImageSource{Filename: "a.txt", ContentType: "text/plain", Data: []byte("x"), Origin: domain.ImageOriginUpload})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = f.session.SetImage(pngUpload(service.DefaultMaxImageSize + 1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, service.NoticeError, n.Kind)

	assert.Nil(t, f.session.Snapshot().Draft.Image)
	require.NoError(t, f.session.SetImage(pngUpload(service.DefaultMaxImageSize)))
}

func TestCreationSession_OversizeImageKeepsCurrentImage(t *testing.T) {
	f := newCreationFixture(t)
	require.NoError(t, f.session.SetImage(pngUpload(8)))
	before := f.session.Snapshot().Draft

	err := f.session.SetImage(pngUpload(15 << 20))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	after := f.session.Snapshot().Draft
	require.NotNil(t, after.Image)
	assert.Equal(t, 8, len(after.Image.Data))
	assert.Equal(t, domain.ImageOriginUpload, after.Image.Origin)
	assert.Equal(t, before.Preview, after.Preview)
}

func TestCreationSession_UploadReplacesCapturedPhoto(t *testing.T) {
	f := newCreationFixture(t)
	f.device.PushFrame(testFrame())

	require.NoError(t, f.session.StartCamera(context.Background()))
	require.NoError(t, f.session.CapturePhoto())
	assert.Equal(t, domain.ImageOriginCapture, f.session.Snapshot().Draft.Image.Origin)
	assert.NotNil(t, f.capture.Photo())

	require.NoError(t, f.session.SetImage(pngUpload(8)))

	snap := f.session.Snapshot()
	assert.Equal(t, domain.ImageOriginUpload, snap.Draft.Image.Origin)
	assert.Nil(t, f.capture.Photo())
	assert.Equal(t, service.CaptureIdle, snap.Capture)
}

func TestCreationSession_CameraDeniedNotifies(t *testing.T) {
	f := newCreationFixture(t)
	f.device.SetUnavailable(platform.ErrPermissionDenied)

	err := f.session.StartCamera(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, "Could not access camera. Please check permissions.", n.Message)
	assert.Equal(t, service.CaptureIdle, f.session.Snapshot().Capture)
}

func TestCreationSession_ClickResolvesLocation(t *testing.T) {
	f := newCreationFixture(t)
	target := domain.Coordinate{Lat: -6.9, Lng: 107.6}
	f.geocoder.answer(target, &domain.Address{County: "Bandung", Country: "Indonesia"})

	require.NoError(t, f.engine.Click(service.CreateSurfaceID, target))
	f.session.Wait()

	loc := f.session.Snapshot().Draft.Location
	assert.Equal(t, target, loc.Coordinate)
	assert.Equal(t, "Bandung", loc.DisplayName)
	assert.Equal(t, domain.ResolutionResolved, loc.State)

	view, _ := f.engine.View(service.CreateSurfaceID)
	assert.Equal(t, target, view.Markers[0].At)
}

func TestCreationSession_OnlyLatestDragIsApplied(t *testing.T) {
	f := newCreationFixture(t)
	first := domain.Coordinate{Lat: -6.2, Lng: 106.8}
	second := domain.Coordinate{Lat: -6.9, Lng: 107.6}
	f.geocoder.answer(first, &domain.Address{City: "Jakarta"})
	f.geocoder.answer(second, &domain.Address{County: "Bandung"})
	releaseFirst := f.geocoder.hold(first)

	require.NoError(t, f.engine.DragMarker(service.CreateSurfaceID, first))
	require.NoError(t, f.engine.DragMarker(service.CreateSurfaceID, second))

	// The second lookup answers first; the first answers late.
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Draft.Location.DisplayName == "Bandung"
	}, time.Second, 5*time.Millisecond)
	close(releaseFirst)
	f.session.Wait()

	loc := f.session.Snapshot().Draft.Location
	assert.Equal(t, second, loc.Coordinate)
	assert.Equal(t, "Bandung", loc.DisplayName)
	assert.Equal(t, domain.ResolutionResolved, loc.State)
}

func TestCreationSession_GeocodeFailureShowsCoordinates(t *testing.T) {
	f := newCreationFixture(t)
	f.geocoder.err = errors.New("geocoder unavailable")
	target := domain.Coordinate{Lat: -6.2, Lng: 106.8}

	f.session.SetLocationFromMap(target)
	f.session.Wait()

	loc := f.session.Snapshot().Draft.Location
	assert.Equal(t, domain.FallbackLocationName(target), loc.DisplayName)
	assert.Equal(t, domain.ResolutionFailed, loc.State)
	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, service.NoticeAdvisory, n.Kind)
}

func TestCreationSession_InvalidCoordinateIgnored(t *testing.T) {
	f := newCreationFixture(t)

	f.session.SetLocationFromMap(domain.Coordinate{Lat: 95, Lng: 0})
	f.session.Wait()

	assert.Equal(t, 0, f.geocoder.callCount())
	assert.Equal(t, service.DefaultCreateCenter, f.session.Snapshot().Draft.Location.Coordinate)
}

func TestCreationSession_PublishRequiresImageAndDescription(t *testing.T) {
	f := newCreationFixture(t)

	err := f.session.Publish(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, f.session.SetDescription("no photo yet"))
	err = f.session.Publish(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, 0, f.publisher.callCount())
}

func TestCreationSession_PublishSuccessResetsDraft(t *testing.T) {
	f := newCreationFixture(t)
	f.makeReady(t)
	target := domain.Coordinate{Lat: -6.2, Lng: 106.8}
	f.session.SetLocationFromMap(target)
	f.session.Wait()
	before := f.session.Snapshot().Draft.ID

	require.NoError(t, f.session.Publish(context.Background()))

	require.Equal(t, 1, f.publisher.callCount())
	sent := f.publisher.calls[0]
	assert.Equal(t, "Morning at the market", sent.Description)
	assert.Equal(t, -6.2, sent.Lat)
	assert.Equal(t, 106.8, sent.Lon)
	assert.Equal(t, "photo.png", sent.Photo.Filename)

	snap := f.session.Snapshot()
	assert.Equal(t, service.SessionSucceeded, f.session.LastOutcome())
	assert.Equal(t, service.SessionComposing, snap.State)
	assert.NotEqual(t, before, snap.Draft.ID)
	assert.Nil(t, snap.Draft.Image)
	assert.Empty(t, snap.Draft.Description)
	assert.Equal(t, service.DefaultCreateCenter, snap.Draft.Location.Coordinate)

	view, _ := f.engine.View(service.CreateSurfaceID)
	assert.Equal(t, service.DefaultCreateCenter, view.Markers[0].At)

	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, service.NoticeSuccess, n.Kind)
}

func TestCreationSession_PublishFailureKeepsDraft(t *testing.T) {
	f := newCreationFixture(t)
	f.makeReady(t)
	f.publisher.err = errors.New("network down")
	before := f.session.Snapshot().Draft

	err := f.session.Publish(context.Background())
	require.Error(t, err)

	snap := f.session.Snapshot()
	assert.Equal(t, service.SessionFailed, f.session.LastOutcome())
	assert.Equal(t, before.ID, snap.Draft.ID)
	assert.Equal(t, before.Description, snap.Draft.Description)
	assert.NotNil(t, snap.Draft.Image)
	assert.True(t, snap.CanPublish)

	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, "Failed to publish story. Please try again.", n.Message)

	// A retry goes through once the service recovers.
	f.publisher.mu.Lock()
	f.publisher.err = nil
	f.publisher.mu.Unlock()
	require.NoError(t, f.session.Publish(context.Background()))
	assert.Equal(t, 2, f.publisher.callCount())
}

func TestCreationSession_RejectsConcurrentPublish(t *testing.T) {
	f := newCreationFixture(t)
	f.makeReady(t)
	f.publisher.entered = make(chan struct{})
	f.publisher.release = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- f.session.Publish(context.Background()) }()
	<-f.publisher.entered

	assert.Equal(t, service.SessionPublishing, f.session.Snapshot().State)
	assert.False(t, f.session.CanPublish())
	assert.ErrorIs(t, f.session.Publish(context.Background()), domain.ErrPublishInProgress)

	close(f.publisher.release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, f.publisher.callCount())
}

func TestCreationSession_CancelDiscardsDraft(t *testing.T) {
	f := newCreationFixture(t)
	f.makeReady(t)

	require.NoError(t, f.session.Cancel())

	snap := f.session.Snapshot()
	assert.Nil(t, snap.Draft.Image)
	assert.Empty(t, snap.Draft.Description)
	assert.False(t, snap.CanPublish)
	assert.Equal(t, 0, f.publisher.callCount())
}

func TestCreationSession_TeardownReleasesEverything(t *testing.T) {
	f := newCreationFixture(t)
	require.NoError(t, f.session.StartCamera(context.Background()))
	require.Equal(t, 1, f.device.ActiveTracks())
	m, ok := f.engine.Live(service.CreateSurfaceID)
	require.True(t, ok)

	f.session.Teardown()
	f.session.Teardown()

	assert.Equal(t, 0, f.device.ActiveTracks())
	assert.Equal(t, service.CaptureIdle, f.capture.State())
	assert.True(t, m.Removed())
	assert.Equal(t, 0, m.Listeners())
	assert.Equal(t, 0, f.engine.LiveCount())
	assert.Equal(t, 0, f.maps.Len())

	assert.ErrorIs(t, f.session.Publish(context.Background()), domain.ErrInvalidState)
	assert.ErrorIs(t, f.session.SetImage(pngUpload(4)), domain.ErrInvalidState)
	assert.False(t, f.session.CanPublish())
}

func TestCreationSession_TeardownDiscardsPendingLookup(t *testing.T) {
	f := newCreationFixture(t)
	target := domain.Coordinate{Lat: -6.2, Lng: 106.8}
	f.geocoder.answer(target, &domain.Address{City: "Jakarta"})
	release := f.geocoder.hold(target)
	defer close(release)

	f.session.SetLocationFromMap(target)
	f.session.Teardown()
	f.session.Wait()

	loc := f.session.Snapshot().Draft.Location
	assert.NotEqual(t, "Jakarta", loc.DisplayName)
}

func TestCreationSession_SecondSessionReusesSurface(t *testing.T) {
	f := newCreationFixture(t)
	f.session.Teardown()

	s, err := service.NewCreationSession(service.CreationDeps{
		Maps:      f.maps,
		Capture:   f.capture,
		Resolver:  service.NewLocationResolver(f.geocoder, time.Second),
		Publisher: f.publisher,
	}, service.CreationConfig{})
	require.NoError(t, err)
	defer s.Teardown()

	assert.Equal(t, 1, f.engine.LiveCount())
}

func TestCreationSession_EditsRejectedWhilePublishing(t *testing.T) {
	f := newCreationFixture(t)
	f.makeReady(t)
	f.publisher.entered = make(chan struct{})
	f.publisher.release = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- f.session.Publish(context.Background()) }()
	<-f.publisher.entered

	assert.ErrorIs(t, f.session.ClearImage(), domain.ErrPublishInProgress)
	assert.ErrorIs(t, f.session.SetImage(pngUpload(4)), domain.ErrPublishInProgress)
	assert.ErrorIs(t, f.session.SetDescription("edited mid-flight"), domain.ErrPublishInProgress)
	assert.ErrorIs(t, f.session.Cancel(), domain.ErrPublishInProgress)
	assert.ErrorIs(t, f.session.CapturePhoto(), domain.ErrPublishInProgress)

	require.NoError(t, f.engine.Click(service.CreateSurfaceID, domain.Coordinate{Lat: -6.2, Lng: 106.8}))
	view, _ := f.engine.View(service.CreateSurfaceID)
	assert.Equal(t, service.DefaultCreateCenter, view.Markers[0].At)
	n, ok := f.view.lastNotice()
	require.True(t, ok)
	assert.Equal(t, service.NoticeAdvisory, n.Kind)

	snap := f.session.Snapshot()
	require.NotNil(t, snap.Draft.Image)
	assert.Equal(t, 16, len(snap.Draft.Image.Data))
	assert.Equal(t, "Morning at the market", snap.Draft.Description)
	assert.Equal(t, service.DefaultCreateCenter, snap.Draft.Location.Coordinate)

	close(f.publisher.release)
	require.NoError(t, <-errc)

	sent := f.publisher.calls[0]
	assert.Equal(t, "Morning at the market", sent.Description)
	assert.Equal(t, 16, len(sent.Photo.Data))

	// Editing is open again on the fresh draft.
	require.NoError(t, f.session.SetDescription("next story"))
	assert.Equal(t, "next story", f.session.Snapshot().Draft.Description)
}

// clearingView tries to clear the image as soon as a publish is rendered.
type clearingView struct {
	mu      sync.Mutex
	session *service.CreationSession
	errs    []error
}

func (v *clearingView) RenderCreate(snap service.CreateSnapshot) {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()
	if s == nil || snap.State != service.SessionPublishing {
		return
	}
	err := s.ClearImage()
	v.mu.Lock()
	v.errs = append(v.errs, err)
	v.mu.Unlock()
}

func (v *clearingView) Notify(service.Notice) {}

func TestCreationSession_ClearDuringPublishDoesNotBreakSession(t *testing.T) {
	engine := platform.NewMapEngine(nil)
	maps := service.NewMapRegistry(engine, time.Millisecond)
	capture := service.NewCaptureController(platform.NewFrameDevice(), service.DefaultCaptureConstraints)
	publisher := &fakePublisher{}
	view := &clearingView{}

	s, err := service.NewCreationSession(service.CreationDeps{
		Maps:      maps,
		Capture:   capture,
		Resolver:  service.NewLocationResolver(newFakeGeocoder(), time.Second),
		Publisher: publisher,
		View:      view,
	}, service.CreationConfig{})
	require.NoError(t, err)
	defer s.Teardown()

	require.NoError(t, s.SetImage(pngUpload(16)))
	require.NoError(t, s.SetDescription("Harbour at noon"))
	view.mu.Lock()
	view.session = s
	view.mu.Unlock()

	require.NoError(t, s.Publish(context.Background()))
	require.Equal(t, 1, publisher.callCount())
	assert.Equal(t, 16, len(publisher.calls[0].Photo.Data))

	view.mu.Lock()
	errs := append([]error(nil), view.errs...)
	view.mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrPublishInProgress)
	assert.Equal(t, service.SessionComposing, s.Snapshot().State)
}
