package service

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
)

const (
	TileURLTemplate = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	TileAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`

	// markerBoundsPadding grows fitted bounds by 10% on every side.
	markerBoundsPadding  = 0.1
	defaultRelayoutDelay = 100 * time.Millisecond
)

// AcquireOptions configures an interactive single-marker map.
type AcquireOptions struct {
	Center    domain.Coordinate
	Zoom      int
	Draggable bool
	OnClick   func(domain.Coordinate)
	OnDrag    func(domain.Coordinate)
}

// MarkerSpec is one entry passed to DisplayMarkers. Entries missing either
// coordinate are dropped.
type MarkerSpec struct {
	Lat   *float64
	Lng   *float64
	Popup string
}

// DisplayOptions configures a multi-marker map. Center overrides the
// centroid; DefaultCenter is used only when no marker is valid.
type DisplayOptions struct {
	Center        *domain.Coordinate
	DefaultCenter domain.Coordinate
	Zoom          int
}

// MapHandle wraps one live map instance bound to a surface id.
type MapHandle struct {
	SurfaceID string

	mu          sync.Mutex
	instance    domain.MapInstance
	center      domain.Coordinate
	zoom        int
	draggable   bool
	marker      *domain.Coordinate
	markerLayer domain.LayerID
	markers     []domain.Coordinate
	relayout    *time.Timer
	released    bool
}

// Center returns the view center the map was created with.
func (h *MapHandle) Center() domain.Coordinate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.center
}

// Zoom returns the zoom the map was created with.
func (h *MapHandle) Zoom() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.zoom
}

// Draggable reports whether the single marker can be dragged.
func (h *MapHandle) Draggable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draggable
}

// Marker returns the single marker position of an interactive map.
func (h *MapHandle) Marker() (domain.Coordinate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.marker == nil {
		return domain.Coordinate{}, false
	}
	return *h.marker, true
}

// Markers returns the positions rendered by DisplayMarkers.
func (h *MapHandle) Markers() []domain.Coordinate {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Coordinate, len(h.markers))
	copy(out, h.markers)
	return out
}

// Released reports whether the handle has been released.
func (h *MapHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// MoveMarker moves the single marker to c. It is a no-op once released.
func (h *MapHandle) MoveMarker(c domain.Coordinate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.markerLayer == "" {
		return
	}
	h.instance.MoveMarker(h.markerLayer, c)
	h.marker = &c
}

func (h *MapHandle) recordMarker(c domain.Coordinate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marker = &c
}

func (h *MapHandle) scheduleRelayout(delay time.Duration) {
	h.relayout = time.AfterFunc(delay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.released {
			return
		}
		h.instance.InvalidateSize()
	})
}

// teardown detaches listeners, removes every layer and the map itself.
func (h *MapHandle) teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.relayout != nil {
		h.relayout.Stop()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("map teardown panicked", "surface", h.SurfaceID, "panic", r)
		}
	}()
	h.instance.Off()
	for _, layer := range h.instance.Layers() {
		h.instance.RemoveLayer(layer)
	}
	h.instance.Remove()
}

// MapRegistry owns the live map instances of one screen, at most one per
// surface id. Acquiring a surface always releases its previous instance first.
type MapRegistry struct {
	engine        domain.MapEngine
	relayoutDelay time.Duration

	mu      sync.Mutex
	handles map[string]*MapHandle
}

// NewMapRegistry creates a registry backed by engine. A zero relayoutDelay
// uses the default of 100ms.
func NewMapRegistry(engine domain.MapEngine, relayoutDelay time.Duration) *MapRegistry {
	if relayoutDelay <= 0 {
		relayoutDelay = defaultRelayoutDelay
	}
	return &MapRegistry{
		engine:        engine,
		relayoutDelay: relayoutDelay,
		handles:       make(map[string]*MapHandle),
	}
}

// Acquire binds a new interactive map with a single marker to surfaceID.
// Clicking the map moves the marker before OnClick runs; dragging the marker
// reports its final position to OnDrag.
func (r *MapRegistry) Acquire(surfaceID string, opts AcquireOptions) (*MapHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(surfaceID)

	inst, err := r.engine.NewMap(surfaceID, domain.MapOptions{Center: opts.Center, Zoom: opts.Zoom})
	if err != nil {
		return nil, fmt.Errorf("create map on %s: %w", surfaceID, err)
	}

	marker := opts.Center
	h := &MapHandle{
		SurfaceID: surfaceID,
		instance:  inst,
		center:    opts.Center,
		zoom:      opts.Zoom,
		draggable: opts.Draggable,
		marker:    &marker,
	}

	inst.AddTileLayer(TileURLTemplate, TileAttribution)
	h.markerLayer = inst.AddMarker(opts.Center, domain.MarkerOptions{Draggable: opts.Draggable})

	if opts.OnDrag != nil && opts.Draggable {
		onDrag := opts.OnDrag
		inst.OnMarkerDragEnd(h.markerLayer, func(c domain.Coordinate) {
			h.recordMarker(c)
			onDrag(c)
		})
	}
	if opts.OnClick != nil {
		onClick := opts.OnClick
		inst.OnClick(func(c domain.Coordinate) {
			h.MoveMarker(c)
			onClick(c)
		})
	}

	r.bindLocked(h)
	return h, nil
}

// DisplayMarkers binds a read-only map showing every valid entry of specs to
// surfaceID. With more than one marker the view is fitted to their padded
// bounds.
func (r *MapRegistry) DisplayMarkers(surfaceID string, specs []MarkerSpec, opts DisplayOptions) (*MapHandle, error) {
	type validMarker struct {
		at    domain.Coordinate
		popup string
	}
	valid := make([]validMarker, 0, len(specs))
	for _, s := range specs {
		if s.Lat == nil || s.Lng == nil || math.IsNaN(*s.Lat) || math.IsNaN(*s.Lng) {
			continue
		}
		valid = append(valid, validMarker{at: domain.Coordinate{Lat: *s.Lat, Lng: *s.Lng}, popup: s.Popup})
	}

	center := opts.DefaultCenter
	switch {
	case opts.Center != nil:
		center = *opts.Center
	case len(valid) > 0:
		center = valid[0].at
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(surfaceID)

	inst, err := r.engine.NewMap(surfaceID, domain.MapOptions{Center: center, Zoom: opts.Zoom})
	if err != nil {
		return nil, fmt.Errorf("create map on %s: %w", surfaceID, err)
	}

	h := &MapHandle{
		SurfaceID: surfaceID,
		instance:  inst,
		center:    center,
		zoom:      opts.Zoom,
	}
	inst.AddTileLayer(TileURLTemplate, TileAttribution)

	coords := make([]domain.Coordinate, 0, len(valid))
	for _, m := range valid {
		inst.AddMarker(m.at, domain.MarkerOptions{Popup: m.popup})
		coords = append(coords, m.at)
	}
	h.markers = coords

	if len(coords) > 1 {
		bounds, _ := domain.BoundsOf(coords)
		inst.FitBounds(bounds.Pad(markerBoundsPadding))
	}

	r.bindLocked(h)
	return h, nil
}

func (r *MapRegistry) bindLocked(h *MapHandle) {
	h.scheduleRelayout(r.relayoutDelay)
	r.handles[h.SurfaceID] = h
	metrics.MapInstancesLive.Inc()
	slog.Debug("map acquired", "surface", h.SurfaceID)
}

// Release tears down the map bound to surfaceID. Releasing a surface that was
// never acquired is a no-op.
func (r *MapRegistry) Release(surfaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(surfaceID)
}

func (r *MapRegistry) releaseLocked(surfaceID string) {
	h, ok := r.handles[surfaceID]
	if !ok {
		return
	}
	delete(r.handles, surfaceID)
	h.teardown()
	metrics.MapInstancesLive.Dec()
	slog.Debug("map released", "surface", surfaceID)
}

// ReleaseAll tears down every bound map.
func (r *MapRegistry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.handles {
		r.releaseLocked(id)
	}
}

// Handle returns the handle bound to surfaceID.
func (r *MapRegistry) Handle(surfaceID string) (*MapHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[surfaceID]
	return h, ok
}

// Len returns the number of bound surfaces.
func (r *MapRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
