// Package platform provides the in-process map engine and capture device the
// browser drives through HTTP events. Both behave like their client-side
// counterparts: a surface holds one live map, and a camera track stays open
// until it is stopped.
package platform

import (
	"fmt"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
)

// MapEventKind names a change to a live map.
type MapEventKind string

const (
	MapCreated     MapEventKind = "created"
	MapChanged     MapEventKind = "changed"
	MapInvalidated MapEventKind = "invalidated"
	MapRemoved     MapEventKind = "removed"
)

// MapEvent reports a change on a surface.
type MapEvent struct {
	Surface string
	Kind    MapEventKind
}

// MarkerView is the renderable state of one marker layer.
type MarkerView struct {
	Layer     domain.LayerID    `json:"layer"`
	At        domain.Coordinate `json:"at"`
	Draggable bool              `json:"draggable"`
	Popup     string            `json:"popup,omitempty"`
}

// MapView is the renderable state of one live map.
type MapView struct {
	Surface       string            `json:"surface"`
	Center        domain.Coordinate `json:"center"`
	Zoom          int               `json:"zoom"`
	Bounds        *domain.Bounds    `json:"bounds,omitempty"`
	TileURL       string            `json:"tileUrl,omitempty"`
	Attribution   string            `json:"attribution,omitempty"`
	Markers       []MarkerView      `json:"markers"`
	Invalidations int               `json:"invalidations"`
}

// MapEngine owns the live map instances of one client, keyed by surface id.
// Listeners are always invoked without any engine lock held.
type MapEngine struct {
	observer func(MapEvent)

	mu   sync.Mutex
	live map[string]*Map
}

// NewMapEngine creates an engine. observer, if set, is told about every
// change and must not block.
func NewMapEngine(observer func(MapEvent)) *MapEngine {
	if observer == nil {
		observer = func(MapEvent) {}
	}
	return &MapEngine{observer: observer, live: make(map[string]*Map)}
}

// NewMap creates a live map on surfaceID. It fails with
// domain.ErrSurfaceInUse while a previous instance is still bound there.
func (e *MapEngine) NewMap(surfaceID string, opts domain.MapOptions) (domain.MapInstance, error) {
	e.mu.Lock()
	if _, ok := e.live[surfaceID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrSurfaceInUse, surfaceID)
	}
	m := &Map{
		engine:  e,
		surface: surfaceID,
		center:  opts.Center,
		zoom:    opts.Zoom,
		layers:  make(map[domain.LayerID]*layer),
		drags:   make(map[domain.LayerID][]func(domain.Coordinate)),
	}
	e.live[surfaceID] = m
	e.mu.Unlock()

	e.observer(MapEvent{Surface: surfaceID, Kind: MapCreated})
	return m, nil
}

// Live returns the map bound to surfaceID.
func (e *MapEngine) Live(surfaceID string) (*Map, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.live[surfaceID]
	return m, ok
}

// LiveCount returns how many maps are bound.
func (e *MapEngine) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// View returns the renderable state of the map on surfaceID.
func (e *MapEngine) View(surfaceID string) (MapView, bool) {
	m, ok := e.Live(surfaceID)
	if !ok {
		return MapView{}, false
	}
	return m.View(), true
}

// Click delivers a map click on surfaceID to its listeners.
func (e *MapEngine) Click(surfaceID string, at domain.Coordinate) error {
	m, ok := e.Live(surfaceID)
	if !ok {
		return fmt.Errorf("%w: no map on %s", domain.ErrNotFound, surfaceID)
	}
	m.mu.Lock()
	fns := append([]func(domain.Coordinate){}, m.clicks...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(at)
	}
	return nil
}

// DragMarker moves the draggable marker on surfaceID to at and delivers the
// drag end to its listeners.
func (e *MapEngine) DragMarker(surfaceID string, at domain.Coordinate) error {
	m, ok := e.Live(surfaceID)
	if !ok {
		return fmt.Errorf("%w: no map on %s", domain.ErrNotFound, surfaceID)
	}

	m.mu.Lock()
	var target *layer
	for _, id := range m.order {
		if l := m.layers[id]; l.marker && l.opts.Draggable {
			target = l
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no draggable marker on %s", domain.ErrInvalidState, surfaceID)
	}
	target.at = at
	fns := append([]func(domain.Coordinate){}, m.drags[target.id]...)
	m.mu.Unlock()

	m.changed(MapChanged)
	for _, fn := range fns {
		fn(at)
	}
	return nil
}

func (e *MapEngine) unbind(m *Map) {
	e.mu.Lock()
	if e.live[m.surface] == m {
		delete(e.live, m.surface)
	}
	e.mu.Unlock()
}

type layer struct {
	id          domain.LayerID
	marker      bool
	at          domain.Coordinate
	opts        domain.MarkerOptions
	url         string
	attribution string
}

// Map is one live map instance.
type Map struct {
	engine  *MapEngine
	surface string

	mu            sync.Mutex
	center        domain.Coordinate
	zoom          int
	bounds        *domain.Bounds
	layers        map[domain.LayerID]*layer
	order         []domain.LayerID
	nextID        int
	clicks        []func(domain.Coordinate)
	drags         map[domain.LayerID][]func(domain.Coordinate)
	invalidations int
	removed       bool
}

func (m *Map) addLayer(l *layer) domain.LayerID {
	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return ""
	}
	m.nextID++
	l.id = domain.LayerID(fmt.Sprintf("%s-%d", m.surface, m.nextID))
	m.layers[l.id] = l
	m.order = append(m.order, l.id)
	m.mu.Unlock()

	m.changed(MapChanged)
	return l.id
}

func (m *Map) AddTileLayer(urlTemplate, attribution string) domain.LayerID {
	return m.addLayer(&layer{url: urlTemplate, attribution: attribution})
}

func (m *Map) AddMarker(at domain.Coordinate, opts domain.MarkerOptions) domain.LayerID {
	return m.addLayer(&layer{marker: true, at: at, opts: opts})
}

func (m *Map) MoveMarker(id domain.LayerID, to domain.Coordinate) {
	m.mu.Lock()
	l, ok := m.layers[id]
	if !ok || !l.marker || m.removed {
		m.mu.Unlock()
		return
	}
	l.at = to
	m.mu.Unlock()
	m.changed(MapChanged)
}

func (m *Map) OnClick(fn func(domain.Coordinate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, fn)
}

func (m *Map) OnMarkerDragEnd(id domain.LayerID, fn func(domain.Coordinate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drags[id] = append(m.drags[id], fn)
}

func (m *Map) Off() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = nil
	m.drags = make(map[domain.LayerID][]func(domain.Coordinate))
}

func (m *Map) Layers() []domain.LayerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LayerID(nil), m.order...)
}

func (m *Map) RemoveLayer(id domain.LayerID) {
	m.mu.Lock()
	if _, ok := m.layers[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.layers, id)
	delete(m.drags, id)
	for i, lid := range m.order {
		if lid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.changed(MapChanged)
}

func (m *Map) SetView(center domain.Coordinate, zoom int) {
	m.mu.Lock()
	m.center = center
	m.zoom = zoom
	m.bounds = nil
	m.mu.Unlock()
	m.changed(MapChanged)
}

func (m *Map) FitBounds(b domain.Bounds) {
	m.mu.Lock()
	m.bounds = &b
	m.center = b.Center()
	m.mu.Unlock()
	m.changed(MapChanged)
}

func (m *Map) InvalidateSize() {
	m.mu.Lock()
	m.invalidations++
	m.mu.Unlock()
	m.changed(MapInvalidated)
}

// Remove unbinds the instance from its surface.
func (m *Map) Remove() {
	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return
	}
	m.removed = true
	m.mu.Unlock()

	m.engine.unbind(m)
	m.engine.observer(MapEvent{Surface: m.surface, Kind: MapRemoved})
}

// Removed reports whether Remove has been called.
func (m *Map) Removed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

// Listeners returns the number of attached click and drag listeners.
func (m *Map) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.clicks)
	for _, fns := range m.drags {
		n += len(fns)
	}
	return n
}

// Invalidations returns how often the size was recomputed.
func (m *Map) Invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

// View returns the renderable state.
func (m *Map) View() MapView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := MapView{
		Surface:       m.surface,
		Center:        m.center,
		Zoom:          m.zoom,
		Markers:       []MarkerView{},
		Invalidations: m.invalidations,
	}
	if m.bounds != nil {
		b := *m.bounds
		v.Bounds = &b
	}
	for _, id := range m.order {
		l := m.layers[id]
		if l.marker {
			v.Markers = append(v.Markers, MarkerView{Layer: id, At: l.at, Draggable: l.opts.Draggable, Popup: l.opts.Popup})
			continue
		}
		v.TileURL = l.url
		v.Attribution = l.attribution
	}
	return v
}

func (m *Map) changed(kind MapEventKind) {
	if m.Removed() {
		return
	}
	m.engine.observer(MapEvent{Surface: m.surface, Kind: kind})
}
