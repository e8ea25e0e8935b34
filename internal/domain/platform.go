package domain

import (
	"context"
	"image"
)

// LayerID identifies a layer rendered on a map instance.
type LayerID string

// MapOptions configures a new map instance.
type MapOptions struct {
	Center Coordinate
	Zoom   int
}

// MarkerOptions configures a marker layer.
type MarkerOptions struct {
	Draggable bool
	Popup     string
}

// MapEngine creates live map instances bound to rendering surfaces. The
// instance outlives any Go value referencing it and must be removed explicitly.
type MapEngine interface {
	NewMap(surfaceID string, opts MapOptions) (MapInstance, error)
}

// MapInstance is one live interactive map.
type MapInstance interface {
	AddTileLayer(urlTemplate, attribution string) LayerID
	AddMarker(at Coordinate, opts MarkerOptions) LayerID
	MoveMarker(id LayerID, to Coordinate)
	OnClick(fn func(Coordinate))
	OnMarkerDragEnd(id LayerID, fn func(Coordinate))
	// Off detaches every listener registered on the instance and its layers.
	Off()
	Layers() []LayerID
	RemoveLayer(id LayerID)
	SetView(center Coordinate, zoom int)
	FitBounds(b Bounds)
	InvalidateSize()
	Remove()
}

// CaptureConstraints describes the requested camera stream.
type CaptureConstraints struct {
	FacingMode string
	Width      int
	Height     int
}

// MediaDevices grants exclusive media streams.
type MediaDevices interface {
	Open(ctx context.Context, c CaptureConstraints) (MediaStream, error)
}

// MediaStream is an open device stream. Stop releases every track and is
// safe to call more than once.
type MediaStream interface {
	Snapshot() (image.Image, error)
	Stop()
	Active() bool
}
