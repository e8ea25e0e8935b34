package domain

import (
	"context"
	"time"
)

// ResolutionState is the lifecycle stage of reverse-geocoding the draft location.
type ResolutionState int

const (
	ResolutionIdle ResolutionState = iota
	ResolutionLoading
	ResolutionResolved
	ResolutionFailed
)

func (s ResolutionState) String() string {
	switch s {
	case ResolutionLoading:
		return "loading"
	case ResolutionResolved:
		return "resolved"
	case ResolutionFailed:
		return "failed"
	default:
		return "idle"
	}
}

// LoadingLocationName is shown while a lookup is in flight.
const LoadingLocationName = "Finding location name..."

// Location is the draft's chosen position and its display name.
type Location struct {
	Coordinate
	DisplayName string          `json:"displayName"`
	State       ResolutionState `json:"-"`
}

// ImageOrigin tells where the active image of a draft came from.
type ImageOrigin string

const (
	ImageOriginUpload  ImageOrigin = "upload"
	ImageOriginCapture ImageOrigin = "capture"
)

// ImageSource is an owned, file-like image blob.
type ImageSource struct {
	Filename    string
	ContentType string
	Data        []byte
	Origin      ImageOrigin
}

// Size returns the blob size in bytes.
func (s *ImageSource) Size() int64 {
	if s == nil {
		return 0
	}
	return int64(len(s.Data))
}

// Draft is the in-progress, unpersisted story being composed.
type Draft struct {
	ID          string
	Image       *ImageSource
	Preview     string // Derived from Image, never persisted
	Description string
	Location    Location
}

// GeocodeRequest is a single reverse-geocoding attempt for a draft.
type GeocodeRequest struct {
	Coordinate Coordinate
	Seq        uint64
	Deadline   time.Time
}

// GeocodeResult is the outcome of a GeocodeRequest. DisplayName is always
// set; Err is non-nil when DisplayName is a fallback.
type GeocodeResult struct {
	Coordinate  Coordinate
	Seq         uint64
	DisplayName string
	Err         error
}

// Address is the administrative breakdown returned by a reverse geocoder.
type Address struct {
	County      string
	City        string
	State       string
	Country     string
	DisplayName string
}

// Geocoder resolves a coordinate to an address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c Coordinate) (*Address, error)
}
