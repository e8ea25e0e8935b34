package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
)

// ErrPermissionDenied is returned by Open while the client has refused access.
var ErrPermissionDenied = errors.New("permission denied")

// FrameDevice is a camera whose frames are pushed by the client. It grants
// any number of streams but counts the tracks left open. Stopping the last
// track drops the held frame.
type FrameDevice struct {
	mu       sync.Mutex
	unusable error
	frame    image.Image
	tracks   int
	last     domain.CaptureConstraints
}

// NewFrameDevice creates an available device with no frame yet.
func NewFrameDevice() *FrameDevice {
	return &FrameDevice{}
}

// SetUnavailable makes Open fail with err; nil makes the device available again.
func (d *FrameDevice) SetUnavailable(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unusable = err
}

// Open grants a stream honoring c.
func (d *FrameDevice) Open(ctx context.Context, c domain.CaptureConstraints) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unusable != nil {
		return nil, d.unusable
	}
	d.tracks++
	d.last = c
	return &frameStream{dev: d, active: true}, nil
}

// PushFrame stores the latest preview frame.
func (d *FrameDevice) PushFrame(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = img
}

// PushEncoded decodes a JPEG or PNG frame and stores it.
func (d *FrameDevice) PushEncoded(r io.Reader) error {
	img, _, err := image.Decode(r)
	if err != nil {
		return fmt.Errorf("%w: decode frame: %v", domain.ErrInvalidInput, err)
	}
	d.PushFrame(img)
	return nil
}

// ActiveTracks returns how many granted streams are still open.
func (d *FrameDevice) ActiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks
}

// LastConstraints returns the constraints of the most recent grant.
func (d *FrameDevice) LastConstraints() domain.CaptureConstraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type frameStream struct {
	dev    *FrameDevice
	mu     sync.Mutex
	active bool
}

func (s *frameStream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return nil, fmt.Errorf("%w: stream stopped", domain.ErrInvalidState)
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.frame == nil {
		return nil, domain.ErrNoFrame
	}
	return s.dev.frame, nil
}

func (s *frameStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.dev.mu.Lock()
	s.dev.tracks--
	if s.dev.tracks == 0 {
		s.dev.frame = nil
	}
	s.dev.mu.Unlock()
}

func (s *frameStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
