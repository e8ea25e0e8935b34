package service

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
)

// CaptureState is the state of a CaptureController.
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureRequesting
	CaptureStreaming
	CaptureCaptured
)

func (s CaptureState) String() string {
	switch s {
	case CaptureRequesting:
		return "requesting"
	case CaptureStreaming:
		return "streaming"
	case CaptureCaptured:
		return "captured"
	default:
		return "idle"
	}
}

const (
	CapturedPhotoName = "captured-photo.jpg"
	capturedPhotoType = "image/jpeg"
	jpegQuality       = 90
)

// DefaultCaptureConstraints asks for the selfie camera at 720p.
var DefaultCaptureConstraints = domain.CaptureConstraints{
	FacingMode: "user",
	Width:      1280,
	Height:     720,
}

// CaptureController owns at most one open camera stream and the photo
// captured from it.
type CaptureController struct {
	devices     domain.MediaDevices
	constraints domain.CaptureConstraints

	mu     sync.Mutex
	state  CaptureState
	stream domain.MediaStream
	photo  *domain.ImageSource
	// gen advances on every stop so a grant that lands after a stop is closed.
	gen uint64
}

// NewCaptureController creates an idle controller.
func NewCaptureController(devices domain.MediaDevices, constraints domain.CaptureConstraints) *CaptureController {
	return &CaptureController{devices: devices, constraints: constraints}
}

// State returns the current state.
func (c *CaptureController) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StreamOpen reports whether a device stream is currently held.
func (c *CaptureController) StreamOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Photo returns the last captured photo, if any.
func (c *CaptureController) Photo() *domain.ImageSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

// StartCapture requests an exclusive stream. It is a no-op while already
// streaming. A denied or missing device leaves the controller Idle and
// returns an error wrapping domain.ErrDeviceUnavailable.
func (c *CaptureController) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case CaptureStreaming:
		c.mu.Unlock()
		return nil
	case CaptureRequesting:
		c.mu.Unlock()
		return fmt.Errorf("%w: camera request already pending", domain.ErrInvalidState)
	}
	prev := c.state
	c.state = CaptureRequesting
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.devices.Open(ctx, c.constraints)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		if stream != nil {
			stream.Stop()
		}
		return fmt.Errorf("%w: capture stopped while requesting", domain.ErrInvalidState)
	}
	if err != nil {
		c.state = CaptureIdle
		if prev == CaptureCaptured && c.photo != nil {
			c.state = CaptureCaptured
		}
		slog.Warn("camera unavailable", "error", err)
		return fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.state = CaptureStreaming
	metrics.CaptureStreamsOpen.Inc()
	slog.Debug("camera stream opened")
	return nil
}

// CapturePhoto snapshots the live frame into a JPEG and stops the stream.
// It is only valid while streaming.
func (c *CaptureController) CapturePhoto() (*domain.ImageSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CaptureStreaming || c.stream == nil {
		return nil, fmt.Errorf("%w: camera is %s", domain.ErrInvalidState, c.state)
	}

	frame, err := c.stream.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}

	c.stopLocked()
	c.photo = &domain.ImageSource{
		Filename:    CapturedPhotoName,
		ContentType: capturedPhotoType,
		Data:        buf.Bytes(),
		Origin:      domain.ImageOriginCapture,
	}
	c.state = CaptureCaptured
	return c.photo, nil
}

// StopCapture releases the device tracks. It is safe in any state and must
// run on teardown even if no photo was taken.
func (c *CaptureController) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	if c.state == CaptureStreaming || c.state == CaptureRequesting {
		c.state = CaptureIdle
	}
}

// Clear stops any stream, discards the captured photo and returns to Idle.
func (c *CaptureController) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.photo = nil
	c.state = CaptureIdle
}

func (c *CaptureController) stopLocked() {
	c.gen++
	if c.stream == nil {
		return
	}
	c.stream.Stop()
	c.stream = nil
	metrics.CaptureStreamsOpen.Dec()
	slog.Debug("camera stream stopped")
}
