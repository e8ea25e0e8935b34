package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrPublishInProgress = errors.New("publish already in progress")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrSurfaceInUse      = errors.New("surface already has a live map")
	ErrNoFrame           = errors.New("no frame available")
)
