package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/platform"
	"github.com/msomdec/geostory/internal/service"
	"github.com/starfederation/datastar-go/datastar"
)

const maxFrameBytes = 8 << 20

// CreateHandler drives the creation session of a client and forwards
// browser map events to its map engine.
type CreateHandler struct {
	maxImageBytes int64
}

// NewCreateHandler creates a new CreateHandler.
func NewCreateHandler(maxImageBytes int64) *CreateHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = service.DefaultMaxImageSize
	}
	return &CreateHandler{maxImageBytes: maxImageBytes}
}

// withSession resolves the active creation session or answers 409.
func withSession(fn func(w http.ResponseWriter, r *http.Request, app *ClientApp, s *service.CreationSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app := ClientFromContext(r.Context())
		s, err := app.CreationSession()
		if err != nil {
			writeDomainError(w, err, "creation session")
			return
		}
		fn(w, r, app, s)
	}
}

func writeCreate(w http.ResponseWriter, s *service.CreationSession) {
	writeJSON(w, http.StatusOK, toCreateDTO(s.Snapshot()))
}

// HandleUploadImage accepts a multipart "photo" file as the draft image.
// POST /api/create/image
func (h *CreateHandler) HandleUploadImage() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, _ *ClientApp, s *service.CreationSession) {
		// Allow the limit plus multipart framing; the session rejects oversize files.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+1<<20)
		file, header, err := r.FormFile("photo")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Image exceeds %d MiB limit.", h.maxImageBytes>>20))
				return
			}
			writeError(w, http.StatusBadRequest, "A photo file is required.")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Could not read the photo.")
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}

		src := domain.ImageSource{
			Filename:    filepath.Base(header.Filename),
			ContentType: contentType,
			Data:        data,
			Origin:      domain.ImageOriginUpload,
		}
		if err := s.SetImage(src); err != nil {
			writeDomainError(w, err, "set image")
			return
		}
		writeCreate(w, s)
	})
}

// HandleClearImage removes the draft image.
// DELETE /api/create/image
func (h *CreateHandler) HandleClearImage() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, _ *ClientApp, s *service.CreationSession) {
		if err := s.ClearImage(); err != nil {
			writeDomainError(w, err, "clear image")
			return
		}
		writeCreate(w, s)
	})
}

// HandleDescription updates the draft text from the page's datastar signals.
// POST /api/create/description
// Request:  {"description":"..."}
func (h *CreateHandler) HandleDescription() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, _ *ClientApp, s *service.CreationSession) {
		var signals struct {
			Description string `json:"description"`
		}
		if err := datastar.ReadSignals(r, &signals); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
		if err := s.SetDescription(signals.Description); err != nil {
			writeDomainError(w, err, "set description")
			return
		}
		writeCreate(w, s)
	})
}

// HandleCamera starts, stops or captures from the camera.
// POST /api/create/camera/{action}
func (h *CreateHandler) HandleCamera() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, app *ClientApp, s *service.CreationSession) {
		var err error
		switch r.PathValue("action") {
		case "start":
			err = s.StartCamera(r.Context())
		case "stop":
			s.StopCamera()
		case "capture":
			err = s.CapturePhoto()
		case "frame":
			r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)
			err = app.Device.PushEncoded(r.Body)
		default:
			writeError(w, http.StatusNotFound, "Unknown camera action.")
			return
		}
		if err != nil {
			writeDomainError(w, err, "camera")
			return
		}
		writeCreate(w, s)
	})
}

// HandleDeviceState marks the client's camera available or denied.
// POST /api/create/camera/permission
// Request:  {"granted":false}
func (h *CreateHandler) HandleDeviceState(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	var req struct {
		Granted bool `json:"granted"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, err, "read permission")
		return
	}
	if req.Granted {
		app.Device.SetUnavailable(nil)
	} else {
		app.Device.SetUnavailable(platform.ErrPermissionDenied)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMapEvent forwards a click or marker drag on a map surface.
// POST /api/map/{surface}/{event}
// Request:  {"lat":-6.2,"lng":106.8}
func (h *CreateHandler) HandleMapEvent(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())

	var req struct {
		Lat *float64 `json:"lat" validate:"required,latitude"`
		Lng *float64 `json:"lng" validate:"required,longitude"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, err, "read map event")
		return
	}
	at := domain.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	surface := r.PathValue("surface")

	var err error
	switch r.PathValue("event") {
	case "click":
		err = app.Engine.Click(surface, at)
	case "drag":
		err = app.Engine.DragMarker(surface, at)
	default:
		writeError(w, http.StatusNotFound, "Unknown map event.")
		return
	}
	if err != nil {
		writeDomainError(w, err, "map event")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandlePublish submits the draft to the story service.
// POST /api/create/publish
func (h *CreateHandler) HandlePublish() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, _ *ClientApp, s *service.CreationSession) {
		if err := s.Publish(r.Context()); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrPublishInProgress) ||
				errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrUnauthorized) {
				writeDomainError(w, err, "publish")
				return
			}
			writeError(w, http.StatusBadGateway, "Failed to publish story. Please try again.")
			return
		}
		writeCreate(w, s)
	})
}

// HandleCancel discards the draft.
// POST /api/create/cancel
func (h *CreateHandler) HandleCancel() http.HandlerFunc {
	return withSession(func(w http.ResponseWriter, r *http.Request, _ *ClientApp, s *service.CreationSession) {
		if err := s.Cancel(); err != nil {
			writeDomainError(w, err, "cancel draft")
			return
		}
		writeCreate(w, s)
	})
}
