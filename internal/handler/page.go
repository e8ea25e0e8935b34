package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/service"
	"github.com/starfederation/datastar-go/datastar"
)

// PageHandler serves navigation, the live event stream and the read-only
// story and bookmark endpoints.
type PageHandler struct {
	pageSize int
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(pageSize int) *PageHandler {
	if pageSize <= 0 {
		pageSize = service.DefaultPageSize
	}
	return &PageHandler{pageSize: pageSize}
}

// HandleNavigate switches the client to another page.
// POST /api/navigate
// Request:  {"route":"/create"}
// Response: the new page state
func (h *PageHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())

	var req struct {
		Route string `json:"route" validate:"required,oneof=/ /create /bookmarks"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, err, "read navigate")
		return
	}

	if _, err := app.Navigate(r.Context(), req.Route); err != nil {
		writeDomainError(w, err, "navigate")
		return
	}
	writeJSON(w, http.StatusOK, pageDTO(app))
}

// HandlePage returns the state of the current page.
// GET /api/page
func (h *PageHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pageDTO(ClientFromContext(r.Context())))
}

// HandleEvents streams page state as datastar signal patches until the
// client disconnects.
// GET /api/events
func (h *PageHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	sse := datastar.NewSSE(w, r)

	push := func() error {
		dto := pageDTO(app)
		dto.Notices = toNoticeDTOs(app.DrainNotices())
		return sse.MarshalAndPatchSignals(dto)
	}

	if err := push(); err != nil {
		slog.Debug("event stream closed", "client", app.ID, "error", err)
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-app.Changed():
			if err := push(); err != nil {
				slog.Debug("event stream closed", "client", app.ID, "error", err)
				return
			}
		}
	}
}

// HandleListStories returns one page of the feed.
// GET /api/stories?page=1&size=20&location=1
func (h *PageHandler) HandleListStories(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())

	opts := domain.ListOptions{Page: 1, Size: h.pageSize}
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid page.")
			return
		}
		opts.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "Invalid size.")
			return
		}
		opts.Size = n
	}
	opts.WithLocation = q.Get("location") == "1"

	feed, err := app.Feeds.Feed(r.Context(), app.ID, opts)
	if err != nil {
		writeDomainError(w, err, "list stories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": toFeedDTOs(feed)})
}

// HandleGetStory returns one story.
// GET /api/stories/{id}
func (h *PageHandler) HandleGetStory(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	st, err := app.Feeds.Story(r.Context(), app.ID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err, "get story")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"story": toStoryDTO(st.Story, st.Bookmarked)})
}

// HandleOpenDetail opens a story over the current list page.
// POST /api/detail/{id}
// Response: the detail state
func (h *PageHandler) HandleOpenDetail(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	if _, err := app.OpenDetail(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err, "open story detail")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detail": detailDTO(app)})
}

// HandleCloseDetail closes the open story and releases its map.
// DELETE /api/detail
// Response: 204 No Content
func (h *PageHandler) HandleCloseDetail(w http.ResponseWriter, r *http.Request) {
	ClientFromContext(r.Context()).Detail.Close()
	w.WriteHeader(http.StatusNoContent)
}

// HandleListBookmarks returns the client's saved stories.
// GET /api/bookmarks
func (h *PageHandler) HandleListBookmarks(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	list, err := app.Bookmarks.List(r.Context(), app.ID)
	if err != nil {
		writeDomainError(w, err, "list bookmarks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": toBookmarkDTOs(list)})
}

// HandleToggleBookmark saves or forgets a story.
// POST /api/bookmarks/{id}/toggle
// Response: {"bookmarked": true}
func (h *PageHandler) HandleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	id := r.PathValue("id")

	marked, err := app.Bookmarks.Toggle(r.Context(), app.ID, id)
	if err != nil {
		writeDomainError(w, err, "toggle bookmark")
		return
	}
	if feed, ok := app.Nav.Current().(*service.FeedPage); ok {
		feed.SetBookmarked(id, marked)
		app.signal()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"bookmarked": marked})
}
