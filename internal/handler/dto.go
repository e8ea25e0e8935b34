package handler

import (
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/platform"
	"github.com/msomdec/geostory/internal/service"
)

// StoryDTO is the JSON representation of a story.
type StoryDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PhotoURL    string   `json:"photoUrl"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	CreatedAt   string   `json:"createdAt"`
	Bookmarked  bool     `json:"bookmarked"`
}

func toStoryDTO(s domain.Story, bookmarked bool) StoryDTO {
	return StoryDTO{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		PhotoURL:    s.PhotoURL,
		Lat:         s.Lat,
		Lon:         s.Lon,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		Bookmarked:  bookmarked,
	}
}

func toFeedDTOs(feed []domain.StoryFeed) []StoryDTO {
	out := make([]StoryDTO, len(feed))
	for i, f := range feed {
		out[i] = toStoryDTO(f.Story, f.Bookmarked)
	}
	return out
}

func toBookmarkDTOs(list []domain.Bookmark) []StoryDTO {
	out := make([]StoryDTO, len(list))
	for i, b := range list {
		out[i] = toStoryDTO(b.Story, true)
	}
	return out
}

// LocationDTO is the draft location as shown to the user.
type LocationDTO struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayName string  `json:"displayName"`
	State       string  `json:"state"`
}

// CreateDTO is the renderable state of the create page.
type CreateDTO struct {
	DraftID     string      `json:"draftId"`
	HasImage    bool        `json:"hasImage"`
	ImageOrigin string      `json:"imageOrigin,omitempty"`
	Preview     string      `json:"preview,omitempty"`
	Description string      `json:"description"`
	Location    LocationDTO `json:"location"`
	State       string      `json:"state"`
	Camera      string      `json:"camera"`
	CanPublish  bool        `json:"canPublish"`
}

func toCreateDTO(s service.CreateSnapshot) CreateDTO {
	d := s.Draft
	dto := CreateDTO{
		DraftID:     d.ID,
		HasImage:    d.Image != nil,
		Preview:     d.Preview,
		Description: d.Description,
		Location: LocationDTO{
			Lat:         d.Location.Lat,
			Lng:         d.Location.Lng,
			DisplayName: d.Location.DisplayName,
			State:       d.Location.State.String(),
		},
		State:      s.State.String(),
		Camera:     s.Capture.String(),
		CanPublish: s.CanPublish,
	}
	if d.Image != nil {
		dto.ImageOrigin = string(d.Image.Origin)
	}
	return dto
}

// DetailDTO is an open story with its own map.
type DetailDTO struct {
	Story     StoryDTO          `json:"story"`
	Location  string            `json:"location"`
	Resolving bool              `json:"resolving"`
	Map       *platform.MapView `json:"map,omitempty"`
}

// detailDTO renders the open story detail of app, or nil when closed.
func detailDTO(app *ClientApp) *DetailDTO {
	snap := app.Detail.Snapshot()
	if snap.Story == nil {
		return nil
	}
	dto := &DetailDTO{
		Story:     toStoryDTO(snap.Story.Story, snap.Story.Bookmarked),
		Location:  snap.LocationName,
		Resolving: snap.Resolving,
	}
	if snap.HasMap {
		if v, ok := app.Engine.View(snap.SurfaceID); ok {
			dto.Map = &v
		}
	}
	return dto
}

// NoticeDTO is a transient banner.
type NoticeDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PageDTO is the full signal payload pushed to the browser.
type PageDTO struct {
	Route     string            `json:"route"`
	Map       *platform.MapView `json:"map,omitempty"`
	Stories   []StoryDTO        `json:"stories,omitempty"`
	Bookmarks []StoryDTO        `json:"bookmarks,omitempty"`
	Create    *CreateDTO        `json:"create,omitempty"`
	Detail    *DetailDTO        `json:"detail,omitempty"`
	Notices   []NoticeDTO       `json:"notices,omitempty"`
}

// pageDTO renders the active page of app. Pending notices are not drained.
func pageDTO(app *ClientApp) PageDTO {
	var (
		dto     PageDTO
		surface string
	)
	switch p := app.Nav.Current().(type) {
	case *service.FeedPage:
		dto.Route = p.Route()
		dto.Stories = toFeedDTOs(p.Stories())
		surface = p.SurfaceID()
		dto.Detail = detailDTO(app)
	case *service.BookmarkPage:
		dto.Route = p.Route()
		dto.Bookmarks = toBookmarkDTOs(p.Bookmarks())
		surface = p.SurfaceID()
		dto.Detail = detailDTO(app)
	case *service.CreationSession:
		dto.Route = p.Route()
		c := toCreateDTO(p.Snapshot())
		dto.Create = &c
		surface = p.SurfaceID()
	default:
		return dto
	}
	if v, ok := app.Engine.View(surface); ok {
		dto.Map = &v
	}
	return dto
}

func toNoticeDTOs(ns []service.Notice) []NoticeDTO {
	out := make([]NoticeDTO, len(ns))
	for i, n := range ns {
		out[i] = NoticeDTO{Kind: string(n.Kind), Message: n.Message}
	}
	return out
}
