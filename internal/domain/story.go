package domain

import (
	"context"
	"time"
)

// Story is a published geotagged story as returned by the story API.
type Story struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Coordinate returns the story location, if it has one.
func (s *Story) Coordinate() (Coordinate, bool) {
	if s.Lat == nil || s.Lon == nil {
		return Coordinate{}, false
	}
	return Coordinate{Lat: *s.Lat, Lng: *s.Lon}, true
}

// NewStory is the payload submitted when publishing a draft.
type NewStory struct {
	Description string
	Photo       ImageSource
	Lat         float64
	Lon         float64
}

// PublishResult is what the story API reports after a successful create.
type PublishResult struct {
	Message string
}

// ListOptions controls story list paging.
type ListOptions struct {
	Page         int
	Size         int
	WithLocation bool
}

// StoryPublisher submits new stories.
type StoryPublisher interface {
	CreateStory(ctx context.Context, story NewStory) (*PublishResult, error)
}

// StoryReader reads published stories.
type StoryReader interface {
	ListStories(ctx context.Context, opts ListOptions) ([]Story, error)
	GetStory(ctx context.Context, id string) (*Story, error)
}

// StoryFeed is a story annotated for display.
type StoryFeed struct {
	Story
	Bookmarked bool `json:"bookmarked"`
}
