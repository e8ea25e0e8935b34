package service

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msomdec/geostory/internal/domain"
)

// DraftState owns the mutable Draft of one creation session and the
// geocode sequence counter scoped to it.
//
// The counter is never rewound, not even by Reset, so a response issued for
// a discarded draft can never match a request issued for its successor.
type DraftState struct {
	mu     sync.Mutex
	draft  domain.Draft
	seq    uint64
	origin domain.Coordinate
}

// NewDraftState creates an empty draft located at origin.
func NewDraftState(origin domain.Coordinate) *DraftState {
	d := &DraftState{origin: origin}
	d.draft = emptyDraft(origin)
	return d
}

func emptyDraft(origin domain.Coordinate) domain.Draft {
	return domain.Draft{
		ID:       uuid.NewString(),
		Location: domain.Location{Coordinate: origin},
	}
}

// Snapshot returns a copy of the current draft.
func (d *DraftState) Snapshot() domain.Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

// SetImage makes src the single active image source, replacing whatever was
// there, and regenerates the preview handle.
func (d *DraftState) SetImage(src *domain.ImageSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft.Image = src
	d.draft.Preview = previewHandle(src)
}

// ClearImage drops the active image source.
func (d *DraftState) ClearImage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft.Image = nil
	d.draft.Preview = ""
}

// ImageOrigin returns the origin of the active image, or "" if none is set.
func (d *DraftState) ImageOrigin() domain.ImageOrigin {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draft.Image == nil {
		return ""
	}
	return d.draft.Image.Origin
}

// SetDescription replaces the draft text.
func (d *DraftState) SetDescription(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft.Description = text
}

// BeginLocation moves the draft to c, marks it Loading and issues the next
// sequence number for the lookup that will name it.
func (d *DraftState) BeginLocation(c domain.Coordinate, deadline time.Time) domain.GeocodeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.draft.Location = domain.Location{
		Coordinate:  c,
		DisplayName: domain.LoadingLocationName,
		State:       domain.ResolutionLoading,
	}
	return domain.GeocodeRequest{Coordinate: c, Seq: d.seq, Deadline: deadline}
}

// ApplyLocation stores res only if it answers the latest issued request.
// It reports whether res was applied.
func (d *DraftState) ApplyLocation(res domain.GeocodeResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res.Seq != d.seq {
		return false
	}
	state := domain.ResolutionResolved
	if res.Err != nil {
		state = domain.ResolutionFailed
	}
	d.draft.Location = domain.Location{
		Coordinate:  res.Coordinate,
		DisplayName: res.DisplayName,
		State:       state,
	}
	return true
}

// LatestSeq returns the most recently issued sequence number.
func (d *DraftState) LatestSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// Ready reports whether the draft has both an image and a non-blank description.
func (d *DraftState) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft.Image != nil && strings.TrimSpace(d.draft.Description) != ""
}

// Reset discards the draft and starts a fresh one at the original location.
// It also advances the sequence so lookups still in flight are discarded.
func (d *DraftState) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.draft = emptyDraft(d.origin)
}

func previewHandle(src *domain.ImageSource) string {
	if src == nil {
		return ""
	}
	return "data:" + src.ContentType + ";base64," + base64.StdEncoding.EncodeToString(src.Data)
}
