package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/msomdec/geostory/internal/metrics"
)

// Page is a screen controller that owns platform resources until torn down.
type Page interface {
	Route() string
	Teardown()
}

// Navigator holds the active page of one client. Switching pages always tears
// down the current page before the next one is constructed, so a surface id
// reused by both pages is free when the new page binds it.
type Navigator struct {
	mu      sync.Mutex
	current Page
}

// NewNavigator creates a navigator with no active page.
func NewNavigator() *Navigator {
	return &Navigator{}
}

// SwitchTo tears down the current page, then builds and activates the next.
// build runs with the navigator locked and must not call back into it. If
// build fails, no page is active.
func (n *Navigator) SwitchTo(build func() (Page, error)) (Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil {
		slog.Debug("leaving page", "route", n.current.Route())
		n.current.Teardown()
		n.current = nil
	}

	p, err := build()
	if err != nil {
		return nil, fmt.Errorf("build page: %w", err)
	}
	n.current = p
	metrics.Navigations.WithLabelValues(p.Route()).Inc()
	slog.Debug("entered page", "route", p.Route())
	return p, nil
}

// Current returns the active page, or nil.
func (n *Navigator) Current() Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close tears down the active page, if any.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != nil {
		n.current.Teardown()
		n.current = nil
	}
}
