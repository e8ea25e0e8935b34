package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
)

// DefaultGeocodeTimeout bounds every lookup. There is no automatic retry.
const DefaultGeocodeTimeout = 5 * time.Second

// LocationResolver turns coordinates into display names. It never fails the
// caller: timeouts and provider errors degrade to a coordinate string.
type LocationResolver struct {
	geocoder domain.Geocoder
	timeout  time.Duration
}

// NewLocationResolver creates a resolver. A zero timeout uses DefaultGeocodeTimeout.
func NewLocationResolver(geocoder domain.Geocoder, timeout time.Duration) *LocationResolver {
	if timeout <= 0 {
		timeout = DefaultGeocodeTimeout
	}
	return &LocationResolver{geocoder: geocoder, timeout: timeout}
}

// Deadline returns the deadline a request issued now must meet.
func (r *LocationResolver) Deadline() time.Time {
	return time.Now().Add(r.timeout)
}

// Resolve performs one lookup for req. The returned DisplayName is never
// empty; Err is set when the name is a fallback caused by a failed lookup.
func (r *LocationResolver) Resolve(ctx context.Context, req domain.GeocodeRequest) domain.GeocodeResult {
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = r.Deadline()
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result := domain.GeocodeResult{Coordinate: req.Coordinate, Seq: req.Seq}

	type lookup struct {
		addr *domain.Address
		err  error
	}
	done := make(chan lookup, 1)
	go func() {
		addr, err := r.geocoder.ReverseGeocode(ctx, req.Coordinate)
		done <- lookup{addr: addr, err: err}
	}()

	var got lookup
	select {
	case got = <-done:
	case <-ctx.Done():
		got.err = fmt.Errorf("reverse geocode %s: %w", req.Coordinate, ctx.Err())
	}

	if got.err != nil {
		slog.Warn("reverse geocode failed, using fallback", "coordinate", req.Coordinate.String(), "error", got.err)
		metrics.GeocodeResults.WithLabelValues("fallback").Inc()
		result.DisplayName = domain.FallbackLocationName(req.Coordinate)
		result.Err = got.err
		return result
	}

	name := DisplayNameFor(got.addr)
	if name == "" {
		metrics.GeocodeResults.WithLabelValues("fallback").Inc()
		result.DisplayName = domain.FallbackLocationName(req.Coordinate)
		return result
	}

	metrics.GeocodeResults.WithLabelValues("resolved").Inc()
	result.DisplayName = name
	return result
}

// ResolveName is Resolve for a one-off coordinate outside any draft.
func (r *LocationResolver) ResolveName(ctx context.Context, c domain.Coordinate) string {
	return r.Resolve(ctx, domain.GeocodeRequest{Coordinate: c, Deadline: r.Deadline()}).DisplayName
}

// DisplayNameFor picks the most locally meaningful name of addr:
// county, then city, state and country. It returns "" when none is set.
func DisplayNameFor(addr *domain.Address) string {
	if addr == nil {
		return ""
	}
	for _, candidate := range []string{addr.County, addr.City, addr.State, addr.Country} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}
