// Package geocode implements reverse geocoding against a Nominatim server.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/metrics"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "geostory/1.0"
	reverseZoom      = "18"
	breakerName      = "nominatim"
	maxBodyBytes     = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	UserAgent       string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	CacheTTL        time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Client is a polite Nominatim reverse geocoder: requests are rate limited,
// concurrent lookups of the same point are merged, answers are cached and a
// failing server is cut off by a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*domain.Address]
	cache   *cache.Cache
	group   singleflight.Group
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	metrics.GeocodeBreakerState.Set(0)
	breaker := gobreaker.NewCircuitBreaker[*domain.Address](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("geocoder circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.GeocodeBreakerState.Set(breakerStateValue(to))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker,
		cache:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// ReverseGeocode returns the address at coord. A point the server cannot
// name, such as open sea, yields an empty Address and no error.
func (c *Client) ReverseGeocode(ctx context.Context, coord domain.Coordinate) (*domain.Address, error) {
	key := cacheKey(coord)
	if v, ok := c.cache.Get(key); ok {
		addr := *v.(*domain.Address)
		return &addr, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The lookup outlives any single caller that gave up waiting.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()

		if err := c.limiter.Wait(lctx); err != nil {
			return nil, fmt.Errorf("wait for rate limit: %w", err)
		}
		addr, err := c.breaker.Execute(func() (*domain.Address, error) {
			return c.fetch(lctx, coord)
		})
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, addr)
		return addr, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		addr, ok := res.Val.(*domain.Address)
		if !ok {
			return nil, fmt.Errorf("unexpected return type from singleflight: %T", res.Val)
		}
		out := *addr
		return &out, nil
	}
}

type reverseResponse struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Address     struct {
		County  string `json:"county"`
		City    string `json:"city"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

func (c *Client) fetch(ctx context.Context, coord domain.Coordinate) (*domain.Address, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coord.Lng, 'f', -1, 64))
	q.Set("zoom", reverseZoom)
	q.Set("format", "jsonv2")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/reverse.php?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build reverse request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read reverse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var rr reverseResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("decode reverse response: %w", err)
	}
	if rr.Error != "" {
		slog.Debug("geocoder could not name point", "coordinate", coord.String(), "reason", rr.Error)
		return &domain.Address{}, nil
	}

	return &domain.Address{
		County:      rr.Address.County,
		City:        rr.Address.City,
		State:       rr.Address.State,
		Country:     rr.Address.Country,
		DisplayName: rr.DisplayName,
	}, nil
}

// StatusError is a non-200 reply from the geocoder.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocoder returned status %d", e.Code)
}

// IsOpen reports whether err came from an open circuit breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// cacheKey rounds to roughly one meter so repeated clicks share an entry.
func cacheKey(c domain.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}
