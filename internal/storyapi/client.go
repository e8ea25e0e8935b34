// Package storyapi is a client for the remote story service: login, story
// listing and multipart story creation.
package storyapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/msomdec/geostory/internal/domain"
)

const (
	DefaultBaseURL = "https://story-api.dicoding.dev/v1"
	maxBodyBytes   = 4 << 20
)

// TokenSource returns the bearer token to send with a request.
type TokenSource func(ctx context.Context) (string, error)

// APIError is an error reply from the story service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("story api: status %d", e.Status)
	}
	return fmt.Sprintf("story api: status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status to a domain sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return domain.ErrInvalidInput
	}
	return nil
}

// Client talks to the story service.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// New creates a client without credentials. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// WithTokenSource returns a copy of c that authenticates with ts.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cp := *c
	cp.token = ts
	return &cp
}

type envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type loginResponse struct {
	envelope
	LoginResult domain.LoginResult `json:"loginResult"`
}

type listResponse struct {
	envelope
	ListStory []domain.Story `json:"listStory"`
}

type detailResponse struct {
	envelope
	Story domain.Story `json:"story"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out loginResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.LoginResult, nil
}

// ListStories returns one page of stories, newest first.
func (c *Client) ListStories(ctx context.Context, opts domain.ListOptions) ([]domain.Story, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Size > 0 {
		q.Set("size", strconv.Itoa(opts.Size))
	}
	if opts.WithLocation {
		q.Set("location", "1")
	}
	endpoint := c.baseURL + "/stories"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := c.authorized(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out listResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.ListStory, nil
}

// GetStory returns one story.
func (c *Client) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: story id is required", domain.ErrInvalidInput)
	}
	req, err := c.authorized(ctx, http.MethodGet, c.baseURL+"/stories/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out detailResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.Story, nil
}

// CreateStory uploads a story as multipart form data.
func (c *Client) CreateStory(ctx context.Context, story domain.NewStory) (*domain.PublishResult, error) {
	body, contentType, err := encodeStory(story)
	if err != nil {
		return nil, err
	}
	req, err := c.authorized(ctx, http.MethodPost, c.baseURL+"/stories", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out envelope
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &domain.PublishResult{Message: out.Message}, nil
}

func encodeStory(story domain.NewStory) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("description", story.Description); err != nil {
		return nil, "", fmt.Errorf("write description: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, story.Photo.Filename))
	h.Set("Content-Type", story.Photo.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(story.Photo.Data); err != nil {
		return nil, "", fmt.Errorf("write photo: %w", err)
	}

	if err := w.WriteField("lat", strconv.FormatFloat(story.Lat, 'f', -1, 64)); err != nil {
		return nil, "", fmt.Errorf("write lat: %w", err)
	}
	if err := w.WriteField("lon", strconv.FormatFloat(story.Lon, 'f', -1, 64)); err != nil {
		return nil, "", fmt.Errorf("write lon: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) authorized(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	if c.token == nil {
		return nil, fmt.Errorf("%w: not logged in", domain.ErrUnauthorized)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	_ = json.Unmarshal(data, &env)
	if resp.StatusCode >= 300 || env.Error {
		status := resp.StatusCode
		if status < 300 {
			status = http.StatusBadGateway
		}
		return &APIError{Status: status, Message: env.Message}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnauthorized reports whether err means the token was rejected.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
