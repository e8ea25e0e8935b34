package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/geocode"
	"github.com/msomdec/geostory/internal/handler"
	"github.com/msomdec/geostory/internal/repository/sqlite"
	"github.com/msomdec/geostory/internal/service"
	"github.com/msomdec/geostory/internal/storyapi"
)

const (
	testEmail    = "dimas@example.com"
	testPassword = "password123"
	testToken    = "token-abc"
)

// storyAPI is an in-memory stand-in for the remote story service.
type storyAPI struct {
	mu        sync.Mutex
	published []publishedStory
	failNext  bool
}

type publishedStory struct {
	Description string
	Lat, Lon    string
	Filename    string
	ContentType string
	Size        int
}

func (a *storyAPI) firstPublished() (publishedStory, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.published) == 0 {
		return publishedStory{}, 0
	}
	return a.published[0], len(a.published)
}

func (a *storyAPI) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			reply(w, http.StatusUnauthorized, map[string]any{"error": true, "message": "Missing authentication"})
			return false
		}
		return true
	}

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Email, Password string }
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email != testEmail || req.Password != testPassword {
			reply(w, http.StatusUnauthorized, map[string]any{"error": true, "message": "Invalid password"})
			return
		}
		reply(w, http.StatusOK, map[string]any{
			"error":       false,
			"message":     "success",
			"loginResult": map[string]string{"userId": "user-1", "name": "Dimas", "token": testToken},
		})
	})
	mux.HandleFunc("GET /stories", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		reply(w, http.StatusOK, map[string]any{"error": false, "message": "ok", "listStory": testStories()})
	})
	mux.HandleFunc("GET /stories/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		for _, st := range testStories() {
			if st["id"] == r.PathValue("id") {
				reply(w, http.StatusOK, map[string]any{"error": false, "message": "ok", "story": st})
				return
			}
		}
		reply(w, http.StatusNotFound, map[string]any{"error": true, "message": "Story not found"})
	})
	mux.HandleFunc("POST /stories", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		a.mu.Lock()
		fail := a.failNext
		a.failNext = false
		a.mu.Unlock()
		if fail {
			reply(w, http.StatusInternalServerError, map[string]any{"error": true, "message": "storage down"})
			return
		}

		file, header, err := r.FormFile("photo")
		if err != nil {
			reply(w, http.StatusBadRequest, map[string]any{"error": true, "message": "photo required"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		a.mu.Lock()
		a.published = append(a.published, publishedStory{
			Description: r.FormValue("description"),
			Lat:         r.FormValue("lat"),
			Lon:         r.FormValue("lon"),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        len(data),
		})
		a.mu.Unlock()
		reply(w, http.StatusCreated, map[string]any{"error": false, "message": "Story created successfully"})
	})
	return mux
}

func testStories() []map[string]any {
	return []map[string]any{
		{"id": "story-1", "name": "Dimas", "description": "Bandung at dawn", "photoUrl": "https://example.com/1.jpg", "createdAt": "2024-05-01T08:00:00Z", "lat": -6.9, "lon": 107.6},
		{"id": "story-2", "name": "Ayu", "description": "No location", "photoUrl": "https://example.com/2.jpg", "createdAt": "2024-05-01T09:00:00Z", "lat": nil, "lon": nil},
		{"id": "story-3", "name": "Rina", "description": "Jakarta traffic", "photoUrl": "https://example.com/3.jpg", "createdAt": "2024-05-01T10:00:00Z", "lat": -6.2, "lon": 106.8},
	}
}

func nominatimHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("lat") == "0" {
			io.WriteString(w, `{"error":"Unable to geocode"}`)
			return
		}
		io.WriteString(w, `{"display_name":"Bandung, West Java, Indonesia","address":{"county":"Bandung","state":"West Java","country":"Indonesia"}}`)
	})
}

type testEnv struct {
	srv     *httptest.Server
	client  *http.Client
	stories *storyAPI
	clients *handler.ClientRegistry
}

func newTestEnv(t *testing.T, burst int) *testEnv {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	api := &storyAPI{}
	apiSrv := httptest.NewServer(api.handler())
	t.Cleanup(apiSrv.Close)
	geoSrv := httptest.NewServer(nominatimHandler())
	t.Cleanup(geoSrv.Close)

	stories := storyapi.New(apiSrv.URL, apiSrv.Client())
	geo := geocode.New(geocode.Config{BaseURL: geoSrv.URL, RatePerSecond: 100, Burst: 10}, geoSrv.Client())
	creds := service.NewCredentialService(stories, db.Credentials(), nil, time.Hour)

	clients := handler.NewClientRegistry(handler.Deps{
		Stories:     stories,
		Credentials: creds,
		Bookmarks:   db.Bookmarks(),
		Resolver:    service.NewLocationResolver(geo, 2*time.Second),
		Config: handler.AppConfig{
			Capture:       service.DefaultCaptureConstraints,
			RelayoutDelay: time.Millisecond,
		},
	}, time.Hour)
	t.Cleanup(clients.CloseAll)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, &handler.Server{
		Clients:      clients,
		Credentials:  creds,
		Limiter:      service.NewKeyedLimiter(1, burst),
		CookieSecure: false,
		PageSize:     20,
		MaxImageSize: 1 << 20,
	})
	srv := httptest.NewServer(handler.SecurityHeaders(mux))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("create cookie jar: %v", err)
	}
	return &testEnv{
		srv:     srv,
		client:  &http.Client{Jar: jar},
		stories: api,
		clients: clients,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(bytes.TrimSpace(data)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s %s: %v", req.Method, req.URL.Path, err)
		}
	}
	return resp, out
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": testEmail, "password": testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
}

func (e *testEnv) upload(t *testing.T, name string, data []byte) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("photo", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(data)
	w.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/create/image", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return e.send(t, req)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// field walks a decoded JSON object along keys.
func field(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var _ domain.StoryPublisher = (*storyapi.Client)(nil)
