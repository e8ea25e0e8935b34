package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/msomdec/geostory/internal/service"
)

type contextKey string

const (
	clientContextKey contextKey = "client"
	clientCookieName            = "client_id"
	clientCookieMaxAge          = 365 * 24 * 60 * 60
)

// ClientFromContext returns the ClientApp of the request, or nil.
func ClientFromContext(ctx context.Context) *ClientApp {
	app, _ := ctx.Value(clientContextKey).(*ClientApp)
	return app
}

// SecurityHeaders sets conservative browser security headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(self), geolocation=(self)")
		next.ServeHTTP(w, r)
	})
}

// Identify resolves the client_id cookie to a ClientApp, issuing a new id
// when the cookie is missing or malformed.
func Identify(clients *ClientRegistry, cookieSecure bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(clientCookieName); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   cookieSecure,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   clientCookieMaxAge,
			})
		}

		ctx := context.WithValue(r.Context(), clientContextKey, clients.Get(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit rejects state-changing requests from a client that exceeds its
// budget. It must run after Identify.
func RateLimit(limiter *service.KeyedLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		app := ClientFromContext(r.Context())
		if app != nil && !limiter.Allow(app.ID) {
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
