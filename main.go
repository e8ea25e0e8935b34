package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/msomdec/geostory/internal/config"
	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/geocode"
	"github.com/msomdec/geostory/internal/handler"
	"github.com/msomdec/geostory/internal/repository/sqlite"
	"github.com/msomdec/geostory/internal/service"
	"github.com/msomdec/geostory/internal/storyapi"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logOpts := &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)

	var db domain.Database
	db, err = sqlite.New(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations applied")

	sealer, err := service.NewTokenSealer(cfg.Session.TokenEncryptionKey)
	if err != nil {
		slog.Error("invalid token encryption key", "error", err)
		os.Exit(1)
	}
	if !sealer.Enabled() {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, bearer tokens are stored unencrypted")
	}

	stories := storyapi.New(cfg.StoryAPI.BaseURL, &http.Client{Timeout: cfg.StoryAPI.Timeout})
	geocoder := geocode.New(geocode.Config{
		BaseURL:         cfg.Geocoder.BaseURL,
		UserAgent:       cfg.Geocoder.UserAgent,
		Timeout:         cfg.Geocoder.Timeout,
		RatePerSecond:   cfg.Geocoder.RatePerSecond,
		Burst:           cfg.Geocoder.Burst,
		CacheTTL:        cfg.Geocoder.CacheTTL,
		BreakerFailures: cfg.Geocoder.BreakerFailures,
		BreakerTimeout:  cfg.Geocoder.BreakerTimeout,
	}, &http.Client{Timeout: cfg.Geocoder.Timeout})

	credentials := service.NewCredentialService(stories, db.Credentials(), sealer, cfg.Session.TokenTTL)
	resolver := service.NewLocationResolver(geocoder, cfg.Geocoder.Timeout)

	clients := handler.NewClientRegistry(handler.Deps{
		Stories:     stories,
		Credentials: credentials,
		Bookmarks:   db.Bookmarks(),
		Resolver:    resolver,
		Config: handler.AppConfig{
			Create: service.CreationConfig{
				SurfaceID:    service.CreateSurfaceID,
				Center:       domain.Coordinate{Lat: cfg.Create.Latitude, Lng: cfg.Create.Longitude},
				Zoom:         cfg.Create.Zoom,
				MaxImageSize: cfg.Create.MaxImageBytes,
			},
			Feed: service.MapPageConfig{
				SurfaceID: service.HomeSurfaceID,
				Center:    domain.Coordinate{Lat: cfg.Feed.Latitude, Lng: cfg.Feed.Longitude},
				Zoom:      cfg.Feed.Zoom,
				PageSize:  cfg.Feed.PageSize,
			},
			Capture: domain.CaptureConstraints{
				FacingMode: cfg.Create.FacingMode,
				Width:      cfg.Create.CaptureWidth,
				Height:     cfg.Create.CaptureHeight,
			},
			RelayoutDelay: cfg.Create.RelayoutDelay,
		},
	}, cfg.Session.IdleTimeout)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, &handler.Server{
		Clients:      clients,
		Credentials:  credentials,
		Limiter:      service.NewKeyedLimiter(cfg.Session.RatePerSecond, cfg.Session.Burst),
		CookieSecure: cfg.Session.CookieSecure,
		PageSize:     cfg.Feed.PageSize,
		MaxImageSize: cfg.Create.MaxImageBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.SecurityHeaders(mux),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	clients.CloseAll()
	slog.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
