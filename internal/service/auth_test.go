package service_test

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/repository/sqlite"
	"github.com/msomdec/geostory/internal/service"
)

type fakeAuthenticator struct {
	token string
	err   error
	calls int
}

func (a *fakeAuthenticator) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &domain.LoginResult{UserID: "user-abc", Name: "Dimas", Token: a.token}, nil
}

func testSealKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func newTestCredentialService(t *testing.T, auth domain.Authenticator, sealer *service.TokenSealer, ttl time.Duration) (*service.CredentialService, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return service.NewCredentialService(auth, db.Credentials(), sealer, ttl), db
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"userId": "user-abc"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("remote-service-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestCredentialService_LoginAndCurrent(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{token: "opaque-token"}
	creds, _ := newTestCredentialService(t, auth, nil, time.Hour)

	cred, err := creds.Login(ctx, "client-1", " dimas@example.com ", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if cred.Token != "opaque-token" || cred.Name != "Dimas" {
		t.Fatalf("unexpected credential %+v", cred)
	}

	token, err := creds.Token(ctx, "client-1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "opaque-token" {
		t.Fatalf("expected opaque-token, got %s", token)
	}

	ts := creds.TokenSource("client-1")
	if got, err := ts(ctx); err != nil || got != "opaque-token" {
		t.Fatalf("TokenSource: got %q, %v", got, err)
	}
}

func TestCredentialService_LoginValidation(t *testing.T) {
	auth := &fakeAuthenticator{token: "t"}
	creds, _ := newTestCredentialService(t, auth, nil, time.Hour)

	_, err := creds.Login(context.Background(), "client-1", "  ", "password123")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if auth.calls != 0 {
		t.Fatalf("expected no remote call, got %d", auth.calls)
	}
}

func TestCredentialService_LoginRejected(t *testing.T) {
	auth := &fakeAuthenticator{err: domain.ErrUnauthorized}
	creds, _ := newTestCredentialService(t, auth, nil, time.Hour)

	_, err := creds.Login(context.Background(), "client-1", "dimas@example.com", "wrong-password")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := creds.Current(context.Background(), "client-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected no stored credential, got %v", err)
	}
}

func TestCredentialService_NotLoggedIn(t *testing.T) {
	creds, _ := newTestCredentialService(t, &fakeAuthenticator{}, nil, time.Hour)

	_, err := creds.Token(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCredentialService_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	creds, db := newTestCredentialService(t, &fakeAuthenticator{token: "opaque"}, nil, time.Hour)
	creds.WithClock(func() time.Time { return now })

	if _, err := creds.Login(ctx, "client-1", "dimas@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, err := creds.Current(ctx, "client-1"); err != nil {
		t.Fatalf("Current before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := creds.Current(ctx, "client-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after ttl, got %v", err)
	}
	if _, err := db.Credentials().Get(ctx, "client-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired credential to be deleted, got %v", err)
	}
}

func TestCredentialService_JWTExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	auth := &fakeAuthenticator{token: signedToken(t, now.Add(10*time.Minute))}
	creds, _ := newTestCredentialService(t, auth, nil, 24*time.Hour)
	creds.WithClock(func() time.Time { return now })

	if _, err := creds.Login(ctx, "client-1", "dimas@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := creds.Current(ctx, "client-1"); err != nil {
		t.Fatalf("Current before exp: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if _, err := creds.Current(ctx, "client-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after exp, got %v", err)
	}
}

func TestCredentialService_SealedAtRest(t *testing.T) {
	ctx := context.Background()
	sealer, err := service.NewTokenSealer(testSealKey())
	if err != nil {
		t.Fatalf("NewTokenSealer: %v", err)
	}
	creds, db := newTestCredentialService(t, &fakeAuthenticator{token: "secret-token"}, sealer, time.Hour)

	if _, err := creds.Login(ctx, "client-1", "dimas@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	stored, err := db.Credentials().Get(ctx, "client-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Token == "secret-token" {
		t.Fatal("expected token to be sealed in storage")
	}

	token, err := creds.Token(ctx, "client-1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "secret-token" {
		t.Fatalf("expected secret-token, got %s", token)
	}
}

func TestCredentialService_Logout(t *testing.T) {
	ctx := context.Background()
	creds, _ := newTestCredentialService(t, &fakeAuthenticator{token: "t"}, nil, time.Hour)

	if err := creds.Logout(ctx, "never-logged-in"); err != nil {
		t.Fatalf("Logout without credential: %v", err)
	}
	if _, err := creds.Login(ctx, "client-1", "dimas@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := creds.Logout(ctx, "client-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := creds.Current(ctx, "client-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
}
