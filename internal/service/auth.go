package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/msomdec/geostory/internal/domain"
)

// DefaultTokenTTL is how long a stored bearer token is trusted.
const DefaultTokenTTL = 2 * time.Hour

// CredentialService logs clients in against the story API and keeps their
// bearer token until it expires.
type CredentialService struct {
	auth   domain.Authenticator
	creds  domain.CredentialRepository
	sealer *TokenSealer
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialService creates a new CredentialService. A zero ttl uses
// DefaultTokenTTL; a nil sealer stores tokens in the clear.
func NewCredentialService(auth domain.Authenticator, creds domain.CredentialRepository, sealer *TokenSealer, ttl time.Duration) *CredentialService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &CredentialService{
		auth:   auth,
		creds:  creds,
		sealer: sealer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	s.now = now
	return s
}

// Login exchanges email and password for a token and stores it for ownerID.
func (s *CredentialService) Login(ctx context.Context, ownerID, email, password string) (*domain.Credential, error) {
	email = strings.TrimSpace(email)
	if ownerID == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	res, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return nil, fmt.Errorf("%w: empty token in login response", domain.ErrUnauthorized)
	}

	sealed, err := s.sealer.Seal(res.Token)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}

	cred := &domain.Credential{
		OwnerID:  ownerID,
		UserID:   res.UserID,
		Name:     res.Name,
		Token:    sealed,
		IssuedAt: s.now().UTC(),
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	out := *cred
	out.Token = res.Token
	return &out, nil
}

// Current returns the live credential of ownerID with its token unsealed.
// A missing or expired credential reads as domain.ErrUnauthorized; expired
// ones are deleted.
func (s *CredentialService) Current(ctx context.Context, ownerID string) (*domain.Credential, error) {
	cred, err := s.creds.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}

	token, err := s.sealer.Unseal(cred.Token)
	if err != nil {
		slog.Warn("discarding unreadable credential", "owner", ownerID, "error", err)
		_ = s.creds.Delete(ctx, ownerID)
		return nil, domain.ErrUnauthorized
	}

	if s.expired(cred.IssuedAt, token) {
		if err := s.creds.Delete(ctx, ownerID); err != nil {
			slog.Warn("delete expired credential", "owner", ownerID, "error", err)
		}
		return nil, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}

	cred.Token = token
	return cred, nil
}

// Token returns the bearer token of ownerID.
func (s *CredentialService) Token(ctx context.Context, ownerID string) (string, error) {
	cred, err := s.Current(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// TokenSource binds Token to one owner.
func (s *CredentialService) TokenSource(ownerID string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return s.Token(ctx, ownerID)
	}
}

// Logout forgets the credential of ownerID.
func (s *CredentialService) Logout(ctx context.Context, ownerID string) error {
	if err := s.creds.Delete(ctx, ownerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *CredentialService) expired(issuedAt time.Time, token string) bool {
	now := s.now()
	if now.Sub(issuedAt) >= s.ttl {
		return true
	}
	if exp, ok := tokenExpiry(token); ok && !now.Before(exp) {
		return true
	}
	return false
}

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// The API signs tokens with a key we never see; exp only narrows the window.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
