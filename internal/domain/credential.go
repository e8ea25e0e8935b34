package domain

import (
	"context"
	"time"
)

// Credential is a bearer token obtained from the story API.
type Credential struct {
	OwnerID  string
	UserID   string
	Name     string
	Token    string
	IssuedAt time.Time
}

// CredentialRepository persists at most one credential per owner.
type CredentialRepository interface {
	Save(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, ownerID string) (*Credential, error)
	Delete(ctx context.Context, ownerID string) error
}

// LoginResult is what the story API returns for valid credentials.
type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// Authenticator exchanges user credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
}
