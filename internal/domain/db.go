package domain

import "context"

// Database is the local store: it owns its schema and hands out the
// bookmark and credential repositories.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
	Bookmarks() BookmarkRepository
	Credentials() CredentialRepository
}
