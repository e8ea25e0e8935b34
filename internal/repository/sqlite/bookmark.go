package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/msomdec/geostory/internal/domain"
)

type bookmarkRepo struct {
	db *sql.DB
}

func (r *bookmarkRepo) Put(ctx context.Context, b *domain.Bookmark) error {
	data, err := json.Marshal(b.Story)
	if err != nil {
		return fmt.Errorf("encode story: %w", err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO bookmarks (owner_id, story_id, story_json, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, story_id) DO UPDATE SET story_json = excluded.story_json`,
		b.OwnerID, b.Story.ID, string(data), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

func (r *bookmarkRepo) Remove(ctx context.Context, ownerID, storyID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM bookmarks WHERE owner_id = ? AND story_id = ?", ownerID, storyID)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *bookmarkRepo) Has(ctx context.Context, ownerID, storyID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bookmarks WHERE owner_id = ? AND story_id = ?", ownerID, storyID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bookmark: %w", err)
	}
	return n > 0, nil
}

func (r *bookmarkRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_id, story_json, created_at
		 FROM bookmarks WHERE owner_id = ? ORDER BY created_at DESC, story_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []domain.Bookmark
	for rows.Next() {
		var (
			b    domain.Bookmark
			data string
		)
		if err := rows.Scan(&b.OwnerID, &data, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &b.Story); err != nil {
			return nil, fmt.Errorf("decode bookmarked story: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *bookmarkRepo) IDsByOwner(ctx context.Context, ownerID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT story_id FROM bookmarks WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bookmark ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bookmark id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
