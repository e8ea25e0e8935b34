package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/msomdec/geostory/internal/domain"
)

type credentialRepo struct {
	db *sql.DB
}

func (r *credentialRepo) Save(ctx context.Context, c *domain.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (owner_id, user_id, name, token, issued_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   user_id = excluded.user_id,
		   name = excluded.name,
		   token = excluded.token,
		   issued_at = excluded.issued_at`,
		c.OwnerID, c.UserID, c.Name, c.Token, c.IssuedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) Get(ctx context.Context, ownerID string) (*domain.Credential, error) {
	c := &domain.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT owner_id, user_id, name, token, issued_at
		 FROM credentials WHERE owner_id = ?`, ownerID,
	).Scan(&c.OwnerID, &c.UserID, &c.Name, &c.Token, &c.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (r *credentialRepo) Delete(ctx context.Context, ownerID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE owner_id = ?", ownerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
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
