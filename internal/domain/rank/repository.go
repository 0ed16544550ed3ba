package rank

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository mutates user rank rows.
type Repository interface {
	AddXP(ctx context.Context, userID uuid.UUID, xp int64) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// AddXP bumps the user's XP counter. Users without a rank row have not
// opted into gamification; the update silently matches zero rows and the
// award is skipped.
func (r *postgresRepository) AddXP(ctx context.Context, userID uuid.UUID, xp int64) error {
	query := `
		UPDATE user_ranks
		SET xp = xp + $2, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID, xp); err != nil {
		return fmt.Errorf("add xp: %w", err)
	}
	return nil
}
