package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists subscription state on user profiles.
type Repository interface {
	GetState(ctx context.Context, userID uuid.UUID) (*State, error)
	SaveState(ctx context.Context, s *State) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetState(ctx context.Context, userID uuid.UUID) (*State, error) {
	var s State
	query := `
		SELECT user_id, subscription_id, subscription_status, subscription_plan,
		       subscription_cycle, updated_at
		FROM profiles
		WHERE user_id = $1`

	err := r.db.GetContext(ctx, &s, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription state: %w", err)
	}
	return &s, nil
}

// SaveState upserts the profile row. Profiles are normally created at
// signup by the main API; the upsert covers webhooks racing ahead of that.
func (r *postgresRepository) SaveState(ctx context.Context, s *State) error {
	query := `
		INSERT INTO profiles (user_id, subscription_id, subscription_status,
		                      subscription_plan, subscription_cycle, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET subscription_id = EXCLUDED.subscription_id,
		    subscription_status = EXCLUDED.subscription_status,
		    subscription_plan = EXCLUDED.subscription_plan,
		    subscription_cycle = EXCLUDED.subscription_cycle,
		    updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, s.UserID, s.SubscriptionID, s.Status, s.Plan, s.Cycle); err != nil {
		return fmt.Errorf("save subscription state: %w", err)
	}
	return nil
}
