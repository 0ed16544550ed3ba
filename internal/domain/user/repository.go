package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrUserNotFound = errors.New("user not found")

// Repository resolves users by the identifiers present on provider events.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPolarCustomerID(ctx context.Context, customerID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetPolarCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const selectUser = `
	SELECT id, email, polar_customer_id, subscription_plan, subscription_status, created_at
	FROM users`

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, selectUser+` WHERE id = $1`, id)
	return handleRow(&u, err)
}

func (r *postgresRepository) GetByPolarCustomerID(ctx context.Context, customerID string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, selectUser+` WHERE polar_customer_id = $1`, customerID)
	return handleRow(&u, err)
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, selectUser+` WHERE LOWER(email) = $1`, strings.ToLower(email))
	return handleRow(&u, err)
}

// SetPolarCustomerID backfills the provider customer id the first time a
// user is seen on a webhook, so later events resolve without metadata.
func (r *postgresRepository) SetPolarCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	query := `
		UPDATE users
		SET polar_customer_id = $2
		WHERE id = $1 AND (polar_customer_id IS NULL OR polar_customer_id = '')`

	if _, err := r.db.ExecContext(ctx, query, id, customerID); err != nil {
		return fmt.Errorf("set polar customer id: %w", err)
	}
	return nil
}

func handleRow(u *User, err error) (*User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
