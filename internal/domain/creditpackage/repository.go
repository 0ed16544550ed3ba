package creditpackage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrPackageNotFound = errors.New("credit package not found")

type Repository interface {
	ListActive(ctx context.Context) ([]Package, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Package, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListActive(ctx context.Context) ([]Package, error) {
	list := []Package{}
	query := `
		SELECT id, name, credits, price_cents, is_active, sort_order, created_at
		FROM credit_packages
		WHERE is_active = TRUE
		ORDER BY sort_order ASC`

	if err := r.db.SelectContext(ctx, &list, query); err != nil {
		return nil, fmt.Errorf("list credit packages: %w", err)
	}
	return list, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Package, error) {
	var p Package
	query := `
		SELECT id, name, credits, price_cents, is_active, sort_order, created_at
		FROM credit_packages
		WHERE id = $1 AND is_active = TRUE`

	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credit package: %w", err)
	}
	return &p, nil
}
