package creditpackage

import (
	"time"

	"github.com/google/uuid"
)

// Package is a curated credit bundle shown on the pricing page. The listed
// price already bakes in its volume discount; checkout applies loyalty and
// retention on top.
type Package struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Credits    int64     `db:"credits" json:"credits"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	SortOrder  int       `db:"sort_order" json:"sort_order"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
