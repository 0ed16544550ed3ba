package wallet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypePlanChange TransactionType = "plan_change"
	TransactionTypeSpend      TransactionType = "spend"
)

// Plan change directions recorded in transaction metadata. The abuse guard
// looks for recent downgrades before allowing a grant.
const (
	DirectionUpgrade   = "upgrade"
	DirectionDowngrade = "downgrade"
)

// Wallet is the per-user credit aggregate. One row per user, created lazily
// on the first grant and mutated only by this package.
type Wallet struct {
	UserID               uuid.UUID `db:"user_id" json:"user_id"`
	Balance              int64     `db:"balance" json:"balance"`
	TotalPurchased       int64     `db:"total_purchased" json:"total_purchased"`
	TotalSpent           int64     `db:"total_spent" json:"total_spent"`
	PurchaseCount        int       `db:"purchase_count" json:"purchase_count"`
	RetentionCreditsUsed bool      `db:"retention_credits_used" json:"retention_credits_used"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger row. A refund is a new negative row,
// never an edit of the original purchase. (reference_id, type) is unique;
// the existence of a row is the proof an external event was processed.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Amount      int64           `db:"amount" json:"amount"`
	Type        TransactionType `db:"type" json:"type"`
	ReferenceID string          `db:"reference_id" json:"reference_id"`
	Description string          `db:"description" json:"description"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// GrantMeta carries grant context recorded into transaction metadata.
type GrantMeta struct {
	Source     string
	DiscountID string
	OrderID    string
}
