package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository persists wallets and their ledger rows.
type Repository interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	Grant(ctx context.Context, p GrantParams) (bool, error)
	Refund(ctx context.Context, p RefundParams) (bool, error)
	Spend(ctx context.Context, p SpendParams) error
	RecordPlanChange(ctx context.Context, p PlanChangeParams) error
	HasRecentDowngrade(ctx context.Context, userID uuid.UUID, window time.Duration) (bool, error)
	PurchaseAmount(ctx context.Context, referenceID string) (int64, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}

// GrantParams describes a credit grant keyed by an external reference.
type GrantParams struct {
	UserID        uuid.UUID
	Credits       int64
	ReferenceID   string
	Description   string
	Metadata      map[string]string
	RetentionUsed bool
}

// RefundParams describes a refund recorded as a new negative ledger row.
type RefundParams struct {
	UserID      uuid.UUID
	Credits     int64
	ReferenceID string
	Description string
	Metadata    map[string]string
}

// SpendParams describes an in-product credit deduction.
type SpendParams struct {
	UserID      uuid.UUID
	Credits     int64
	ReferenceID string
	Description string
}

// PlanChangeParams records a subscription plan transition in the ledger.
// Downgrade rows feed the grant abuse guard.
type PlanChangeParams struct {
	UserID      uuid.UUID
	ReferenceID string
	FromPlan    string
	ToPlan      string
	Direction   string
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	var w Wallet
	query := `
		SELECT user_id, balance, total_purchased, total_spent,
		       purchase_count, retention_credits_used, updated_at
		FROM wallets
		WHERE user_id = $1`

	err := r.db.GetContext(ctx, &w, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// Grant credits the wallet and writes a purchase row in one transaction.
// Returns false without touching the balance when a purchase row with the
// same reference already exists, so webhook retries are harmless.
func (r *postgresRepository) Grant(ctx context.Context, p GrantParams) (bool, error) {
	if p.ReferenceID == "" {
		return false, ErrMissingReference
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWallet(ctx, tx, p.UserID)
	if err != nil {
		return false, err
	}

	seen, err := hasTransaction(ctx, tx, p.ReferenceID, TransactionTypePurchase)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	err = insertTransaction(ctx, tx, Transaction{
		UserID:      p.UserID,
		Amount:      p.Credits,
		Type:        TransactionTypePurchase,
		ReferenceID: p.ReferenceID,
		Description: p.Description,
	}, p.Metadata)
	if errors.Is(err, ErrDuplicateReference) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	update := `
		UPDATE wallets
		SET balance = balance + $2,
		    total_purchased = total_purchased + $2,
		    purchase_count = purchase_count + 1,
		    retention_credits_used = retention_credits_used OR $3,
		    updated_at = NOW()
		WHERE user_id = $1`

	if _, err := tx.ExecContext(ctx, update, w.UserID, p.Credits, p.RetentionUsed); err != nil {
		return false, fmt.Errorf("apply grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit grant: %w", err)
	}
	return true, nil
}

// Refund writes a negative refund row for the full refunded amount and
// floors the balance at zero. total_purchased is left untouched so the
// historical spend volume still reflects what was actually paid for.
func (r *postgresRepository) Refund(ctx context.Context, p RefundParams) (bool, error) {
	if p.ReferenceID == "" {
		return false, ErrMissingReference
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWallet(ctx, tx, p.UserID)
	if err != nil {
		return false, err
	}

	seen, err := hasTransaction(ctx, tx, p.ReferenceID, TransactionTypeRefund)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	err = insertTransaction(ctx, tx, Transaction{
		UserID:      p.UserID,
		Amount:      -p.Credits,
		Type:        TransactionTypeRefund,
		ReferenceID: p.ReferenceID,
		Description: p.Description,
	}, p.Metadata)
	if errors.Is(err, ErrDuplicateReference) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	newBalance := w.Balance - p.Credits
	if newBalance < 0 {
		newBalance = 0
	}

	update := `
		UPDATE wallets
		SET balance = $2, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := tx.ExecContext(ctx, update, w.UserID, newBalance); err != nil {
		return false, fmt.Errorf("apply refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit refund: %w", err)
	}
	return true, nil
}

// Spend deducts credits, failing when the locked balance is short.
func (r *postgresRepository) Spend(ctx context.Context, p SpendParams) error {
	if p.ReferenceID == "" {
		return ErrMissingReference
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin spend tx: %w", err)
	}
	defer tx.Rollback()

	w, err := lockWallet(ctx, tx, p.UserID)
	if err != nil {
		return err
	}
	if w.Balance < p.Credits {
		return ErrInsufficientFunds
	}

	err = insertTransaction(ctx, tx, Transaction{
		UserID:      p.UserID,
		Amount:      -p.Credits,
		Type:        TransactionTypeSpend,
		ReferenceID: p.ReferenceID,
		Description: p.Description,
	}, nil)
	if err != nil {
		return err
	}

	update := `
		UPDATE wallets
		SET balance = balance - $2,
		    total_spent = total_spent + $2,
		    updated_at = NOW()
		WHERE user_id = $1`

	if _, err := tx.ExecContext(ctx, update, w.UserID, p.Credits); err != nil {
		return fmt.Errorf("apply spend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit spend: %w", err)
	}
	return nil
}

// RecordPlanChange appends a zero-amount plan_change row. Duplicate
// references are ignored so replayed subscription events stay idempotent.
func (r *postgresRepository) RecordPlanChange(ctx context.Context, p PlanChangeParams) error {
	if p.ReferenceID == "" {
		return ErrMissingReference
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan change tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockWallet(ctx, tx, p.UserID); err != nil {
		return err
	}

	err = insertTransaction(ctx, tx, Transaction{
		UserID:      p.UserID,
		Amount:      0,
		Type:        TransactionTypePlanChange,
		ReferenceID: p.ReferenceID,
		Description: fmt.Sprintf("plan %s -> %s", p.FromPlan, p.ToPlan),
	}, map[string]string{
		"from_plan": p.FromPlan,
		"to_plan":   p.ToPlan,
		"direction": p.Direction,
	})
	if errors.Is(err, ErrDuplicateReference) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan change: %w", err)
	}
	return nil
}

func (r *postgresRepository) HasRecentDowngrade(ctx context.Context, userID uuid.UUID, window time.Duration) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions
			WHERE user_id = $1
			  AND type = $2
			  AND metadata->>'direction' = $3
			  AND created_at > $4
		)`

	cutoff := time.Now().Add(-window)
	err := r.db.GetContext(ctx, &exists, query, userID, TransactionTypePlanChange, DirectionDowngrade, cutoff)
	if err != nil {
		return false, fmt.Errorf("check recent downgrade: %w", err)
	}
	return exists, nil
}

// PurchaseAmount returns the credited amount of the original purchase row,
// used to size a refund when the provider event omits the credit count.
func (r *postgresRepository) PurchaseAmount(ctx context.Context, referenceID string) (int64, error) {
	var amount int64
	query := `
		SELECT amount FROM wallet_transactions
		WHERE reference_id = $1 AND type = $2`

	err := r.db.GetContext(ctx, &amount, query, referenceID, TransactionTypePurchase)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTransactionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get purchase amount: %w", err)
	}
	return amount, nil
}

func (r *postgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txns := []Transaction{}
	query := `
		SELECT id, user_id, amount, type, reference_id,
		       description, metadata, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &txns, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// lockWallet upserts the wallet row and locks it for the transaction.
// The insert races with concurrent first grants; ON CONFLICT makes the
// loser fall through to the locking select.
func lockWallet(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Wallet, error) {
	upsert := `
		INSERT INTO wallets (user_id, balance, total_purchased, total_spent,
		                     purchase_count, retention_credits_used, updated_at)
		VALUES ($1, 0, 0, 0, 0, FALSE, NOW())
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := tx.ExecContext(ctx, upsert, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var w Wallet
	query := `
		SELECT user_id, balance, total_purchased, total_spent,
		       purchase_count, retention_credits_used, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE`

	if err := tx.GetContext(ctx, &w, query, userID); err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &w, nil
}

func hasTransaction(ctx context.Context, tx *sqlx.Tx, referenceID string, typ TransactionType) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions
			WHERE reference_id = $1 AND type = $2
		)`

	if err := tx.GetContext(ctx, &exists, query, referenceID, typ); err != nil {
		return false, fmt.Errorf("check transaction existence: %w", err)
	}
	return exists, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t Transaction, metadata map[string]string) error {
	var meta interface{}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode transaction metadata: %w", err)
		}
		meta = raw
	}

	query := `
		INSERT INTO wallet_transactions (id, user_id, amount, type,
		                                 reference_id, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	_, err := tx.ExecContext(ctx, query,
		uuid.New(), t.UserID, t.Amount, t.Type, t.ReferenceID, t.Description, meta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
