package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agencyos/billing-api/internal/domain/wallet"
)

// ============================================================================
// Fakes
// ============================================================================

type txnKey struct {
	ref string
	typ wallet.TransactionType
}

type fakeRepo struct {
	mu           sync.Mutex
	balance      int64
	retention    bool
	txns         map[txnKey]int64
	downgradedAt time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{txns: make(map[txnKey]int64)}
}

func (f *fakeRepo) GetWallet(_ context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &wallet.Wallet{UserID: userID, Balance: f.balance, RetentionCreditsUsed: f.retention}, nil
}

func (f *fakeRepo) Grant(_ context.Context, p wallet.GrantParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := txnKey{p.ReferenceID, wallet.TransactionTypePurchase}
	if _, seen := f.txns[key]; seen {
		return false, nil
	}
	f.txns[key] = p.Credits
	f.balance += p.Credits
	if p.RetentionUsed {
		f.retention = true
	}
	return true, nil
}

func (f *fakeRepo) Refund(_ context.Context, p wallet.RefundParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := txnKey{p.ReferenceID, wallet.TransactionTypeRefund}
	if _, seen := f.txns[key]; seen {
		return false, nil
	}
	f.txns[key] = -p.Credits
	f.balance -= p.Credits
	if f.balance < 0 {
		f.balance = 0
	}
	return true, nil
}

func (f *fakeRepo) Spend(_ context.Context, p wallet.SpendParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < p.Credits {
		return wallet.ErrInsufficientFunds
	}
	f.balance -= p.Credits
	f.txns[txnKey{p.ReferenceID, wallet.TransactionTypeSpend}] = -p.Credits
	return nil
}

func (f *fakeRepo) RecordPlanChange(_ context.Context, p wallet.PlanChangeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns[txnKey{p.ReferenceID, wallet.TransactionTypePlanChange}] = 0
	if p.Direction == wallet.DirectionDowngrade {
		f.downgradedAt = time.Now()
	}
	return nil
}

func (f *fakeRepo) HasRecentDowngrade(_ context.Context, _ uuid.UUID, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downgradedAt.IsZero() {
		return false, nil
	}
	return time.Since(f.downgradedAt) < window, nil
}

func (f *fakeRepo) PurchaseAmount(_ context.Context, referenceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.txns[txnKey{referenceID, wallet.TransactionTypePurchase}]
	if !ok {
		return 0, wallet.ErrTransactionNotFound
	}
	return amount, nil
}

func (f *fakeRepo) ListTransactions(_ context.Context, _ uuid.UUID, _, _ int) ([]wallet.Transaction, error) {
	return nil, nil
}

type fakeRanks struct {
	mu      sync.Mutex
	awarded int64
}

func (f *fakeRanks) AddXP(_ context.Context, _ uuid.UUID, xp int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awarded += xp
	return nil
}

type fakeNotifier struct {
	granted  int
	refunded int
}

func (f *fakeNotifier) NotifyCreditsGranted(_ context.Context, _ uuid.UUID, _ int64)  { f.granted++ }
func (f *fakeNotifier) NotifyCreditsRefunded(_ context.Context, _ uuid.UUID, _ int64) { f.refunded++ }

// ============================================================================
// Grant
// ============================================================================

func TestGrantAppliesOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	applied, err := svc.Grant(context.Background(), userID, 500, "order_1", wallet.GrantMeta{Source: "order.paid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected first grant to apply")
	}

	applied, err = svc.Grant(context.Background(), userID, 500, "order_1", wallet.GrantMeta{Source: "order.paid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected replayed grant to be skipped")
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if w.Balance != 500 {
		t.Fatalf("expected balance 500 after replay, got %d", w.Balance)
	}
}

func TestGrantRejectsInvalidInput(t *testing.T) {
	svc := wallet.NewService(newFakeRepo(), nil, nil)

	if _, err := svc.Grant(context.Background(), uuid.New(), 0, "order_2", wallet.GrantMeta{}); err != wallet.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Grant(context.Background(), uuid.New(), 100, "", wallet.GrantMeta{}); err != wallet.ErrMissingReference {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestGrantBlockedAfterRecentDowngrade(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	repo.downgradedAt = time.Now().Add(-5 * time.Minute)

	applied, err := svc.Grant(context.Background(), userID, 300, "order_3", wallet.GrantMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected grant within downgrade window to be blocked")
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if w.Balance != 0 {
		t.Fatalf("expected balance to stay 0, got %d", w.Balance)
	}
}

func TestGrantAllowedAfterDowngradeWindow(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	repo.downgradedAt = time.Now().Add(-11 * time.Minute)

	applied, err := svc.Grant(context.Background(), userID, 300, "order_4", wallet.GrantMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected grant outside downgrade window to apply")
	}
}

func TestGrantAwardsXPAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	ranks := &fakeRanks{}
	notifier := &fakeNotifier{}
	svc := wallet.NewService(repo, ranks, notifier)

	if _, err := svc.Grant(context.Background(), uuid.New(), 500, "order_5", wallet.GrantMeta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranks.awarded != 300 {
		t.Fatalf("expected 300 xp for a 500 credit purchase, got %d", ranks.awarded)
	}
	if notifier.granted != 1 {
		t.Fatalf("expected one grant notification, got %d", notifier.granted)
	}
}

func TestGrantMarksRetentionUsed(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	_, err := svc.Grant(context.Background(), userID, 100, "order_6", wallet.GrantMeta{DiscountID: wallet.DiscountRetention})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if !w.RetentionCreditsUsed {
		t.Fatal("expected retention flag to be set after retention grant")
	}
}

func TestConcurrentGrantsApplyOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := svc.Grant(context.Background(), userID, 250, "order_race", wallet.GrantMeta{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if appliedCount != 1 {
		t.Fatalf("expected exactly one grant to apply, got %d", appliedCount)
	}
	w, _ := svc.GetWallet(context.Background(), userID)
	if w.Balance != 250 {
		t.Fatalf("expected balance 250, got %d", w.Balance)
	}
}

// ============================================================================
// Refund
// ============================================================================

func TestRefundFloorsAtZero(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	if _, err := svc.Grant(context.Background(), userID, 500, "order_7", wallet.GrantMeta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Spend(context.Background(), userID, 400, "job_1", "content generation"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	applied, err := svc.RefundOrder(context.Background(), userID, "order_7", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected refund to apply")
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if w.Balance != 0 {
		t.Fatalf("expected floored balance 0, got %d", w.Balance)
	}

	// The ledger still records the full refunded amount.
	repo.mu.Lock()
	recorded := repo.txns[txnKey{"refund_order_7", wallet.TransactionTypeRefund}]
	repo.mu.Unlock()
	if recorded != -500 {
		t.Fatalf("expected refund row of -500, got %d", recorded)
	}
}

func TestRefundReplaySkipped(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	if _, err := svc.Grant(context.Background(), userID, 200, "order_8", wallet.GrantMeta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if applied, _ := svc.RefundOrder(context.Background(), userID, "order_8", 0); !applied {
		t.Fatal("expected first refund to apply")
	}
	if applied, _ := svc.RefundOrder(context.Background(), userID, "order_8", 0); applied {
		t.Fatal("expected replayed refund to be skipped")
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if w.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", w.Balance)
	}
}

func TestRefundWithoutPurchaseSkipped(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)

	applied, err := svc.RefundOrder(context.Background(), uuid.New(), "order_unknown", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected refund without a purchase to be skipped")
	}
}

// ============================================================================
// Spend
// ============================================================================

func TestSpendInsufficientFunds(t *testing.T) {
	repo := newFakeRepo()
	svc := wallet.NewService(repo, nil, nil)
	userID := uuid.New()

	if _, err := svc.Grant(context.Background(), userID, 50, "order_9", wallet.GrantMeta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := svc.Spend(context.Background(), userID, 100, "job_2", "content generation")
	if err != wallet.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}
