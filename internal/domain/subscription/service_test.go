package subscription_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/agencyos/billing-api/internal/domain/subscription"
	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

type fakeRepo struct {
	states map[uuid.UUID]*subscription.State
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{states: make(map[uuid.UUID]*subscription.State)}
}

func (f *fakeRepo) GetState(_ context.Context, userID uuid.UUID) (*subscription.State, error) {
	s, ok := f.states[userID]
	if !ok {
		return nil, subscription.ErrStateNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) SaveState(_ context.Context, s *subscription.State) error {
	cp := *s
	f.states[s.UserID] = &cp
	return nil
}

type fakeLedger struct {
	grants      map[string]int64
	planChanges []wallet.PlanChangeParams
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{grants: make(map[string]int64)}
}

func (f *fakeLedger) Grant(_ context.Context, _ uuid.UUID, credits int64, referenceID string, _ wallet.GrantMeta) (bool, error) {
	if _, seen := f.grants[referenceID]; seen {
		return false, nil
	}
	f.grants[referenceID] = credits
	return true, nil
}

func (f *fakeLedger) RecordPlanChange(_ context.Context, p wallet.PlanChangeParams) error {
	f.planChanges = append(f.planChanges, p)
	return nil
}

func sub(id, product, status string) *polar.Subscription {
	return &polar.Subscription{
		ID:      id,
		Status:  status,
		Product: polar.Product{ID: "prod_1", Name: product},
	}
}

func TestDerivePlan(t *testing.T) {
	cases := []struct {
		product string
		want    subscription.Plan
	}{
		{"Agency Business Monthly", subscription.PlanBusiness},
		{"Pro Plan", subscription.PlanPro},
		{"starter", subscription.PlanStarter},
		{"PRO (annual)", subscription.PlanPro},
		{"Something Else", subscription.PlanUnknown},
		{"", subscription.PlanUnknown},
	}

	for _, tc := range cases {
		if got := subscription.DerivePlan(tc.product); got != tc.want {
			t.Errorf("DerivePlan(%q) = %s, want %s", tc.product, got, tc.want)
		}
	}
}

func TestHandleActiveGrantsAllotmentOnce(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	s := sub("sub_1", "Pro Plan", "active")
	if err := svc.HandleActive(context.Background(), userID, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleActive(context.Background(), userID, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := ledger.grants["sub_initial_sub_1"]; got != 500 {
		t.Fatalf("expected a single 500 credit allotment, got %d", got)
	}
	if len(ledger.grants) != 1 {
		t.Fatalf("expected one grant reference, got %d", len(ledger.grants))
	}

	state, err := repo.GetState(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != subscription.StatusActive || state.Plan != subscription.PlanPro {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestHandleCreatedGrantsAllotmentOnce(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	s := sub("sub_2", "Pro Plan", "active")
	if err := svc.HandleCreated(context.Background(), userID, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleActive(context.Background(), userID, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := ledger.grants["sub_initial_sub_2"]; got != 500 {
		t.Fatalf("expected created to grant the 500 credit allotment, got %d", got)
	}
	if len(ledger.grants) != 1 {
		t.Fatalf("expected one grant reference across created and active, got %d", len(ledger.grants))
	}

	state, err := repo.GetState(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != subscription.StatusActive {
		t.Fatalf("expected active status after created, got %s", state.Status)
	}
}

func TestHandleActiveUnknownPlanGrantsNothing(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)

	if err := svc.HandleActive(context.Background(), uuid.New(), sub("sub_2", "Mystery Product", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.grants) != 0 {
		t.Fatalf("expected no grant for an unknown plan, got %v", ledger.grants)
	}
}

func TestHandleUpdatedRecordsDowngrade(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	if err := svc.HandleActive(context.Background(), userID, sub("sub_3", "Business", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleUpdated(context.Background(), userID, "evt_1", sub("sub_3", "Starter", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.planChanges) != 1 {
		t.Fatalf("expected one plan change, got %d", len(ledger.planChanges))
	}
	pc := ledger.planChanges[0]
	if pc.Direction != wallet.DirectionDowngrade {
		t.Fatalf("expected downgrade, got %s", pc.Direction)
	}
	if pc.FromPlan != "business" || pc.ToPlan != "starter" {
		t.Fatalf("unexpected transition %s -> %s", pc.FromPlan, pc.ToPlan)
	}
	if pc.ReferenceID != "plan_evt_1" {
		t.Fatalf("expected event-keyed reference, got %s", pc.ReferenceID)
	}
}

func TestHandleUpdatedRecordsUpgrade(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	if err := svc.HandleActive(context.Background(), userID, sub("sub_4", "Starter", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleUpdated(context.Background(), userID, "evt_2", sub("sub_4", "Business", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.planChanges) != 1 || ledger.planChanges[0].Direction != wallet.DirectionUpgrade {
		t.Fatalf("expected a single upgrade marker, got %+v", ledger.planChanges)
	}
}

func TestHandleUpdatedSamePlanNoMarker(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	if err := svc.HandleActive(context.Background(), userID, sub("sub_5", "Pro", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleUpdated(context.Background(), userID, "evt_3", sub("sub_5", "Pro Plan", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.planChanges) != 0 {
		t.Fatalf("expected no plan change for same tier, got %+v", ledger.planChanges)
	}
}

func TestLifecycleStatusTransitions(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()
	s := sub("sub_6", "Pro", "active")

	steps := []struct {
		apply      func() error
		wantStatus subscription.Status
		wantPlan   subscription.Plan
		wantSubID  string
	}{
		{func() error { return svc.HandleCreated(context.Background(), userID, sub("sub_6", "Pro", "incomplete")) }, subscription.StatusActive, subscription.PlanPro, "sub_6"},
		{func() error { return svc.HandleActive(context.Background(), userID, s) }, subscription.StatusActive, subscription.PlanPro, "sub_6"},
		{func() error { return svc.HandleCanceled(context.Background(), userID, s) }, subscription.StatusCancelled, subscription.PlanNone, ""},
		{func() error { return svc.HandleUncanceled(context.Background(), userID, s) }, subscription.StatusActive, subscription.PlanPro, "sub_6"},
		{func() error { return svc.HandlePastDue(context.Background(), userID, s) }, subscription.StatusPastDue, subscription.PlanPro, "sub_6"},
		{func() error { return svc.HandleRevoked(context.Background(), userID, s) }, subscription.StatusExpired, subscription.PlanNone, ""},
	}

	for i, step := range steps {
		if err := step.apply(); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		state, err := repo.GetState(context.Background(), userID)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if state.Status != step.wantStatus {
			t.Fatalf("step %d: expected status %s, got %s", i, step.wantStatus, state.Status)
		}
		if state.Plan != step.wantPlan {
			t.Fatalf("step %d: expected plan %s, got %s", i, step.wantPlan, state.Plan)
		}
		if state.SubscriptionID != step.wantSubID {
			t.Fatalf("step %d: expected subscription id %q, got %q", i, step.wantSubID, state.SubscriptionID)
		}
	}
}

func TestHandleUpdatedCancelledStatusClearsPlan(t *testing.T) {
	repo := newFakeRepo()
	ledger := newFakeLedger()
	svc := subscription.NewService(repo, ledger, nil)
	userID := uuid.New()

	if err := svc.HandleActive(context.Background(), userID, sub("sub_9", "Pro", "active")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.HandleUpdated(context.Background(), userID, "evt_9", sub("sub_9", "Pro", "canceled")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := repo.GetState(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != subscription.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", state.Status)
	}
	if state.Plan != subscription.PlanNone || state.SubscriptionID != "" || state.Cycle != "" {
		t.Fatalf("expected plan, id, and cycle cleared, got %+v", state)
	}
	if len(ledger.planChanges) != 0 {
		t.Fatalf("expected no plan change marker for same tier, got %+v", ledger.planChanges)
	}
}

func TestPlanOfMetadataPrecedence(t *testing.T) {
	s := sub("sub_7", "Legacy Bundle", "active")
	s.Metadata = polar.Metadata{"plan": "Business"}
	if got := subscription.PlanOf(s); got != subscription.PlanBusiness {
		t.Fatalf("expected metadata plan to win, got %s", got)
	}

	s.Metadata = polar.Metadata{"plan": "enterprise"}
	if got := subscription.PlanOf(s); got != subscription.PlanUnknown {
		t.Fatalf("expected unrecognized metadata plan to fall back to product name, got %s", got)
	}
}

func TestCycleOf(t *testing.T) {
	s := sub("sub_8", "Pro", "active")
	if got := subscription.CycleOf(s); got != subscription.CycleMonthly {
		t.Fatalf("expected monthly default, got %s", got)
	}
	s.RecurringInterval = "year"
	if got := subscription.CycleOf(s); got != subscription.CycleYearly {
		t.Fatalf("expected yearly, got %s", got)
	}
}

func TestHandleEventMissingSubscriptionID(t *testing.T) {
	svc := subscription.NewService(newFakeRepo(), newFakeLedger(), nil)

	if err := svc.HandleActive(context.Background(), uuid.New(), sub("", "Pro", "active")); err != subscription.ErrMissingSubject {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}
