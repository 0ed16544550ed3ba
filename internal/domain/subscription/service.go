package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

// Ledger is the slice of the wallet service subscription sync writes
// through: activation grants and plan change markers.
type Ledger interface {
	Grant(ctx context.Context, userID uuid.UUID, credits int64, referenceID string, meta wallet.GrantMeta) (bool, error)
	RecordPlanChange(ctx context.Context, p wallet.PlanChangeParams) error
}

// Notifier emits best-effort subscription lifecycle notifications.
type Notifier interface {
	NotifySubscriptionActivated(ctx context.Context, userID uuid.UUID, plan string)
	NotifySubscriptionCanceled(ctx context.Context, userID uuid.UUID)
	NotifySubscriptionUncanceled(ctx context.Context, userID uuid.UUID)
	NotifySubscriptionRevoked(ctx context.Context, userID uuid.UUID)
	NotifySubscriptionPastDue(ctx context.Context, userID uuid.UUID)
}

// Service mirrors provider subscription lifecycle events onto user
// profiles. Provider state always wins; local state is a cache of it.
type Service struct {
	repo     Repository
	ledger   Ledger
	notifier Notifier
}

func NewService(repo Repository, ledger Ledger, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: ledger, notifier: notifier}
}

// HandleCreated and HandleActive both resolve to an active profile plus the
// plan's initial allotment. The provider may deliver either event first, or
// only one of them; the sub_initial grant reference keeps the allotment
// single-shot across both.
func (s *Service) HandleCreated(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	return s.activate(ctx, userID, sub)
}

func (s *Service) HandleActive(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	return s.activate(ctx, userID, sub)
}

func (s *Service) activate(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	if sub.ID == "" {
		return ErrMissingSubject
	}

	plan := PlanOf(sub)
	if plan == PlanUnknown {
		log.Warn().
			Str("user_id", userID.String()).
			Str("product", sub.Product.Name).
			Msg("subscription product does not map to a known plan")
	}

	if err := s.repo.SaveState(ctx, &State{
		UserID:         userID,
		SubscriptionID: sub.ID,
		Status:         StatusActive,
		Plan:           plan,
		Cycle:          CycleOf(sub),
	}); err != nil {
		return err
	}

	if credits := AllotmentFor(plan); credits > 0 {
		_, err := s.ledger.Grant(ctx, userID, credits, "sub_initial_"+sub.ID, wallet.GrantMeta{
			Source: "subscription.active",
		})
		if err != nil {
			return err
		}
	}

	if s.notifier != nil {
		s.notifier.NotifySubscriptionActivated(ctx, userID, string(plan))
	}
	return nil
}

// HandleUpdated mirrors the provider status and, when the tier moved,
// writes a plan change marker keyed by the webhook event id. Downgrade
// markers arm the grant abuse guard. An update carrying a cancelled or
// revoked status clears the plan fields the same way the dedicated events
// do.
func (s *Service) HandleUpdated(ctx context.Context, userID uuid.UUID, eventID string, sub *polar.Subscription) error {
	if sub.ID == "" {
		return ErrMissingSubject
	}

	prior, err := s.repo.GetState(ctx, userID)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}

	newPlan := PlanOf(sub)
	status := statusOf(sub.Status)

	state := &State{
		UserID:         userID,
		SubscriptionID: sub.ID,
		Status:         status,
		Plan:           newPlan,
		Cycle:          CycleOf(sub),
	}
	if status == StatusCancelled || status == StatusExpired {
		state.SubscriptionID = ""
		state.Plan = PlanNone
		state.Cycle = ""
	}

	if err := s.repo.SaveState(ctx, state); err != nil {
		return err
	}

	if prior == nil || prior.Plan == newPlan {
		return nil
	}

	direction := wallet.DirectionUpgrade
	if rankOf(newPlan) < rankOf(prior.Plan) {
		direction = wallet.DirectionDowngrade
	}

	ref := "plan_" + sub.ID
	if eventID != "" {
		ref = "plan_" + eventID
	}

	return s.ledger.RecordPlanChange(ctx, wallet.PlanChangeParams{
		UserID:      userID,
		ReferenceID: ref,
		FromPlan:    string(prior.Plan),
		ToPlan:      string(newPlan),
		Direction:   direction,
	})
}

// HandleCanceled records the cancellation and clears the plan fields.
// Access until period end is the provider's concern, not this profile's.
func (s *Service) HandleCanceled(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	if err := s.saveStatus(ctx, userID, sub, StatusCancelled, true); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifySubscriptionCanceled(ctx, userID)
	}
	return nil
}

// HandleUncanceled restores the active plan from the event payload.
func (s *Service) HandleUncanceled(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	if err := s.saveStatus(ctx, userID, sub, StatusActive, false); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifySubscriptionUncanceled(ctx, userID)
	}
	return nil
}

// HandleRevoked ends the subscription. The profile reads expired with
// plan, id, and cycle cleared.
func (s *Service) HandleRevoked(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	if err := s.saveStatus(ctx, userID, sub, StatusExpired, true); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifySubscriptionRevoked(ctx, userID)
	}
	return nil
}

func (s *Service) HandlePastDue(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error {
	if err := s.saveStatus(ctx, userID, sub, StatusPastDue, false); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifySubscriptionPastDue(ctx, userID)
	}
	return nil
}

func (s *Service) GetState(ctx context.Context, userID uuid.UUID) (*State, error) {
	return s.repo.GetState(ctx, userID)
}

func (s *Service) saveStatus(ctx context.Context, userID uuid.UUID, sub *polar.Subscription, status Status, clear bool) error {
	if sub.ID == "" {
		return ErrMissingSubject
	}
	state := &State{
		UserID:         userID,
		SubscriptionID: sub.ID,
		Status:         status,
		Plan:           PlanOf(sub),
		Cycle:          CycleOf(sub),
	}
	if clear {
		state.SubscriptionID = ""
		state.Plan = PlanNone
		state.Cycle = ""
	}
	return s.repo.SaveState(ctx, state)
}
