package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service writes user-facing notifications. Billing flows call the Notify*
// helpers after the ledger write commits; failures here are logged and
// swallowed so a broken notifications table never loses a payment.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Service) NotifyCreditsGranted(ctx context.Context, userID uuid.UUID, credits int64) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeCreditsGranted,
		Title:   "Credits added",
		Message: fmt.Sprintf("%d credits have been added to your balance", credits),
	})
}

func (s *Service) NotifyCreditsRefunded(ctx context.Context, userID uuid.UUID, credits int64) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeCreditsRefunded,
		Title:   "Order refunded",
		Message: fmt.Sprintf("%d credits were deducted for a refunded order", credits),
	})
}

func (s *Service) NotifySubscriptionActivated(ctx context.Context, userID uuid.UUID, plan string) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeSubscriptionActivated,
		Title:   "Subscription active",
		Message: fmt.Sprintf("Your %s subscription is now active", plan),
	})
}

func (s *Service) NotifySubscriptionCanceled(ctx context.Context, userID uuid.UUID) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeSubscriptionCanceled,
		Title:   "Subscription canceled",
		Message: "Your subscription will remain active until the end of the billing period",
	})
}

func (s *Service) NotifySubscriptionUncanceled(ctx context.Context, userID uuid.UUID) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeSubscriptionUncanceled,
		Title:   "Subscription resumed",
		Message: "Your subscription cancellation has been reversed",
	})
}

func (s *Service) NotifySubscriptionRevoked(ctx context.Context, userID uuid.UUID) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeSubscriptionRevoked,
		Title:   "Subscription ended",
		Message: "Your subscription has ended and paid features are no longer available",
	})
}

func (s *Service) NotifySubscriptionPastDue(ctx context.Context, userID uuid.UUID) {
	s.notify(ctx, &Notification{
		UserID:  userID,
		Type:    TypeSubscriptionPastDue,
		Title:   "Payment problem",
		Message: "We could not collect your subscription payment, please update your payment method",
	})
}

func (s *Service) notify(ctx context.Context, n *Notification) {
	if err := s.repo.Create(ctx, n); err != nil {
		log.Warn().Err(err).
			Str("user_id", n.UserID.String()).
			Str("type", string(n.Type)).
			Msg("failed to create notification")
	}
}
