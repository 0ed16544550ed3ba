package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/domain/rank"
	"github.com/agencyos/billing-api/internal/pkg/metrics"
)

// Grants arriving within this window of a plan downgrade are refused.
// Catches the cancel-rebuy loop where a user downgrades and immediately
// re-triggers a grant-bearing event to double-collect credits.
const downgradeWindow = 10 * time.Minute

// DiscountRetention marks a grant that consumed the one-time retention offer.
const DiscountRetention = "retention"

// RankAwarder bumps purchase XP. Implemented by the rank repository.
type RankAwarder interface {
	AddXP(ctx context.Context, userID uuid.UUID, xp int64) error
}

// Notifier emits best-effort user notifications for ledger events.
type Notifier interface {
	NotifyCreditsGranted(ctx context.Context, userID uuid.UUID, credits int64)
	NotifyCreditsRefunded(ctx context.Context, userID uuid.UUID, credits int64)
}

// Service is the only writer of credit balances. Every mutation goes
// through the ledger so a replayed provider event can never double-apply.
type Service struct {
	repo     Repository
	ranks    RankAwarder
	notifier Notifier
}

func NewService(repo Repository, ranks RankAwarder, notifier Notifier) *Service {
	return &Service{repo: repo, ranks: ranks, notifier: notifier}
}

// Grant credits the user for an external payment reference. Returns true
// when the balance changed; false means the grant was a replay or was
// blocked, both of which the caller acknowledges without retrying.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, credits int64, referenceID string, meta GrantMeta) (bool, error) {
	if credits <= 0 {
		return false, ErrInvalidAmount
	}
	if referenceID == "" {
		return false, ErrMissingReference
	}

	blocked, err := s.repo.HasRecentDowngrade(ctx, userID, downgradeWindow)
	if err != nil {
		return false, err
	}
	if blocked {
		metrics.GrantsBlocked.Inc()
		log.Warn().
			Str("user_id", userID.String()).
			Str("reference_id", referenceID).
			Int64("credits", credits).
			Msg("credit grant blocked: recent plan downgrade")
		return false, nil
	}

	md := map[string]string{}
	if meta.Source != "" {
		md["source"] = meta.Source
	}
	if meta.DiscountID != "" {
		md["discount_id"] = meta.DiscountID
	}
	if meta.OrderID != "" {
		md["order_id"] = meta.OrderID
	}

	applied, err := s.repo.Grant(ctx, GrantParams{
		UserID:        userID,
		Credits:       credits,
		ReferenceID:   referenceID,
		Description:   "credit purchase",
		Metadata:      md,
		RetentionUsed: meta.DiscountID == DiscountRetention,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		log.Info().
			Str("user_id", userID.String()).
			Str("reference_id", referenceID).
			Msg("credit grant skipped: reference already processed")
		return false, nil
	}

	metrics.CreditsGranted.Add(float64(credits))

	if s.ranks != nil {
		if xp := rank.XPForCredits(credits); xp > 0 {
			if err := s.ranks.AddXP(ctx, userID, xp); err != nil {
				log.Warn().Err(err).
					Str("user_id", userID.String()).
					Int64("xp", xp).
					Msg("failed to award purchase xp")
			}
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyCreditsGranted(ctx, userID, credits)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("reference_id", referenceID).
		Int64("credits", credits).
		Msg("credits granted")
	return true, nil
}

// RefundOrder reverses a purchase. When credits is zero the amount is read
// from the original purchase row; a refund for an order that was never
// credited is skipped, not failed.
func (s *Service) RefundOrder(ctx context.Context, userID uuid.UUID, orderID string, credits int64) (bool, error) {
	if orderID == "" {
		return false, ErrMissingReference
	}

	if credits <= 0 {
		amount, err := s.repo.PurchaseAmount(ctx, orderID)
		if errors.Is(err, ErrTransactionNotFound) {
			log.Warn().
				Str("user_id", userID.String()).
				Str("order_id", orderID).
				Msg("refund skipped: no purchase on record")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		credits = amount
	}
	if credits <= 0 {
		return false, nil
	}

	applied, err := s.repo.Refund(ctx, RefundParams{
		UserID:      userID,
		Credits:     credits,
		ReferenceID: "refund_" + orderID,
		Description: "order refunded",
		Metadata:    map[string]string{"order_id": orderID},
	})
	if err != nil {
		return false, err
	}
	if !applied {
		log.Info().
			Str("user_id", userID.String()).
			Str("order_id", orderID).
			Msg("refund skipped: already processed")
		return false, nil
	}

	metrics.CreditsRefunded.Add(float64(credits))

	if s.notifier != nil {
		s.notifier.NotifyCreditsRefunded(ctx, userID, credits)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("order_id", orderID).
		Int64("credits", credits).
		Msg("credits refunded")
	return true, nil
}

// Spend deducts credits for an in-product action.
func (s *Service) Spend(ctx context.Context, userID uuid.UUID, credits int64, referenceID, description string) error {
	if credits <= 0 {
		return ErrInvalidAmount
	}
	return s.repo.Spend(ctx, SpendParams{
		UserID:      userID,
		Credits:     credits,
		ReferenceID: referenceID,
		Description: description,
	})
}

// RecordPlanChange appends a plan transition marker to the ledger.
func (s *Service) RecordPlanChange(ctx context.Context, p PlanChangeParams) error {
	if err := s.repo.RecordPlanChange(ctx, p); err != nil {
		return err
	}
	if p.Direction == DirectionDowngrade {
		log.Info().
			Str("user_id", p.UserID.String()).
			Str("from_plan", p.FromPlan).
			Str("to_plan", p.ToPlan).
			Msg("plan downgrade recorded, grants gated")
	}
	return nil
}

// GetWallet returns the wallet, or an empty view for users who have never
// transacted.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := s.repo.GetWallet(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}
