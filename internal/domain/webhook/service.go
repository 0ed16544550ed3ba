package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/domain/user"
	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/pkg/metrics"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

// Replay cache entries outlive the provider's retry schedule.
const replayCacheTTL = 24 * time.Hour

// Ledger is the wallet surface webhook processing writes through.
type Ledger interface {
	Grant(ctx context.Context, userID uuid.UUID, credits int64, referenceID string, meta wallet.GrantMeta) (bool, error)
	RefundOrder(ctx context.Context, userID uuid.UUID, orderID string, credits int64) (bool, error)
}

// SubscriptionSync mirrors subscription lifecycle events onto profiles.
type SubscriptionSync interface {
	HandleCreated(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
	HandleActive(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
	HandleUpdated(ctx context.Context, userID uuid.UUID, eventID string, sub *polar.Subscription) error
	HandleCanceled(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
	HandleUncanceled(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
	HandleRevoked(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
	HandlePastDue(ctx context.Context, userID uuid.UUID, sub *polar.Subscription) error
}

// eventHandler processes one decoded event payload and reports an outcome
// label for metrics and logs.
type eventHandler func(ctx context.Context, eventID string, data json.RawMessage) string

// Service turns verified provider events into ledger and profile writes.
// Business failures are absorbed: the provider gets an ack either way,
// because retrying a mis-attributed payment cannot fix it.
type Service struct {
	users  user.Repository
	ledger Ledger
	subs   SubscriptionSync
	redis  *redis.Client
	routes map[string]eventHandler
}

func NewService(users user.Repository, ledger Ledger, subs SubscriptionSync, redisClient *redis.Client) *Service {
	s := &Service{users: users, ledger: ledger, subs: subs, redis: redisClient}
	s.routes = map[string]eventHandler{
		polar.EventOrderPaid:           s.handleOrderPaid,
		polar.EventOrderRefunded:       s.handleOrderRefunded,
		polar.EventBenefitGrantCreated: s.handleBenefitGrant,
	}
	for _, eventType := range []string{
		polar.EventSubscriptionCreated,
		polar.EventSubscriptionActive,
		polar.EventSubscriptionUpdated,
		polar.EventSubscriptionCanceled,
		polar.EventSubscriptionUncanceled,
		polar.EventSubscriptionRevoked,
		polar.EventSubscriptionPastDue,
	} {
		s.routes[eventType] = func(ctx context.Context, eventID string, data json.RawMessage) string {
			return s.handleSubscription(ctx, eventType, eventID, data)
		}
	}
	return s
}

// Seen consults the replay cache. The cache is an optimization in front of
// the ledger's reference uniqueness; with Redis absent every event goes to
// the database path.
func (s *Service) Seen(ctx context.Context, eventID string) bool {
	if s.redis == nil || eventID == "" {
		return false
	}
	ok, err := s.redis.SetNX(ctx, "polar:event:"+eventID, 1, replayCacheTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("replay cache unavailable")
		return false
	}
	return !ok
}

// Dispatch routes one parsed event through the handler table. The returned
// outcome feeds metrics and logs; it is never an error the transport should
// surface.
func (s *Service) Dispatch(ctx context.Context, eventID string, evt *polar.Event) string {
	handle, ok := s.routes[evt.Type]
	if !ok {
		log.Info().Str("event", evt.Type).Msg("ignoring unhandled webhook event")
		return metrics.OutcomeUnknownType
	}
	return handle(ctx, eventID, evt.Data)
}

func (s *Service) handleOrderPaid(ctx context.Context, _ string, data json.RawMessage) string {
	var order polar.Order
	if err := json.Unmarshal(data, &order); err != nil {
		log.Error().Err(err).Msg("order.paid payload did not decode")
		return metrics.OutcomeError
	}

	u := s.resolveUser(ctx, order.Customer, order.Metadata)
	if u == nil {
		log.Warn().
			Str("order_id", order.ID).
			Str("customer_id", order.Customer.ID).
			Str("email", order.Customer.Email).
			Msg("order.paid: could not resolve user, acknowledging anyway")
		return metrics.OutcomeNoUser
	}

	credits := order.Metadata.Int64("credits")
	if credits <= 0 {
		log.Warn().
			Str("order_id", order.ID).
			Str("user_id", u.ID.String()).
			Msg("order.paid: no credit amount in metadata")
		return metrics.OutcomeNoAmount
	}

	applied, err := s.ledger.Grant(ctx, u.ID, credits, order.ID, wallet.GrantMeta{
		Source:     polar.EventOrderPaid,
		DiscountID: order.Metadata.String("discount_id"),
		OrderID:    order.ID,
	})
	if err != nil {
		log.Error().Err(err).
			Str("order_id", order.ID).
			Str("user_id", u.ID.String()).
			Msg("order.paid: grant failed")
		return metrics.OutcomeError
	}
	if !applied {
		return metrics.OutcomeSkipped
	}
	return metrics.OutcomeProcessed
}

func (s *Service) handleOrderRefunded(ctx context.Context, _ string, data json.RawMessage) string {
	var order polar.Order
	if err := json.Unmarshal(data, &order); err != nil {
		log.Error().Err(err).Msg("order.refunded payload did not decode")
		return metrics.OutcomeError
	}

	u := s.resolveUser(ctx, order.Customer, order.Metadata)
	if u == nil {
		log.Warn().
			Str("order_id", order.ID).
			Msg("order.refunded: could not resolve user, acknowledging anyway")
		return metrics.OutcomeNoUser
	}

	applied, err := s.ledger.RefundOrder(ctx, u.ID, order.ID, order.Metadata.Int64("credits"))
	if err != nil {
		log.Error().Err(err).
			Str("order_id", order.ID).
			Str("user_id", u.ID.String()).
			Msg("order.refunded: refund failed")
		return metrics.OutcomeError
	}
	if !applied {
		return metrics.OutcomeSkipped
	}
	return metrics.OutcomeProcessed
}

func (s *Service) handleBenefitGrant(ctx context.Context, _ string, data json.RawMessage) string {
	var grant polar.BenefitGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		log.Error().Err(err).Msg("benefit_grant.created payload did not decode")
		return metrics.OutcomeError
	}

	u := s.resolveUser(ctx, grant.Customer, grant.Metadata)
	if u == nil {
		log.Warn().Str("grant_id", grant.ID).Msg("benefit_grant.created: could not resolve user")
		return metrics.OutcomeNoUser
	}

	credits := grant.Metadata.Int64("credits")
	if credits <= 0 {
		return metrics.OutcomeNoAmount
	}

	applied, err := s.ledger.Grant(ctx, u.ID, credits, "benefit_"+grant.ID, wallet.GrantMeta{
		Source: polar.EventBenefitGrantCreated,
	})
	if err != nil {
		log.Error().Err(err).Str("grant_id", grant.ID).Msg("benefit_grant.created: grant failed")
		return metrics.OutcomeError
	}
	if !applied {
		return metrics.OutcomeSkipped
	}
	return metrics.OutcomeProcessed
}

func (s *Service) handleSubscription(ctx context.Context, eventType, eventID string, data json.RawMessage) string {
	var sub polar.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("subscription payload did not decode")
		return metrics.OutcomeError
	}

	u := s.resolveUser(ctx, sub.Customer, sub.Metadata)
	if u == nil {
		log.Warn().
			Str("event", eventType).
			Str("subscription_id", sub.ID).
			Msg("subscription event: could not resolve user, acknowledging anyway")
		return metrics.OutcomeNoUser
	}

	var err error
	switch eventType {
	case polar.EventSubscriptionCreated:
		err = s.subs.HandleCreated(ctx, u.ID, &sub)
	case polar.EventSubscriptionActive:
		err = s.subs.HandleActive(ctx, u.ID, &sub)
	case polar.EventSubscriptionUpdated:
		err = s.subs.HandleUpdated(ctx, u.ID, eventID, &sub)
	case polar.EventSubscriptionCanceled:
		err = s.subs.HandleCanceled(ctx, u.ID, &sub)
	case polar.EventSubscriptionUncanceled:
		err = s.subs.HandleUncanceled(ctx, u.ID, &sub)
	case polar.EventSubscriptionRevoked:
		err = s.subs.HandleRevoked(ctx, u.ID, &sub)
	case polar.EventSubscriptionPastDue:
		err = s.subs.HandlePastDue(ctx, u.ID, &sub)
	}
	if err != nil {
		log.Error().Err(err).
			Str("event", eventType).
			Str("subscription_id", sub.ID).
			Str("user_id", u.ID.String()).
			Msg("subscription event failed")
		return metrics.OutcomeError
	}
	return metrics.OutcomeProcessed
}

// resolveUser tries the attribution channels in order of trust: our own
// user id from checkout metadata, the external id we set on the customer,
// the stored provider customer id, then the customer email.
func (s *Service) resolveUser(ctx context.Context, customer polar.Customer, md polar.Metadata) *user.User {
	if raw := md.String("user_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			if u := s.lookup(ctx, func(ctx context.Context) (*user.User, error) {
				return s.users.GetByID(ctx, id)
			}); u != nil {
				s.backfillCustomerID(ctx, u, customer.ID)
				return u
			}
		}
	}

	if raw := customer.ExternalID; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			if u := s.lookup(ctx, func(ctx context.Context) (*user.User, error) {
				return s.users.GetByID(ctx, id)
			}); u != nil {
				s.backfillCustomerID(ctx, u, customer.ID)
				return u
			}
		}
	}

	if customer.ID != "" {
		if u := s.lookup(ctx, func(ctx context.Context) (*user.User, error) {
			return s.users.GetByPolarCustomerID(ctx, customer.ID)
		}); u != nil {
			return u
		}
	}

	if customer.Email != "" {
		if u := s.lookup(ctx, func(ctx context.Context) (*user.User, error) {
			return s.users.GetByEmail(ctx, customer.Email)
		}); u != nil {
			s.backfillCustomerID(ctx, u, customer.ID)
			return u
		}
	}

	return nil
}

func (s *Service) lookup(ctx context.Context, fn func(context.Context) (*user.User, error)) *user.User {
	u, err := fn(ctx)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			log.Error().Err(err).Msg("user lookup failed")
		}
		return nil
	}
	return u
}

func (s *Service) backfillCustomerID(ctx context.Context, u *user.User, customerID string) {
	if customerID == "" || u.PolarCustomerID != "" {
		return
	}
	if err := s.users.SetPolarCustomerID(ctx, u.ID, customerID); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to backfill provider customer id")
	}
}
