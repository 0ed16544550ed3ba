package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agencyos/billing-api/internal/pkg/polar"
)

type Plan string

const (
	PlanBusiness Plan = "business"
	PlanPro      Plan = "pro"
	PlanStarter  Plan = "starter"
	PlanUnknown  Plan = "unknown"
	PlanNone     Plan = "none"
)

// Status is the profile subscription status vocabulary the main API reads.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPastDue   Status = "past_due"
)

// statusOf maps a provider-reported subscription status onto the profile
// vocabulary. Providers report canceled/revoked; profiles store
// cancelled/expired.
func statusOf(provider string) Status {
	switch provider {
	case "canceled", "cancelled":
		return StatusCancelled
	case "revoked", "expired":
		return StatusExpired
	case "past_due":
		return StatusPastDue
	default:
		return StatusActive
	}
}

type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

// State is the subscription slice of the user profile this service keeps in
// sync with the provider.
type State struct {
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	SubscriptionID string    `db:"subscription_id" json:"subscription_id"`
	Status         Status    `db:"subscription_status" json:"subscription_status"`
	Plan           Plan      `db:"subscription_plan" json:"subscription_plan"`
	Cycle          Cycle     `db:"subscription_cycle" json:"subscription_cycle"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Monthly credit allotment granted when a subscription first activates.
var planAllotments = map[Plan]int64{
	PlanStarter:  100,
	PlanPro:      500,
	PlanBusiness: 2000,
}

// AllotmentFor returns the activation credit grant for a plan, zero for
// plans we cannot price.
func AllotmentFor(plan Plan) int64 {
	return planAllotments[plan]
}

// Ordering used to classify plan transitions. Unknown ranks below every
// named plan so a mis-derived product never reads as an upgrade.
var planRanks = map[Plan]int{
	PlanBusiness: 3,
	PlanPro:      2,
	PlanStarter:  1,
}

func rankOf(plan Plan) int {
	return planRanks[plan]
}

// DerivePlan maps a provider product name onto a plan tier by substring
// match. Product names are provider-managed display strings, so the match
// is deliberately loose.
func DerivePlan(productName string) Plan {
	name := strings.ToLower(productName)
	switch {
	case strings.Contains(name, "business"):
		return PlanBusiness
	case strings.Contains(name, "pro"):
		return PlanPro
	case strings.Contains(name, "starter"):
		return PlanStarter
	default:
		return PlanUnknown
	}
}

// PlanOf resolves the plan tier for a subscription event. An explicit plan
// in event metadata takes precedence over product name derivation.
func PlanOf(sub *polar.Subscription) Plan {
	switch Plan(strings.ToLower(sub.Metadata.String("plan"))) {
	case PlanBusiness:
		return PlanBusiness
	case PlanPro:
		return PlanPro
	case PlanStarter:
		return PlanStarter
	}
	return DerivePlan(sub.Product.Name)
}

// CycleOf maps the provider recurring interval to a billing cycle,
// defaulting to monthly.
func CycleOf(sub *polar.Subscription) Cycle {
	if sub.RecurringInterval == "year" {
		return CycleYearly
	}
	return CycleMonthly
}
