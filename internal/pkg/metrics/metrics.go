package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook event outcomes
const (
	OutcomeProcessed   = "processed"
	OutcomeSkipped     = "skipped"
	OutcomeUnknownType = "unknown_type"
	OutcomeUnverified  = "unverified"
	OutcomeError       = "error"
	OutcomeNoUser      = "no_user"
	OutcomeNoAmount    = "no_amount"
	OutcomeAlreadySeen = "already_seen"
)

var (
	// WebhookEvents counts inbound webhook deliveries by event type and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Inbound payment webhook deliveries by event type and outcome",
	}, []string{"event", "outcome"})

	// CreditsGranted counts credits applied to wallets.
	CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_credits_granted_total",
		Help: "Total credits granted to user wallets",
	})

	// CreditsRefunded counts credits deducted by refunds.
	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_credits_refunded_total",
		Help: "Total credits deducted from user wallets by refunds",
	})

	// GrantsBlocked counts grants refused by the downgrade abuse guard.
	GrantsBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_grants_blocked_total",
		Help: "Credit grants blocked by the downgrade abuse guard",
	})

	// CheckoutsCreated counts checkout sessions handed to the provider.
	CheckoutsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_checkouts_created_total",
		Help: "Checkout sessions created with the payment provider",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
