package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/config"
	"github.com/agencyos/billing-api/internal/pkg/metrics"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

const maxBodyBytes = 1 << 20

// Handler is the webhook ingress. Responses follow the provider contract:
// 200 acknowledges and stops retries, 401 rejects an unverified delivery,
// 500 asks the provider to retry an unreadable one. Business failures
// behind a readable event are always acknowledged.
type Handler struct {
	service *Service
	secret  string
	policy  config.SignaturePolicy
}

func NewHandler(service *Service, secret string, policy config.SignaturePolicy) *Handler {
	return &Handler{service: service, secret: secret, policy: policy}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/polar", h.Handle)
	return r
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error().Err(err).Msg("failed to read webhook body")
		h.fail(w, http.StatusInternalServerError, "failed to read body")
		return
	}

	hdr := polar.SignatureHeaders{
		ID:        r.Header.Get("webhook-id"),
		Timestamp: r.Header.Get("webhook-timestamp"),
		Signature: r.Header.Get("webhook-signature"),
	}

	verified := false
	if h.secret == "" {
		// Degraded-security mode for environments without a shared secret.
		log.Warn().Msg("no webhook secret configured, accepting delivery unverified")
		verified = true
	} else {
		var err error
		verified, err = polar.VerifySignature(h.secret, hdr, body)
		if err != nil {
			log.Error().Err(err).Msg("webhook signature verification failed")
			verified = false
		}
	}
	if !verified {
		if h.policy == config.PolicyStrict {
			metrics.WebhookEvents.WithLabelValues("unknown", metrics.OutcomeUnverified).Inc()
			log.Warn().Str("event_id", hdr.ID).Msg("rejecting unverified webhook delivery")
			h.fail(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		log.Warn().Str("event_id", hdr.ID).Msg("processing unverified webhook delivery (permissive mode)")
	}

	evt, err := polar.ParseEvent(body)
	if err != nil {
		// Unreadable payloads are the one case the provider should retry.
		log.Error().Err(err).Str("event_id", hdr.ID).Msg("webhook body did not parse")
		h.fail(w, http.StatusInternalServerError, "unreadable payload")
		return
	}

	if h.service.Seen(r.Context(), hdr.ID) {
		metrics.WebhookEvents.WithLabelValues(evt.Type, metrics.OutcomeAlreadySeen).Inc()
		log.Info().Str("event_id", hdr.ID).Str("event", evt.Type).Msg("webhook delivery already seen")
		h.ack(w, evt.Type)
		return
	}

	outcome := h.service.Dispatch(r.Context(), hdr.ID, evt)
	metrics.WebhookEvents.WithLabelValues(evt.Type, outcome).Inc()

	h.ack(w, evt.Type)
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) ack(w http.ResponseWriter, eventType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"received": true,
		"event":    eventType,
	})
}
