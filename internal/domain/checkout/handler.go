package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agencyos/billing-api/internal/middleware"
	"github.com/agencyos/billing-api/internal/pkg/response"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/quote", h.Quote)
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "authentication required")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, validationDetails(err))
		return
	}

	session, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Created(w, session)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "authentication required")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationError(w, validationDetails(err))
		return
	}

	quote, err := h.service.Quote(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, quote)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredits):
		response.BadRequest(w, "credit amount out of range")
	case errors.Is(err, ErrPackageNotFound):
		response.NotFound(w, "credit package not found")
	case errors.Is(err, ErrRetentionAlreadyUsed):
		response.Conflict(w, "retention discount already used")
	case errors.Is(err, ErrProviderUnavailable):
		response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "payment provider unavailable")
	default:
		response.InternalError(w)
	}
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}
