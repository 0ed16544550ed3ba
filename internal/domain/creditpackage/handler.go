package creditpackage

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agencyos/billing-api/internal/pkg/response"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListActive(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, list)
}
