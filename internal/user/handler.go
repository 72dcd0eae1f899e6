package user

import (
	"context"
	"net/http"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Create(ctx context.Context, dto CreateUserDTO) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var dto CreateUserDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	created, err := h.Service.Create(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := appErrors.IdentityFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, r, appErrors.ErrInvalidToken.WithMessage("missing bearer token"))
		return
	}

	u, err := h.Service.GetByID(r.Context(), id.UserID)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, u)
}

// SetActive flips the active flag; deactivation also ends every session.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var dto SetActiveDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	if err := h.Service.SetActive(r.Context(), chi.URLParam(r, "id"), dto.Active); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
