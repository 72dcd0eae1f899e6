package role

import (
	"context"
	"net/http"

	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Create(ctx context.Context, dto CreateRoleDTO) (*Role, error)
	Get(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, id string, dto UpdateRoleDTO) (*Role, error)
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID string) error
	Unassign(ctx context.Context, userID, roleID string) error
}

type RolesResponse struct {
	Roles []*Role `json:"roles"`
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

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Service.List(r.Context())
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var dto CreateRoleDTO
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

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	found, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, found)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var dto UpdateRoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	updated, err := h.Service.Update(r.Context(), chi.URLParam(r, "id"), dto)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Assign(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id")); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Unassign(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id")); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
