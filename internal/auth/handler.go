package auth

import (
	"net/http"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/authz"
	"github.com/frahmantamala/capgate/internal/token"
	"github.com/frahmantamala/capgate/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Tokens     TokenServiceAPI
	Authorizer AuthorizerAPI
}

func NewHandler(base *transport.BaseHandler, tokens TokenServiceAPI, authorizer AuthorizerAPI) *Handler {
	return &Handler{
		BaseHandler: base,
		Tokens:      tokens,
		Authorizer:  authorizer,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	pair, err := h.Tokens.Authenticate(r.Context(), dto.Username, dto.Password)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), dto.RefreshToken)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, pair)
}

// Logout retires the refresh token in the body, if any. The access token
// that authenticated the call stays valid until it expires.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var dto LogoutDTO
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.WriteAppError(w, r, err)
			return
		}
	}

	if dto.RefreshToken != "" {
		if err := h.Tokens.RevokeToken(r.Context(), dto.RefreshToken, token.ReasonLogout); err != nil {
			h.WriteAppError(w, r, err)
			return
		}
	}
	if err := h.Tokens.RevokeToken(r.Context(), h.ExtractTokenFromHeader(r), token.ReasonLogout); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	n, err := h.Tokens.RevokeAllUserTokens(r.Context(), id.UserID, token.ReasonLogoutAll)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, LogoutAllResponse{Revoked: n})
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	n, err := h.Tokens.GetActiveSessionCount(r.Context(), id.UserID)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, SessionsResponse{UserID: id.UserID, ActiveSessions: n})
}

func (h *Handler) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	eff, err := h.Authorizer.GetEffectivePermissions(r.Context(), authz.PrincipalFromIdentity(id))
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, eff)
}

func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var dto CheckPermissionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	res, err := h.Authorizer.CheckPermission(r.Context(), authz.PrincipalFromIdentity(id), dto.Capability, dto.Context)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CheckResponse{
		Capability: dto.Capability,
		Allowed:    res.Allowed,
		Reason:     res.Reason,
	})
}

func (h *Handler) FilterCapabilities(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var dto FilterCapabilitiesDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, r, err)
		return
	}

	visible, err := h.Authorizer.FilterCapabilities(r.Context(), authz.PrincipalFromIdentity(id), dto.Capabilities)
	if err != nil {
		h.WriteAppError(w, r, err)
		return
	}
	if visible == nil {
		visible = []string{}
	}
	h.WriteJSON(w, http.StatusOK, FilterResponse{Capabilities: visible})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (appErrors.Identity, bool) {
	id, ok := appErrors.IdentityFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, r, appErrors.ErrInvalidToken.WithMessage("missing bearer token"))
	}
	return id, ok
}
