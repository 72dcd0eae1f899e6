package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/pkg/logger"
)

// maxBodyBytes bounds request bodies; every payload here is a few fields.
const maxBodyBytes = 1 << 20

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes a plain error response for failures that have no AppError.
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.Logger.Error("http error", "status", status, "message", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errorResp := map[string]interface{}{
		"code":    status,
		"message": message,
	}

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		h.Logger.Error("failed to encode error response", "error", err)
	}
}

// WriteAppError maps err onto a response. AppErrors keep their status and
// code; anything else is logged and reported as a 500 without detail.
func (h *BaseHandler) WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := appErrors.IsAppError(err)
	if !ok || appErr.StatusCode == 0 {
		appErr = appErrors.NewInternalError("internal server error", err)
	}

	lg := logger.From(r.Context())
	if appErr.StatusCode >= http.StatusInternalServerError {
		lg.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", appErr.Code, "error", err)
	} else {
		lg.InfoContext(r.Context(), "request rejected", "path", r.URL.Path, "code", appErr.Code, "error", err)
	}

	// Configuration errors may name internals; the client only learns the category.
	if appErr.Type == appErrors.ErrorTypeConfiguration || appErr.StatusCode >= http.StatusInternalServerError {
		appErr = appErr.WithMessage("internal server error").WithDetails(nil)
	}

	status, body := appErr.ToHTTPResponse()
	h.WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON body into dst, rejecting unknown fields.
func (h *BaseHandler) DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.NewValidationError("request body is required", appErrors.ErrCodeValidationFailed)
		}
		return appErrors.NewValidationError("invalid request body", appErrors.ErrCodeValidationFailed).WithCause(err)
	}
	return nil
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
