package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/capgate/internal/auth"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/frahmantamala/capgate/internal/transport/middleware"
	"github.com/frahmantamala/capgate/internal/transport/swagger"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Capabilities guarding the administrative routes.
const (
	CapabilityRolesManage = "roles.manage"
	CapabilityUsersManage = "users.manage"
)

type Dependencies struct {
	DB          Pinger
	Base        *transport.BaseHandler
	Verifier    middleware.AccessVerifier
	Checker     middleware.CapabilityChecker
	AuthHandler *auth.Handler
	RoleHandler *role.Handler
	UserHandler *user.Handler
	Metrics     *obs.Metrics
	MetricsPath string
	OpenAPIPath string
	Logger      *slog.Logger

	// AuthRateLimit is per client IP and window; zero disables limiting.
	AuthRateLimit  int
	AuthRateWindow time.Duration
	Production     bool
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	healthHandler := NewHealthHandler(deps.DB)

	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.Logging)
	router.Use(middleware.SecureHeaders(deps.Production))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Instrument)
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics.Handler())
	}

	if deps.OpenAPIPath != "" {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, deps.OpenAPIPath)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	authenticated := middleware.Authenticate(deps.Verifier, deps.Base)
	require := func(capability string) func(http.Handler) http.Handler {
		return middleware.RequireCapability(deps.Checker, capability, deps.Base)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.AuthHandler != nil {
			r.Group(func(lr chi.Router) {
				lr.Use(middleware.AuthRateLimit(deps.AuthRateLimit, deps.AuthRateWindow, deps.Base))
				lr.Post("/auth/login", deps.AuthHandler.Login)
				lr.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
			})
		}

		r.Group(func(pr chi.Router) {
			pr.Use(authenticated)

			if deps.AuthHandler != nil {
				pr.Post("/auth/logout", deps.AuthHandler.Logout)
				pr.Post("/auth/logout-all", deps.AuthHandler.LogoutAll)
				pr.Get("/auth/sessions", deps.AuthHandler.Sessions)

				pr.Get("/me/permissions", deps.AuthHandler.EffectivePermissions)
				pr.Post("/me/permissions/check", deps.AuthHandler.CheckPermission)
				pr.Post("/me/capabilities/filter", deps.AuthHandler.FilterCapabilities)
			}
			if deps.UserHandler != nil {
				pr.Get("/me", deps.UserHandler.GetCurrentUser)
			}

			if deps.RoleHandler != nil {
				pr.Route("/roles", func(rr chi.Router) {
					rr.Use(require(CapabilityRolesManage))
					rr.Get("/", deps.RoleHandler.ListRoles)
					rr.Post("/", deps.RoleHandler.CreateRole)
					rr.Get("/{id}", deps.RoleHandler.GetRole)
					rr.Patch("/{id}", deps.RoleHandler.UpdateRole)
					rr.Delete("/{id}", deps.RoleHandler.DeleteRole)
					rr.Put("/{id}/users/{userID}", deps.RoleHandler.AssignRole)
					rr.Delete("/{id}/users/{userID}", deps.RoleHandler.UnassignRole)
				})
			}

			if deps.UserHandler != nil {
				pr.Route("/users", func(ur chi.Router) {
					ur.Use(require(CapabilityUsersManage))
					ur.Post("/", deps.UserHandler.CreateUser)
					ur.Get("/{id}", deps.UserHandler.GetUser)
					ur.Put("/{id}/active", deps.UserHandler.SetActive)
				})
			}
		})
	})
}
