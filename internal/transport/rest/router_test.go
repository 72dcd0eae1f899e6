package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/auth"
	"github.com/frahmantamala/capgate/internal/authz"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/token"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/frahmantamala/capgate/internal/transport/middleware"
	"github.com/frahmantamala/capgate/internal/transport/rest"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/frahmantamala/capgate/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type verifier map[string]string

func (v verifier) VerifyAccessToken(raw string) (*token.Claims, error) {
	sub, ok := v[raw]
	if !ok {
		return nil, internal.ErrTokenExpired
	}
	return &token.Claims{
		Username:         sub,
		Type:             token.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ID: "jti-" + sub},
	}, nil
}

// grants maps user id to the capabilities Require lets through.
type grants map[string][]string

func (g grants) Require(_ context.Context, p authz.Principal, capability string) error {
	for _, c := range g[p.UserID] {
		if c == capability {
			return nil
		}
	}
	return &authz.InsufficientPermissionsError{Capability: capability, Reason: "denied: no matching permission"}
}

type roleService struct {
	role.ServiceAPI
	listed int
}

func (s *roleService) List(context.Context) ([]*role.Role, error) {
	s.listed++
	return []*role.Role{{ID: "r1", Name: role.Administrator, IsSystem: true}}, nil
}

type panicky struct {
	user.ServiceAPI
}

func (panicky) GetByID(context.Context, string) (*user.User, error) {
	panic("boom")
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Error.Code
}

var _ = Describe("Router", func() {
	var (
		router *chi.Mux
		roles  *roleService
		mock   sqlmock.Sqlmock
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = db.Close() })
		mock = m

		lg := logger.Discard()
		base := transport.NewBaseHandler(lg)
		roles = &roleService{}

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Dependencies{
			DB:          db,
			Base:        base,
			Verifier:    verifier{"admin-token": "admin", "viewer-token": "viewer"},
			Checker:     grants{"admin": {rest.CapabilityRolesManage, rest.CapabilityUsersManage}},
			AuthHandler: auth.NewHandler(base, nil, nil),
			RoleHandler: role.NewHandler(base, roles),
			UserHandler: user.NewHandler(base, panicky{}),
			Metrics:     obs.NewMetrics(),
			Logger:      lg,
		})
	})

	serve := func(method, path, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("health", func() {
		It("answers ping without touching the database", func() {
			rec := serve(http.MethodGet, "/api/v1/ping", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"OK"`))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("reports healthy when the database answers", func() {
			mock.ExpectPing()

			rec := serve(http.MethodGet, "/api/v1/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp rest.HealthResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal(rest.HealthHealthy))
			Expect(resp.Components).To(HaveKey("database"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("reports 503 when the ping fails", func() {
			mock.ExpectPing().WillReturnError(errors.New("connection refused"))

			rec := serve(http.MethodGet, "/api/v1/health", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("database unreachable"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("connection refused"))
		})
	})

	Describe("authentication", func() {
		It("rejects protected routes without a bearer token", func() {
			rec := serve(http.MethodGet, "/api/v1/auth/sessions", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(rec)).To(Equal("INVALID_TOKEN"))
		})

		It("passes the verifier's error code through", func() {
			rec := serve(http.MethodGet, "/api/v1/roles", "stale-token")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(rec)).To(Equal("TOKEN_EXPIRED"))
		})

		It("ignores non-bearer schemes", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
			req.Header.Set("Authorization", "Basic admin-token")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("capability guards", func() {
		It("refuses role management without roles.manage", func() {
			rec := serve(http.MethodGet, "/api/v1/roles", "viewer-token")
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(errorCode(rec)).To(Equal("INSUFFICIENT_PERMISSIONS"))
			Expect(roles.listed).To(BeZero())
		})

		It("lets holders of roles.manage through", func() {
			rec := serve(http.MethodGet, "/api/v1/roles", "admin-token")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp role.RolesResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Roles).To(HaveLen(1))
			Expect(roles.listed).To(Equal(1))
		})
	})

	Describe("ambient middleware", func() {
		It("echoes a caller-supplied request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
			req.Header.Set(middleware.RequestIDHeader, "req-123")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("req-123"))
		})

		It("mints a request id when none is given", func() {
			rec := serve(http.MethodGet, "/api/v1/ping", "")
			Expect(rec.Header().Get(middleware.RequestIDHeader)).NotTo(BeEmpty())
		})

		It("turns handler panics into a generic 500", func() {
			rec := serve(http.MethodGet, "/api/v1/me", "admin-token")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorCode(rec)).To(Equal("INTERNAL_ERROR"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("boom"))
		})

		It("sets hardening headers", func() {
			rec := serve(http.MethodGet, "/api/v1/ping", "")
			Expect(rec.Header().Get("X-Frame-Options")).To(Equal("DENY"))
			Expect(rec.Header().Get("X-Content-Type-Options")).To(Equal("nosniff"))
		})

		It("exposes request metrics", func() {
			serve(http.MethodGet, "/api/v1/ping", "")
			rec := serve(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("http_requests_total"))
		})
	})
})

var _ = Describe("Router rate limiting", func() {
	It("limits credential attempts per client IP", func() {
		lg := logger.Discard()
		base := transport.NewBaseHandler(lg)
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Dependencies{
			Base:           base,
			AuthHandler:    auth.NewHandler(base, nil, nil),
			Logger:         lg,
			AuthRateLimit:  2,
			AuthRateWindow: time.Minute,
		})

		login := func(remote string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
			req.RemoteAddr = remote
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			return rec
		}

		// empty bodies are rejected before the token service is reached
		Expect(login("192.0.2.1:4000").Code).To(Equal(http.StatusBadRequest))
		Expect(login("192.0.2.1:4001").Code).To(Equal(http.StatusBadRequest))

		rec := login("192.0.2.1:4002")
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		Expect(errorCode(rec)).To(Equal("RATE_LIMITED"))

		Expect(login("198.51.100.7:4000").Code).To(Equal(http.StatusBadRequest))
	})
})
