package rest_test

import (
	"context"
	"net/http"
	"strings"

	"github.com/frahmantamala/capgate/internal/auth"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/frahmantamala/capgate/internal/transport/rest"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/frahmantamala/capgate/pkg/logger"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const apiPrefix = "/api/v1"

var _ = Describe("OpenAPI document", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		var err error
		doc, err = openapi3.NewLoader().LoadFromFile("../../../api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
	})

	It("is a valid OpenAPI 3 document", func() {
		Expect(doc.Validate(context.Background())).To(Succeed())
	})

	It("describes every registered API route", func() {
		lg := logger.Discard()
		base := transport.NewBaseHandler(lg)
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Dependencies{
			Base:        base,
			AuthHandler: auth.NewHandler(base, nil, nil),
			RoleHandler: role.NewHandler(base, nil),
			UserHandler: user.NewHandler(base, nil),
			Logger:      lg,
		})

		var routes int
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, apiPrefix) {
				return nil
			}
			routes++
			path := strings.TrimPrefix(route, apiPrefix)
			if len(path) > 1 {
				path = strings.TrimSuffix(path, "/")
			}

			item := doc.Paths.Value(path)
			Expect(item).NotTo(BeNil(), "undocumented path %s", path)
			Expect(item.GetOperation(method)).NotTo(BeNil(), "undocumented operation %s %s", method, path)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(routes).To(Equal(doc.Paths.Len() + countExtraOperations(doc)))
	})
})

// countExtraOperations returns how many operations exceed one per path, so
// the route count can be compared against the document as a whole.
func countExtraOperations(doc *openapi3.T) int {
	extra := 0
	for _, item := range doc.Paths.Map() {
		extra += len(item.Operations()) - 1
	}
	return extra
}
