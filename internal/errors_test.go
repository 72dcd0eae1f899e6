package internal_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/frahmantamala/capgate/internal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AppError", func() {
	It("matches sentinels by code through copies and wrapping", func() {
		err := fmt.Errorf("refresh: %w", internal.ErrTokenRevoked.WithMessage("rotated"))

		Expect(errors.Is(err, internal.ErrTokenRevoked)).To(BeTrue())
		Expect(errors.Is(err, internal.ErrTokenExpired)).To(BeFalse())
	})

	It("leaves the sentinel untouched when copied", func() {
		_ = internal.ErrInvalidToken.WithMessage("changed").WithCause(errors.New("x"))

		Expect(internal.ErrInvalidToken.Message).To(Equal("invalid token"))
		Expect(internal.ErrInvalidToken.Cause).To(BeNil())
	})

	It("finds the AppError in a chain", func() {
		appErr, ok := internal.IsAppError(fmt.Errorf("wrapped: %w", internal.ErrRoleNotFound))
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(internal.ErrCodeRoleNotFound))

		_, ok = internal.IsAppError(errors.New("plain"))
		Expect(ok).To(BeFalse())
	})

	DescribeTable("maps onto HTTP status codes",
		func(err *internal.AppError, status int) {
			code, _ := err.ToHTTPResponse()
			Expect(code).To(Equal(status))
		},
		Entry("invalid credentials", internal.ErrInvalidCredentials, http.StatusUnauthorized),
		Entry("expired token", internal.ErrTokenExpired, http.StatusUnauthorized),
		Entry("revoked token", internal.ErrTokenRevoked, http.StatusUnauthorized),
		Entry("insufficient permissions", internal.ErrInsufficientPermissions, http.StatusForbidden),
		Entry("configuration", internal.ErrConfiguration, http.StatusInternalServerError),
		Entry("role not found", internal.ErrRoleNotFound, http.StatusNotFound),
		Entry("role name taken", internal.ErrRoleNameTaken, http.StatusConflict),
	)

	It("serializes under an error envelope with its code", func() {
		_, body := internal.ErrTokenExpired.ToHTTPResponse()
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"code":"TOKEN_EXPIRED"`))
		Expect(string(raw)).NotTo(ContainSubstring("StatusCode"))
	})
})
