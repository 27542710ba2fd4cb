package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

var _ = Describe("Middleware", func() {
	var (
		store    *mockUserStore
		service  *Service
		sessions *Sessions
		handler  http.Handler
		seen     Identity
		seenOK   bool
		rec      *httptest.ResponseRecorder
		req      *http.Request
	)

	BeforeEach(func() {
		store = newMockUserStore()
		service = NewServiceWithDeps(store, bcrypt.MinCost, time.Now, func() string { return "user-1" })
		sessions = NewSessions("secret", false)
		seen, seenOK = Identity{}, false

		protected := RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			seen, seenOK = FromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		handler = Middleware(sessions, service)(protected)

		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	})

	JustBeforeEach(func() {
		handler.ServeHTTP(rec, req)
	})

	When("the session is valid", func() {
		BeforeEach(func() {
			_, err := service.Register(context.Background(), "erin@example.com", "password", "Erin")
			Expect(err).NotTo(HaveOccurred())

			issued := httptest.NewRecorder()
			sessions.Issue(issued, "user-1")
			req.AddCookie(issued.Result().Cookies()[0])
		})

		It("passes the identity to the handler", func() {
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(seenOK).To(BeTrue())
			Expect(seen.Email).To(Equal("erin@example.com"))
		})
	})

	When("the session refers to a deleted user", func() {
		BeforeEach(func() {
			issued := httptest.NewRecorder()
			sessions.Issue(issued, "user-1")
			req.AddCookie(issued.Result().Cookies()[0])
		})

		It("clears the cookie and redirects", func() {
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Result().Cookies()).NotTo(BeEmpty())
			Expect(rec.Result().Cookies()[0].Value).To(BeEmpty())
		})
	})

	When("the user store fails while resolving the session", func() {
		BeforeEach(func() {
			_, err := service.Register(context.Background(), "erin@example.com", "password", "Erin")
			Expect(err).NotTo(HaveOccurred())

			issued := httptest.NewRecorder()
			sessions.Issue(issued, "user-1")
			req.AddCookie(issued.Result().Cookies()[0])
			store.getErr = errors.New("connection refused")
		})

		It("serves the request anonymously and keeps the cookie", func() {
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(seenOK).To(BeFalse())
			Expect(rec.Result().Cookies()).To(BeEmpty())
		})
	})

	When("there is no session on an HTML page", func() {
		It("redirects to the login page", func() {
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("/login"))
			Expect(seenOK).To(BeFalse())
		})
	})

	When("there is no session on an API path", func() {
		BeforeEach(func() {
			req = httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
		})

		It("answers 401 with a JSON body", func() {
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"unauthorized"}`))
		})
	})

	When("there is no session and the client asks for JSON", func() {
		BeforeEach(func() {
			req.Header.Set("Accept", "application/json")
		})

		It("answers 401", func() {
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})
})
