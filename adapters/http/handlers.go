package authhttp

import (
	"net/http"

	"github.com/open-rails/phoneauth/core"
)

// APIHandler returns a handler that serves the JSON API routes under /auth/*.
// It is intended to be mounted under the host's mux/router at any prefix.
func (s *Service) APIHandler() http.Handler {
	if s == nil || s.svc == nil || s.sessions == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serverErr(w, "phoneauth_not_initialized") })
	}
	if !core.IsDevEnvironment() {
		if s.svc.EphemeralMode() != core.EphemeralRedis {
			panic("phoneauth: redis-compatible ephemeral store is required in production")
		}
	}

	mux := http.NewServeMux()

	// Phone login
	mux.Handle("POST /auth/phone/start", http.HandlerFunc(s.handlePhoneStartPOST))
	mux.Handle("POST /auth/phone/organization", http.HandlerFunc(s.handlePhoneOrganizationPOST))
	mux.Handle("POST /auth/phone/resend", http.HandlerFunc(s.handlePhoneResendPOST))
	mux.Handle("POST /auth/phone/verify", http.HandlerFunc(s.handlePhoneVerifyPOST))

	// Session + logout
	mux.Handle("GET /auth/session", http.HandlerFunc(s.handleSessionGET))
	mux.Handle("DELETE /auth/logout", http.HandlerFunc(s.handleLogoutDELETE))

	return mux
}
