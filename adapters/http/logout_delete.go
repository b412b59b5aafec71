package authhttp

import (
	"errors"
	"net/http"

	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/session"
)

func (s *Service) handleSessionGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketAuthSession) {
		tooMany(w)
		return
	}
	rec, err := s.sessions.Load(r)
	if errors.Is(err, session.ErrNoSession) {
		unauthorized(w, "unauthorized")
		return
	}
	if err != nil {
		s.serverErrWithLog(w, r, "session_store_unavailable", err, "load session failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         rec.UserID,
		"organization_id": rec.OrganizationID,
		"email":           rec.Email,
		"expires_at":      rec.ExpiresAt,
	})
}

func (s *Service) handleLogoutDELETE(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketAuthLogout) {
		tooMany(w)
		return
	}
	if err := s.sessions.Destroy(w, r); err != nil {
		s.serverErrWithLog(w, r, "failed_to_logout", err, "destroy session failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
