package authhttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorShape_UnknownField(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()

	w := do(t, h, http.MethodPost, "/auth/phone/start", `{"phone_number":"+15551234567","email":"x@y.z"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "application/json", strings.TrimSpace(strings.Split(w.Header().Get("Content-Type"), ";")[0]))
	require.JSONEq(t, `{"error":"invalid_request"}`, w.Body.String())
}

func TestErrorShape_TrailingGarbage(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()

	w := do(t, h, http.MethodPost, "/auth/phone/start", `{"phone_number":"+15551234567"} {}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request"}`, w.Body.String())
}

func TestErrorShape_EmptyPhone(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()

	w := do(t, h, http.MethodPost, "/auth/phone/start", `{"phone_number":"  "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request","message":"Missing phone_number.","state":"phone_entry"}`, w.Body.String())
}

func TestErrorShape_MissingAttemptToken(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()

	w := do(t, h, http.MethodPost, "/auth/phone/verify", `{"code":"123456"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request"}`, w.Body.String())
}

func TestErrorShape_EmptyCodeKeepsAttempt(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()
	tok := startAttempt(t, h, "+15551234567")

	w := do(t, h, http.MethodPost, "/auth/phone/verify", `{"attempt_token":"`+tok+`","code":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request","message":"Missing code.","attempt_token":"`+tok+`","state":"challenge_sent"}`, w.Body.String())

	w = do(t, h, http.MethodPost, "/auth/phone/verify", `{"attempt_token":"`+tok+`","code":"123456"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestErrorShape_LogoutWithoutSession(t *testing.T) {
	s, _ := newTestService(t, false)
	h := s.APIHandler()

	w := do(t, h, http.MethodDelete, "/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/auth/session", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
}

func TestErrorShape_NotInitialized(t *testing.T) {
	w := httptest.NewRecorder()
	(&Service{}).APIHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/phone/start", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"phoneauth_not_initialized"}`, w.Body.String())
}
