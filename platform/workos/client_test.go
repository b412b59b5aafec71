package workos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-rails/phoneauth/core"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New("sk_test_123", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestClient_CreateUserSendsBearerAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/user_management/users", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "+15551234567@sms.example", body["email"])
		require.Equal(t, true, body["email_verified"])
		_, _ = w.Write([]byte(`{"object":"user","id":"user_01","email":"+15551234567@sms.example","email_verified":true}`))
	})

	u, err := c.CreateUser(context.Background(), core.CreateUserRequest{Email: "+15551234567@sms.example", EmailVerified: true})
	require.NoError(t, err)
	require.Equal(t, "user_01", u.ID)
	require.True(t, u.EmailVerified)
}

func TestClient_ChallengeAndVerifyPaths(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/auth/factors/auth_factor_1/challenge":
			require.Equal(t, "Code {{code}}", body["sms_template"])
			_, _ = w.Write([]byte(`{"id":"auth_challenge_1","authentication_factor_id":"auth_factor_1"}`))
		case "/auth/challenges/auth_challenge_1/verify":
			require.Equal(t, "123456", body["code"])
			_, _ = w.Write([]byte(`{"challenge":{"id":"auth_challenge_1"},"valid":true}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	ch, err := c.ChallengeFactor(ctx, core.ChallengeFactorRequest{AuthenticationFactorID: "auth_factor_1", SMSTemplate: "Code {{code}}"})
	require.NoError(t, err)
	require.Equal(t, "auth_challenge_1", ch.ID)

	res, err := c.VerifyChallenge(ctx, core.VerifyChallengeRequest{AuthenticationChallengeID: ch.ID, Code: "123456"})
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestClient_AuthenticateUsesMagicAuthGrant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user_management/authenticate", r.URL.Path)
		var body authenticateBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, grantTypeMagicAuth, body.GrantType)
		require.Equal(t, "client_1", body.ClientID)
		require.Equal(t, "sk_test_123", body.ClientSecret)
		_, _ = w.Write([]byte(`{"user":{"id":"user_01","email":"a@sms.example"},"organization_id":"org_1","access_token":"at","refresh_token":"rt"}`))
	})

	resp, err := c.AuthenticateWithMagicCode(context.Background(), core.AuthenticateWithMagicCodeRequest{ClientID: "client_1", Email: "a@sms.example", Code: "654321"})
	require.NoError(t, err)
	require.Equal(t, "user_01", resp.User.ID)
	require.Equal(t, "org_1", resp.OrganizationID)
	require.Equal(t, "rt", resp.RefreshToken)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"email_not_available","message":"This email is not available."}`))
	})

	_, err := c.CreateUser(context.Background(), core.CreateUserRequest{Email: "dup@sms.example"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "email_not_available", apiErr.Code)
	require.Contains(t, apiErr.Error(), "This email is not available.")
}

func TestClient_OAuthStyleError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"The code has expired."}`))
	})

	_, err := c.AuthenticateWithMagicCode(context.Background(), core.AuthenticateWithMagicCodeRequest{ClientID: "c", Email: "e", Code: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "invalid_grant", apiErr.Code)
	require.Equal(t, "The code has expired.", apiErr.Message)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
