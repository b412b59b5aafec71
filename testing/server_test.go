package testing

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServer_LoginSetsSession(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	client, res := srv.Login(t, "+15551234567", "")
	require.Equal(t, "session_established", res.State)
	require.NotEmpty(t, res.UserID)

	user, ok := srv.Platform.UserByEmail(SyntheticEmail("+15551234567"))
	require.True(t, ok)
	require.Equal(t, user.ID, res.UserID)

	resp, err := client.Get(srv.URL + "/auth/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, res.UserID, body["user_id"])
	require.Equal(t, SyntheticEmail("+15551234567"), body["email"])
}

func TestServer_OrganizationLogin(t *testing.T) {
	srv := NewServer(WithOrganizations("org_a"))
	defer srv.Close()

	_, res := srv.Login(t, "+15557654321", "org_a")
	require.Equal(t, "org_a", res.OrganizationID)
	require.Equal(t, []string{"org_a"}, srv.Platform.Memberships(res.UserID))
}

func TestServer_WrongCodeKeepsAttempt(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	client := srv.Client()
	res := srv.Step(t, client, "start", map[string]string{"phone_number": "+15550001111"})
	require.Equal(t, http.StatusOK, res.Status)

	bad := srv.Step(t, client, "verify", map[string]string{"attempt_token": res.AttemptToken, "code": "000000"})
	require.Equal(t, http.StatusUnauthorized, bad.Status)
	require.Equal(t, "invalid_verification_code", bad.Error)

	ok := srv.Step(t, client, "verify", map[string]string{"attempt_token": res.AttemptToken, "code": Code})
	require.Equal(t, http.StatusOK, ok.Status)
}
