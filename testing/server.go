// Package testing runs the phone login API in-process so downstream services can exercise
// login without a real identity platform.
package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	authhttp "github.com/open-rails/phoneauth/adapters/http"
	"github.com/open-rails/phoneauth/core"
	memoryplatform "github.com/open-rails/phoneauth/platform/memory"
	"github.com/open-rails/phoneauth/session"
	memorystore "github.com/open-rails/phoneauth/storage/memory"
)

// Code is the verification code every SMS from a test server carries.
const Code = "424242"

const (
	testClientID       = "client_test"
	testEmailDomain    = "sms.test.local"
	testCookiePassword = "phoneauth-test-cookie-password-0123456789"
)

// Server is an httptest server mounting the phone login API over the memory platform.
type Server struct {
	*httptest.Server

	Platform *memoryplatform.Platform
	Core     *core.Service
	Sessions *session.Manager
}

type options struct {
	requireOrg bool
	orgs       []string
}

type Option func(*options)

// WithOrganizations registers organizations and enables the organization-gated flow.
func WithOrganizations(ids ...string) Option {
	return func(o *options) {
		o.requireOrg = true
		o.orgs = append(o.orgs, ids...)
	}
}

// NewServer starts a server; callers must Close it.
func NewServer(opts ...Option) *Server {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	p := memoryplatform.New(testClientID).WithCodeGenerator(func() string { return Code })
	for _, id := range o.orgs {
		p.AddOrganization(id)
	}
	svc, err := core.NewService(core.Config{
		EmailDomain:         testEmailDomain,
		ClientID:            testClientID,
		RequireOrganization: o.requireOrg,
	}, p)
	if err != nil {
		panic(err)
	}
	kv := memorystore.NewKV()
	svc.WithEphemeralStore(kv, core.EphemeralMemory)
	sm, err := session.NewManager(kv, session.Config{CookiePassword: testCookiePassword})
	if err != nil {
		panic(err)
	}
	api, err := authhttp.NewService(svc, sm)
	if err != nil {
		panic(err)
	}
	api.DisableRateLimiter()

	return &Server{
		Server:   httptest.NewServer(api.APIHandler()),
		Platform: p,
		Core:     svc,
		Sessions: sm,
	}
}

// StepResponse is the JSON body of a phone login step.
type StepResponse struct {
	Status         int
	AttemptToken   string `json:"attempt_token"`
	State          string `json:"state"`
	Error          string `json:"error"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
}

// Step posts body to /auth/phone/<name> using client.
func (s *Server) Step(t testing.TB, client *http.Client, name string, body map[string]string) StepResponse {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	resp, err := client.Post(s.URL+"/auth/phone/"+name, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", name, err)
	}
	defer resp.Body.Close()
	out := StepResponse{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return out
}

// Login runs the whole flow for phone and returns a client holding the session cookie. Pass
// an empty organizationID when the server is not organization-gated.
func (s *Server) Login(t testing.TB, phone, organizationID string) (*http.Client, StepResponse) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	res := s.Step(t, client, "start", map[string]string{"phone_number": phone})
	if res.Status != http.StatusOK {
		t.Fatalf("start: status %d error %q", res.Status, res.Error)
	}
	token := res.AttemptToken
	if strings.TrimSpace(organizationID) != "" {
		res = s.Step(t, client, "organization", map[string]string{"attempt_token": token, "organization_id": organizationID})
		if res.Status != http.StatusOK {
			t.Fatalf("organization: status %d error %q", res.Status, res.Error)
		}
	}
	res = s.Step(t, client, "verify", map[string]string{"attempt_token": token, "code": Code})
	if res.Status != http.StatusOK {
		t.Fatalf("verify: status %d error %q", res.Status, res.Error)
	}
	return client, res
}

// SyntheticEmail is the email a test server derives for phone.
func SyntheticEmail(phone string) string {
	email, err := core.SynthesizeEmail(phone, testEmailDomain)
	if err != nil {
		panic(fmt.Sprintf("synthesize email: %v", err))
	}
	return email
}
