// Package workos implements core.IdentityPlatform against the WorkOS REST API.
package workos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/open-rails/phoneauth/core"
)

const (
	DefaultBaseURL = "https://api.workos.com"
	defaultTimeout = 15 * time.Second

	grantTypeMagicAuth = "urn:workos:oauth:grant-type:magic-auth:code"
	maxErrorBody       = 64 << 10
)

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = http.StatusText(e.Status)
	}
	if e.Message == "" {
		return fmt.Sprintf("workos: %d %s", e.Status, code)
	}
	return fmt.Sprintf("workos: %d %s: %s", e.Status, code, e.Message)
}

// Client talks to WorkOS. The API key is sent as a bearer token on every request and doubles
// as the client secret for the magic-code grant.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets the underlying client. Its transport is wrapped with the bearer token source.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("workos: api key is required")
	}
	c := &Client{apiKey: apiKey, baseURL: DefaultBaseURL, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	base := c.http
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}))
	authed.Timeout = base.Timeout
	c.http = authed
	return c, nil
}

var _ core.IdentityPlatform = (*Client)(nil)

func (c *Client) CreateUser(ctx context.Context, req core.CreateUserRequest) (core.PlatformUser, error) {
	var out core.PlatformUser
	err := c.post(ctx, "/user_management/users", req, &out)
	return out, err
}

func (c *Client) EnrollFactor(ctx context.Context, req core.EnrollFactorRequest) (core.Factor, error) {
	var out core.Factor
	err := c.post(ctx, "/auth/factors/enroll", req, &out)
	return out, err
}

func (c *Client) ChallengeFactor(ctx context.Context, req core.ChallengeFactorRequest) (core.Challenge, error) {
	if req.AuthenticationFactorID == "" {
		return core.Challenge{}, errors.New("workos: authentication factor id is required")
	}
	var out core.Challenge
	err := c.post(ctx, "/auth/factors/"+url.PathEscape(req.AuthenticationFactorID)+"/challenge", req, &out)
	return out, err
}

func (c *Client) VerifyChallenge(ctx context.Context, req core.VerifyChallengeRequest) (core.VerifyChallengeResponse, error) {
	if req.AuthenticationChallengeID == "" {
		return core.VerifyChallengeResponse{}, errors.New("workos: authentication challenge id is required")
	}
	var out core.VerifyChallengeResponse
	err := c.post(ctx, "/auth/challenges/"+url.PathEscape(req.AuthenticationChallengeID)+"/verify", req, &out)
	return out, err
}

func (c *Client) CreateMagicCode(ctx context.Context, req core.CreateMagicCodeRequest) (core.MagicCode, error) {
	var out core.MagicCode
	err := c.post(ctx, "/user_management/magic_auth", req, &out)
	return out, err
}

type authenticateBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Email        string `json:"email"`
	Code         string `json:"code"`
}

func (c *Client) AuthenticateWithMagicCode(ctx context.Context, req core.AuthenticateWithMagicCodeRequest) (core.AuthenticationResponse, error) {
	body := authenticateBody{
		ClientID:     req.ClientID,
		ClientSecret: c.apiKey,
		GrantType:    grantTypeMagicAuth,
		Email:        req.Email,
		Code:         req.Code,
	}
	var out core.AuthenticationResponse
	err := c.post(ctx, "/user_management/authenticate", body, &out)
	return out, err
}

func (c *Client) CreateOrganizationMembership(ctx context.Context, req core.CreateOrganizationMembershipRequest) (core.OrganizationMembership, error) {
	var out core.OrganizationMembership
	err := c.post(ctx, "/user_management/organization_memberships", req, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workos: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("workos: decode %s: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code             string `json:"code"`
		Error            string `json:"error"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(b, &body) == nil {
		apiErr.Code = firstNonEmpty(body.Code, body.Error)
		apiErr.Message = firstNonEmpty(body.Message, body.ErrorDescription)
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
