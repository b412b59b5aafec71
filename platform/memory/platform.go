// Package memoryplatform is an in-process identity platform with the same pre- and
// post-conditions as the hosted one. It backs tests and the dev server's memory mode.
package memoryplatform

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/open-rails/phoneauth/core"
)

// Op identifies a platform operation for failure injection.
type Op string

const (
	OpCreateUser         Op = "create_user"
	OpEnrollFactor       Op = "enroll_factor"
	OpChallengeFactor    Op = "challenge_factor"
	OpVerifyChallenge    Op = "verify_challenge"
	OpCreateMagicCode    Op = "create_magic_code"
	OpAuthenticateMagic  Op = "authenticate_magic_code"
	OpCreateMembership   Op = "create_membership"
	challengeTTL            = 10 * time.Minute
	magicCodeTTL            = 10 * time.Minute
	accessTokenTTL          = 5 * time.Minute
	defaultSigningSecret    = "phoneauth-memory-platform"
)

var reE164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Error mirrors the hosted platform's error body.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func newErr(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeSink receives every SMS the platform would deliver.
type CodeSink func(phoneNumber, message string)

type factor struct {
	id, phone       string
	latestChallenge string
}

type challenge struct {
	id, factorID, code string
	expires            time.Time
	verified           bool
}

type magicCode struct {
	code    string
	expires time.Time
}

// Platform implements core.IdentityPlatform in memory. Safe for concurrent use.
type Platform struct {
	mu            sync.Mutex
	clientID      string
	secret        []byte
	now           func() time.Time
	codeGen       func() string
	sink          CodeSink
	users         map[string]core.PlatformUser // by id
	emails        map[string]string            // email -> user id
	factors       map[string]*factor
	challenges    map[string]*challenge
	magic         map[string]magicCode // email -> latest code
	orgs          map[string]bool
	memberships   map[string][]string // user id -> org ids
	failures      map[Op]error
	authenticated []string
}

// New returns an empty platform. clientID, when non-empty, is required on magic-code
// authentication.
func New(clientID string) *Platform {
	return &Platform{
		clientID:    clientID,
		secret:      []byte(defaultSigningSecret),
		now:         time.Now,
		codeGen:     randomCode,
		users:       map[string]core.PlatformUser{},
		emails:      map[string]string{},
		factors:     map[string]*factor{},
		challenges:  map[string]*challenge{},
		magic:       map[string]magicCode{},
		orgs:        map[string]bool{},
		memberships: map[string][]string{},
		failures:    map[Op]error{},
	}
}

func (p *Platform) WithCodeSink(sink CodeSink) *Platform          { p.sink = sink; return p }
func (p *Platform) WithClock(now func() time.Time) *Platform      { p.now = now; return p }
func (p *Platform) WithCodeGenerator(gen func() string) *Platform { p.codeGen = gen; return p }

// WithSigningSecret sets the HMAC secret for issued access tokens.
func (p *Platform) WithSigningSecret(secret []byte) *Platform { p.secret = secret; return p }

// AddOrganization registers an organization id that memberships may reference.
func (p *Platform) AddOrganization(id string) *Platform {
	p.mu.Lock()
	p.orgs[id] = true
	p.mu.Unlock()
	return p
}

// Fail makes op return err until cleared with Fail(op, nil).
func (p *Platform) Fail(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// LatestCode returns the code of the newest challenge for factorID (tests and dev tooling).
func (p *Platform) LatestCode(factorID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.factors[factorID]
	if !ok || f.latestChallenge == "" {
		return "", false
	}
	return p.challenges[f.latestChallenge].code, true
}

// UserByEmail looks up a user by email.
func (p *Platform) UserByEmail(email string) (core.PlatformUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.emails[strings.ToLower(email)]
	if !ok {
		return core.PlatformUser{}, false
	}
	return p.users[id], true
}

// Memberships lists the organization ids a user belongs to.
func (p *Platform) Memberships(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.memberships[userID]...)
}

// Authenticated lists user ids that completed a magic-code authentication, in order.
func (p *Platform) Authenticated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.authenticated...)
}

func (p *Platform) injected(op Op) error {
	return p.failures[op]
}

func (p *Platform) CreateUser(_ context.Context, req core.CreateUserRequest) (core.PlatformUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpCreateUser); err != nil {
		return core.PlatformUser{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return core.PlatformUser{}, newErr(422, "invalid_email", "email %q is not valid", req.Email)
	}
	if _, exists := p.emails[email]; exists {
		return core.PlatformUser{}, newErr(422, "email_not_available", "a user with email %s already exists", email)
	}
	u := core.PlatformUser{
		ID:            "user_" + compactID(),
		Email:         email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		EmailVerified: req.EmailVerified,
	}
	p.users[u.ID] = u
	p.emails[email] = u.ID
	return u, nil
}

func (p *Platform) EnrollFactor(_ context.Context, req core.EnrollFactorRequest) (core.Factor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpEnrollFactor); err != nil {
		return core.Factor{}, err
	}
	if req.Type != core.FactorTypeSMS {
		return core.Factor{}, newErr(422, "invalid_factor_type", "unsupported factor type %q", req.Type)
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return core.Factor{}, newErr(422, "phone_number_required", "phone number is required")
	}
	f := &factor{id: "auth_factor_" + compactID(), phone: req.PhoneNumber}
	p.factors[f.id] = f
	return core.Factor{ID: f.id, Type: core.FactorTypeSMS}, nil
}

func (p *Platform) ChallengeFactor(_ context.Context, req core.ChallengeFactorRequest) (core.Challenge, error) {
	p.mu.Lock()
	if err := p.injected(OpChallengeFactor); err != nil {
		p.mu.Unlock()
		return core.Challenge{}, err
	}
	f, ok := p.factors[req.AuthenticationFactorID]
	if !ok {
		p.mu.Unlock()
		return core.Challenge{}, newErr(404, "not_found", "authentication factor %s not found", req.AuthenticationFactorID)
	}
	if !strings.Contains(req.SMSTemplate, "{{code}}") {
		p.mu.Unlock()
		return core.Challenge{}, newErr(422, "invalid_sms_template", "sms template must contain {{code}}")
	}
	// Delivery is where malformed numbers surface.
	if !reE164.MatchString(f.phone) {
		p.mu.Unlock()
		return core.Challenge{}, newErr(422, "sms_delivery_failed", "cannot deliver sms to %q", f.phone)
	}
	ch := &challenge{
		id:       "auth_challenge_" + compactID(),
		factorID: f.id,
		code:     p.codeGen(),
		expires:  p.now().Add(challengeTTL),
	}
	p.challenges[ch.id] = ch
	f.latestChallenge = ch.id
	sink, phone, msg := p.sink, f.phone, strings.ReplaceAll(req.SMSTemplate, "{{code}}", ch.code)
	out := core.Challenge{ID: ch.id, AuthenticationFactorID: f.id, ExpiresAt: ch.expires.UTC().Format(time.RFC3339)}
	p.mu.Unlock()

	if sink != nil {
		sink(phone, msg)
	}
	return out, nil
}

func (p *Platform) VerifyChallenge(_ context.Context, req core.VerifyChallengeRequest) (core.VerifyChallengeResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpVerifyChallenge); err != nil {
		return core.VerifyChallengeResponse{}, err
	}
	ch, ok := p.challenges[req.AuthenticationChallengeID]
	if !ok {
		return core.VerifyChallengeResponse{}, newErr(404, "not_found", "authentication challenge %s not found", req.AuthenticationChallengeID)
	}
	if ch.verified {
		return core.VerifyChallengeResponse{}, newErr(422, "authentication_challenge_previously_verified", "challenge already verified")
	}
	if p.now().After(ch.expires) {
		return core.VerifyChallengeResponse{}, newErr(422, "authentication_challenge_expired", "challenge expired")
	}
	// A resend supersedes older challenges even when their code matches.
	if p.factors[ch.factorID].latestChallenge != ch.id || ch.code != req.Code {
		return core.VerifyChallengeResponse{Valid: false}, nil
	}
	ch.verified = true
	return core.VerifyChallengeResponse{Valid: true}, nil
}

func (p *Platform) CreateMagicCode(_ context.Context, req core.CreateMagicCodeRequest) (core.MagicCode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpCreateMagicCode); err != nil {
		return core.MagicCode{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return core.MagicCode{}, newErr(422, "email_required", "email is required")
	}
	mc := magicCode{code: p.codeGen(), expires: p.now().Add(magicCodeTTL)}
	p.magic[email] = mc
	return core.MagicCode{ID: "magic_auth_" + compactID(), Email: email, Code: mc.code}, nil
}

func (p *Platform) AuthenticateWithMagicCode(_ context.Context, req core.AuthenticateWithMagicCodeRequest) (core.AuthenticationResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpAuthenticateMagic); err != nil {
		return core.AuthenticationResponse{}, err
	}
	if p.clientID != "" && req.ClientID != p.clientID {
		return core.AuthenticationResponse{}, newErr(401, "invalid_client", "unknown client %q", req.ClientID)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	mc, ok := p.magic[email]
	if !ok || mc.code != req.Code || p.now().After(mc.expires) {
		return core.AuthenticationResponse{}, newErr(400, "invalid_grant", "magic code is invalid or expired")
	}
	delete(p.magic, email)
	id, ok := p.emails[email]
	if !ok {
		return core.AuthenticationResponse{}, newErr(400, "user_not_found", "no user with email %s", email)
	}
	user := p.users[id]

	var orgID string
	if orgs := p.memberships[id]; len(orgs) == 1 {
		orgID = orgs[0]
	}
	tok, err := p.accessToken(user.ID, orgID)
	if err != nil {
		return core.AuthenticationResponse{}, err
	}
	p.authenticated = append(p.authenticated, user.ID)
	return core.AuthenticationResponse{
		User:           user,
		OrganizationID: orgID,
		AccessToken:    tok,
		RefreshToken:   compactID(),
	}, nil
}

func (p *Platform) CreateOrganizationMembership(_ context.Context, req core.CreateOrganizationMembershipRequest) (core.OrganizationMembership, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected(OpCreateMembership); err != nil {
		return core.OrganizationMembership{}, err
	}
	if _, ok := p.users[req.UserID]; !ok {
		return core.OrganizationMembership{}, newErr(404, "not_found", "user %s not found", req.UserID)
	}
	if !p.orgs[req.OrganizationID] {
		return core.OrganizationMembership{}, newErr(404, "not_found", "organization %s not found", req.OrganizationID)
	}
	for _, o := range p.memberships[req.UserID] {
		if o == req.OrganizationID {
			return core.OrganizationMembership{}, newErr(422, "organization_membership_already_exists", "user already belongs to %s", o)
		}
	}
	p.memberships[req.UserID] = append(p.memberships[req.UserID], req.OrganizationID)
	return core.OrganizationMembership{
		ID:             "om_" + compactID(),
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Status:         "active",
	}, nil
}

func (p *Platform) accessToken(userID, orgID string) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": "session_" + compactID(),
		"iat": now.Unix(),
		"exp": now.Add(accessTokenTTL).Unix(),
	}
	if orgID != "" {
		claims["org_id"] = orgID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func compactID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:26]
}

func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
