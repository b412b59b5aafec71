package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Service drives the phone login protocol against an IdentityPlatform.
//
// It holds no per-attempt state: every operation takes the caller's Attempt and returns the
// next one, so unrelated attempts may run concurrently. Steps for one attempt must be
// serialized by the caller.
type Service struct {
	opts     Options
	platform IdentityPlatform
	gate     MembershipGate
	ledger   AttemptLedger
	observer StepObserver
	logger   log.FieldLogger
	now      func() time.Time

	ephemeralStore EphemeralStore
	ephemeralMode  EphemeralMode
}

// NewService validates cfg and returns a Service bound to platform.
// Organization membership goes through the platform unless WithMembershipGate overrides it.
func NewService(cfg Config, platform IdentityPlatform) (*Service, error) {
	if platform == nil {
		return nil, fmt.Errorf("phoneauth: identity platform is required")
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	return &Service{
		opts:          opts,
		platform:      platform,
		gate:          NewPlatformMembershipGate(platform),
		logger:        log.StandardLogger(),
		now:           time.Now,
		ephemeralMode: EphemeralMemory,
	}, nil
}

// Options exposes the resolved configuration.
func (s *Service) Options() Options { return s.opts }

// WithMembershipGate replaces the organization membership gate.
func (s *Service) WithMembershipGate(g MembershipGate) *Service { s.gate = g; return s }

// WithLedger records every step to l (best-effort).
func (s *Service) WithLedger(l AttemptLedger) *Service { s.ledger = l; return s }

// WithStepObserver reports step outcomes to o (e.g., metrics).
func (s *Service) WithStepObserver(o StepObserver) *Service { s.observer = o; return s }

// WithLogger sets the logger used for step failures.
func (s *Service) WithLogger(l log.FieldLogger) *Service {
	if l == nil {
		l = log.StandardLogger()
	}
	s.logger = l
	return s
}

// SubmitPhoneInput starts an attempt. Names are optional profile fields.
type SubmitPhoneInput struct {
	PhoneNumber string
	FirstName   string
	LastName    string
}

// SubmitPhone creates the platform user for the phone number. In the organization variant
// the attempt stops in StateOrganizationSelection; otherwise the SMS factor is enrolled and
// the first code is sent.
func (s *Service) SubmitPhone(ctx context.Context, in SubmitPhoneInput) (Attempt, error) {
	start := s.now()
	a := Attempt{
		ID:          uuid.NewString(),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		State:       StatePhoneEntry,
	}
	email, err := SynthesizeEmail(a.PhoneNumber, s.opts.EmailDomain)
	if err != nil {
		return s.done(ctx, StepSubmitPhone, start, a, err)
	}
	a.Email = email

	user, err := s.platform.CreateUser(ctx, CreateUserRequest{
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		// The platform asserts ownership of the synthetic address; the phone is verified later.
		EmailVerified: true,
	})
	if err == nil && user.ID == "" {
		err = errors.New("platform returned a user without an id")
	}
	if err != nil {
		return s.done(ctx, StepSubmitPhone, start, a.fail(false), providerErr(StepSubmitPhone, err))
	}
	a.UserID = user.ID

	if s.opts.RequireOrganization {
		return s.done(ctx, StepSubmitPhone, start, a.to(StateOrganizationSelection), nil)
	}
	a, _ = s.done(ctx, StepSubmitPhone, start, a, nil)

	a, err = s.EnrollFactor(ctx, a)
	if err != nil {
		return a, err
	}
	return s.ChallengeFactor(ctx, a, "")
}

// SelectOrganization attaches the attempt's user to organizationID with the default role,
// then enrolls the SMS factor and sends the first code.
func (s *Service) SelectOrganization(ctx context.Context, a Attempt, organizationID string) (Attempt, error) {
	start := s.now()
	organizationID = strings.TrimSpace(organizationID)
	switch {
	case a.UserID == "":
		return s.done(ctx, StepSelectOrganization, start, a, validationErr(StepSelectOrganization, "user_id"))
	case organizationID == "":
		return s.done(ctx, StepSelectOrganization, start, a, validationErr(StepSelectOrganization, "organization_id"))
	case a.State != StateOrganizationSelection:
		return s.done(ctx, StepSelectOrganization, start, a, stateErr(StepSelectOrganization, a))
	}

	if err := s.gate.Attach(ctx, a.UserID, organizationID, s.opts.DefaultRole); err != nil {
		if errors.Is(err, ErrValidation) {
			return s.done(ctx, StepSelectOrganization, start, a, err)
		}
		if !errors.Is(err, ErrProvider) {
			err = providerErr(StepSelectOrganization, err)
		}
		return s.done(ctx, StepSelectOrganization, start, a.fail(false), err)
	}
	a.OrganizationID = organizationID
	a, _ = s.done(ctx, StepSelectOrganization, start, a, nil)

	a, err := s.EnrollFactor(ctx, a)
	if err != nil {
		return a, err
	}
	return s.ChallengeFactor(ctx, a, "")
}

// EnrollFactor registers an SMS factor for the attempt's phone number.
// E.164 formatting is the caller's responsibility. Failure is terminal for the attempt.
func (s *Service) EnrollFactor(ctx context.Context, a Attempt) (Attempt, error) {
	start := s.now()
	switch {
	case a.UserID == "":
		return s.done(ctx, StepEnrollFactor, start, a, validationErr(StepEnrollFactor, "user_id"))
	case s.opts.RequireOrganization && a.OrganizationID == "":
		return s.done(ctx, StepEnrollFactor, start, a, validationErr(StepEnrollFactor, "organization_id"))
	case a.FactorID != "" || (a.State != StatePhoneEntry && a.State != StateOrganizationSelection):
		return s.done(ctx, StepEnrollFactor, start, a, stateErr(StepEnrollFactor, a))
	}

	factor, err := s.platform.EnrollFactor(ctx, EnrollFactorRequest{Type: FactorTypeSMS, PhoneNumber: a.PhoneNumber})
	if err == nil && factor.ID == "" {
		err = errors.New("platform returned a factor without an id")
	}
	if err != nil {
		return s.done(ctx, StepEnrollFactor, start, a.fail(false), providerErr(StepEnrollFactor, err))
	}
	a.FactorID = factor.ID
	return s.done(ctx, StepEnrollFactor, start, a.to(StateFactorEnrolled), nil)
}

// ChallengeFactor sends a code for the attempt's factor. smsTemplate falls back to the
// configured template. Calling it again supersedes the previous challenge; only the newest
// ChallengeID is kept, and the platform decides whether older ids are still valid.
func (s *Service) ChallengeFactor(ctx context.Context, a Attempt, smsTemplate string) (Attempt, error) {
	start := s.now()
	if a.FactorID == "" {
		return s.done(ctx, StepChallengeFactor, start, a, validationErr(StepChallengeFactor, "factor_id"))
	}
	if !a.canChallenge() {
		return s.done(ctx, StepChallengeFactor, start, a, stateErr(StepChallengeFactor, a))
	}
	if strings.TrimSpace(smsTemplate) == "" {
		smsTemplate = s.opts.SMSTemplate
	}

	ch, err := s.platform.ChallengeFactor(ctx, ChallengeFactorRequest{
		AuthenticationFactorID: a.FactorID,
		SMSTemplate:            smsTemplate,
	})
	if err == nil && ch.ID == "" {
		err = errors.New("platform returned a challenge without an id")
	}
	if err != nil {
		return s.done(ctx, StepChallengeFactor, start, a.fail(false), providerErr(StepChallengeFactor, err))
	}
	a.ChallengeID = ch.ID
	return s.done(ctx, StepChallengeFactor, start, a.to(StateChallengeSent), nil)
}

// ResendChallenge issues a new challenge with the configured template.
func (s *Service) ResendChallenge(ctx context.Context, a Attempt) (Attempt, error) {
	return s.ChallengeFactor(ctx, a, "")
}

// VerifyCode checks code against the attempt's latest challenge. On success it bridges the
// verified factor into a session: a magic code is created for the attempt's email and
// redeemed server-side, and the response is handed to bridge. Nothing is persisted unless
// every step succeeds.
func (s *Service) VerifyCode(ctx context.Context, a Attempt, code string, bridge SessionBridge) (Attempt, *AuthenticationResult, error) {
	start := s.now()
	code = strings.TrimSpace(code)
	var verr error
	switch {
	case a.ChallengeID == "":
		verr = validationErr(StepVerifyChallenge, "challenge_id")
	case code == "":
		verr = validationErr(StepVerifyChallenge, "code")
	case a.Email == "":
		verr = validationErr(StepVerifyChallenge, "email")
	case bridge == nil:
		verr = validationErr(StepVerifyChallenge, "session_bridge")
	case !a.canVerify():
		verr = stateErr(StepVerifyChallenge, a)
	}
	if verr != nil {
		a, err := s.done(ctx, StepVerifyChallenge, start, a, verr)
		return a, nil, err
	}

	resp, err := s.platform.VerifyChallenge(ctx, VerifyChallengeRequest{AuthenticationChallengeID: a.ChallengeID, Code: code})
	if err != nil {
		a, err = s.done(ctx, StepVerifyChallenge, start, a.fail(false), providerErr(StepVerifyChallenge, err))
		return a, nil, err
	}
	if !resp.Valid {
		a, err = s.done(ctx, StepVerifyChallenge, start, a.fail(true), &StepError{Kind: ErrInvalidCode, Step: StepVerifyChallenge})
		return a, nil, err
	}
	a, _ = s.done(ctx, StepVerifyChallenge, start, a.to(StateVerified), nil)

	start = s.now()
	auth, err := s.bridge(ctx, a)
	if err == nil {
		// The persisted session and the returned result carry the same organization.
		if auth.OrganizationID == "" {
			auth.OrganizationID = a.OrganizationID
		}
		err = bridge.Persist(ctx, auth)
	}
	if err != nil {
		a, err = s.done(ctx, StepSessionBridge, start, a.fail(false), bridgeErr(StepSessionBridge, err))
		return a, nil, err
	}

	res := &AuthenticationResult{UserID: auth.User.ID, OrganizationID: auth.OrganizationID, User: auth.User}
	a.OrganizationID = res.OrganizationID
	a, _ = s.done(ctx, StepSessionBridge, start, a.to(StateSessionEstablished), nil)
	return a, res, nil
}

// bridge exchanges a fresh magic code for a full authentication response. The code never
// leaves the server.
func (s *Service) bridge(ctx context.Context, a Attempt) (AuthenticationResponse, error) {
	mc, err := s.platform.CreateMagicCode(ctx, CreateMagicCodeRequest{Email: a.Email})
	if err != nil {
		return AuthenticationResponse{}, fmt.Errorf("create magic code: %w", err)
	}
	auth, err := s.platform.AuthenticateWithMagicCode(ctx, AuthenticateWithMagicCodeRequest{
		ClientID: s.opts.ClientID,
		Email:    a.Email,
		Code:     mc.Code,
	})
	if err != nil {
		return AuthenticationResponse{}, fmt.Errorf("authenticate with magic code: %w", err)
	}
	if auth.User.ID == "" {
		return AuthenticationResponse{}, errors.New("authentication response has no user")
	}
	if a.UserID != "" && auth.User.ID != a.UserID {
		return AuthenticationResponse{}, fmt.Errorf("authenticated user %s does not match attempt user %s", auth.User.ID, a.UserID)
	}
	return auth, nil
}

func stateErr(step Step, a Attempt) error {
	return &StepError{Kind: ErrValidation, Step: step, Err: fmt.Errorf("attempt is %s", a.State)}
}

// done records the step outcome and returns its arguments unchanged.
func (s *Service) done(ctx context.Context, step Step, start time.Time, a Attempt, err error) (Attempt, error) {
	result := resultOf(err)
	if s.observer != nil {
		s.observer.ObserveStep(step, result, s.now().Sub(start))
	}
	if err != nil {
		entry := s.logger.WithFields(log.Fields{
			"attempt_id": a.ID,
			"step":       string(step),
			"code":       PublicCode(err),
			"state":      string(a.State),
		}).WithContext(ctx)
		if a.UserID != "" {
			entry = entry.WithField("user_id", a.UserID)
		}
		entry.WithError(err).Warn("phone login step failed")
	}
	if s.ledger != nil && !errors.Is(err, ErrValidation) {
		ev := AttemptEvent{OccurredAt: s.now(), Attempt: a, Step: step, Result: result}
		if err != nil {
			code := PublicCode(err)
			ev.ErrorCode = &code
		}
		if lerr := s.ledger.RecordAttempt(ctx, ev); lerr != nil {
			s.logger.WithError(lerr).WithField("attempt_id", a.ID).Warn("attempt ledger write failed")
		}
	}
	return a, err
}
