package core

import "context"

// FactorTypeSMS is the only factor type the phone flow enrolls.
const FactorTypeSMS = "sms"

// IdentityPlatform is the surface of the external identity provider consumed by the phone
// login flow. Implementations are network-backed and may fail or be slow; the Service never
// retries a call.
type IdentityPlatform interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (PlatformUser, error)
	EnrollFactor(ctx context.Context, req EnrollFactorRequest) (Factor, error)
	ChallengeFactor(ctx context.Context, req ChallengeFactorRequest) (Challenge, error)
	VerifyChallenge(ctx context.Context, req VerifyChallengeRequest) (VerifyChallengeResponse, error)
	CreateMagicCode(ctx context.Context, req CreateMagicCodeRequest) (MagicCode, error)
	AuthenticateWithMagicCode(ctx context.Context, req AuthenticateWithMagicCodeRequest) (AuthenticationResponse, error)
	CreateOrganizationMembership(ctx context.Context, req CreateOrganizationMembershipRequest) (OrganizationMembership, error)
}

type CreateUserRequest struct {
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// PlatformUser is the provider's user record.
type PlatformUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

type EnrollFactorRequest struct {
	Type        string `json:"type"`
	PhoneNumber string `json:"phone_number"`
}

type Factor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type ChallengeFactorRequest struct {
	AuthenticationFactorID string `json:"-"`
	SMSTemplate            string `json:"sms_template,omitempty"`
}

type Challenge struct {
	ID                     string `json:"id"`
	AuthenticationFactorID string `json:"authentication_factor_id"`
	ExpiresAt              string `json:"expires_at,omitempty"`
}

type VerifyChallengeRequest struct {
	AuthenticationChallengeID string `json:"-"`
	Code                      string `json:"code"`
}

type VerifyChallengeResponse struct {
	Valid bool `json:"valid"`
}

type CreateMagicCodeRequest struct {
	Email string `json:"email"`
}

type MagicCode struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Code  string `json:"code"`
}

type AuthenticateWithMagicCodeRequest struct {
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
	Code     string `json:"code"`
}

// AuthenticationResponse is what the platform returns once a user is signed in.
type AuthenticationResponse struct {
	User           PlatformUser `json:"user"`
	OrganizationID string       `json:"organization_id,omitempty"`
	AccessToken    string       `json:"access_token,omitempty"`
	RefreshToken   string       `json:"refresh_token,omitempty"`
}

type CreateOrganizationMembershipRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	RoleSlug       string `json:"role_slug,omitempty"`
}

type OrganizationMembership struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Status         string `json:"status,omitempty"`
}
