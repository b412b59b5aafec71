package memoryplatform

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/phoneauth/core"
)

func TestPlatform_ChallengeDeliversThroughSink(t *testing.T) {
	var gotPhone, gotMsg string
	p := New("").
		WithCodeGenerator(func() string { return "424242" }).
		WithCodeSink(func(phone, msg string) { gotPhone, gotMsg = phone, msg })
	ctx := context.Background()

	f, err := p.EnrollFactor(ctx, core.EnrollFactorRequest{Type: core.FactorTypeSMS, PhoneNumber: "+15551234567"})
	require.NoError(t, err)

	ch, err := p.ChallengeFactor(ctx, core.ChallengeFactorRequest{AuthenticationFactorID: f.ID, SMSTemplate: "Code: {{code}}"})
	require.NoError(t, err)
	require.Equal(t, f.ID, ch.AuthenticationFactorID)
	require.Equal(t, "+15551234567", gotPhone)
	require.Equal(t, "Code: 424242", gotMsg)

	_, err = p.ChallengeFactor(ctx, core.ChallengeFactorRequest{AuthenticationFactorID: f.ID, SMSTemplate: "no code"})
	require.Error(t, err)
}

func TestPlatform_ChallengeExpiryAndReuse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := New("").WithClock(func() time.Time { return now }).WithCodeGenerator(func() string { return "111111" })
	ctx := context.Background()

	f, _ := p.EnrollFactor(ctx, core.EnrollFactorRequest{Type: core.FactorTypeSMS, PhoneNumber: "+15551234567"})
	ch, err := p.ChallengeFactor(ctx, core.ChallengeFactorRequest{AuthenticationFactorID: f.ID, SMSTemplate: core.DefaultSMSTemplate})
	require.NoError(t, err)

	res, err := p.VerifyChallenge(ctx, core.VerifyChallengeRequest{AuthenticationChallengeID: ch.ID, Code: "111111"})
	require.NoError(t, err)
	require.True(t, res.Valid)

	_, err = p.VerifyChallenge(ctx, core.VerifyChallengeRequest{AuthenticationChallengeID: ch.ID, Code: "111111"})
	require.Error(t, err, "a verified challenge cannot be reused")

	ch2, _ := p.ChallengeFactor(ctx, core.ChallengeFactorRequest{AuthenticationFactorID: f.ID, SMSTemplate: core.DefaultSMSTemplate})
	now = now.Add(challengeTTL + time.Second)
	_, err = p.VerifyChallenge(ctx, core.VerifyChallengeRequest{AuthenticationChallengeID: ch2.ID, Code: "111111"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "authentication_challenge_expired", perr.Code)
}

func TestPlatform_MagicCodeSingleUse(t *testing.T) {
	p := New("client_1").WithCodeGenerator(func() string { return "777777" })
	p.AddOrganization("org_1")
	ctx := context.Background()

	u, err := p.CreateUser(ctx, core.CreateUserRequest{Email: "+15551234567@sms.example", EmailVerified: true})
	require.NoError(t, err)
	_, err = p.CreateOrganizationMembership(ctx, core.CreateOrganizationMembershipRequest{UserID: u.ID, OrganizationID: "org_1", RoleSlug: "member"})
	require.NoError(t, err)

	mc, err := p.CreateMagicCode(ctx, core.CreateMagicCodeRequest{Email: u.Email})
	require.NoError(t, err)

	_, err = p.AuthenticateWithMagicCode(ctx, core.AuthenticateWithMagicCodeRequest{ClientID: "other", Email: u.Email, Code: mc.Code})
	require.Error(t, err)

	resp, err := p.AuthenticateWithMagicCode(ctx, core.AuthenticateWithMagicCodeRequest{ClientID: "client_1", Email: u.Email, Code: mc.Code})
	require.NoError(t, err)
	require.Equal(t, u.ID, resp.User.ID)
	require.Equal(t, "org_1", resp.OrganizationID)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(resp.AccessToken, claims)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims["sub"])
	require.Equal(t, "org_1", claims["org_id"])

	_, err = p.AuthenticateWithMagicCode(ctx, core.AuthenticateWithMagicCodeRequest{ClientID: "client_1", Email: u.Email, Code: mc.Code})
	require.Error(t, err, "magic codes are single use")
	require.Equal(t, []string{u.ID}, p.Authenticated())
}

func TestPlatform_MembershipErrors(t *testing.T) {
	p := New("")
	p.AddOrganization("org_1")
	ctx := context.Background()
	u, _ := p.CreateUser(ctx, core.CreateUserRequest{Email: "a@sms.example"})

	_, err := p.CreateOrganizationMembership(ctx, core.CreateOrganizationMembershipRequest{UserID: u.ID, OrganizationID: "org_x"})
	require.Error(t, err)

	_, err = p.CreateOrganizationMembership(ctx, core.CreateOrganizationMembershipRequest{UserID: u.ID, OrganizationID: "org_1"})
	require.NoError(t, err)
	_, err = p.CreateOrganizationMembership(ctx, core.CreateOrganizationMembershipRequest{UserID: u.ID, OrganizationID: "org_1"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "organization_membership_already_exists", perr.Code)
}
