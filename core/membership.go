package core

import (
	"context"
	"strings"
)

// DefaultMembershipRole is used when Options.DefaultRole is empty.
const DefaultMembershipRole = "member"

// MembershipGate attaches a user to an organization before a factor can be enrolled.
// No compensating action is taken when a later step fails; the membership stays.
type MembershipGate interface {
	Attach(ctx context.Context, userID, organizationID, role string) error
}

// PlatformMembershipGate creates memberships on the identity platform.
type PlatformMembershipGate struct {
	Platform IdentityPlatform
}

func NewPlatformMembershipGate(p IdentityPlatform) *PlatformMembershipGate {
	return &PlatformMembershipGate{Platform: p}
}

func (g *PlatformMembershipGate) Attach(ctx context.Context, userID, organizationID, role string) error {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" {
		return validationErr(StepSelectOrganization, "user_id")
	}
	if organizationID == "" {
		return validationErr(StepSelectOrganization, "organization_id")
	}
	if strings.TrimSpace(role) == "" {
		role = DefaultMembershipRole
	}
	_, err := g.Platform.CreateOrganizationMembership(ctx, CreateOrganizationMembershipRequest{
		UserID:         userID,
		OrganizationID: organizationID,
		RoleSlug:       role,
	})
	if err != nil {
		return providerErr(StepSelectOrganization, err)
	}
	return nil
}
