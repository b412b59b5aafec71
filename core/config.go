package core

import (
	"fmt"
	"strings"
)

// DefaultSMSTemplate is sent when the caller supplies no template.
const DefaultSMSTemplate = "Your verification code is {{code}}"

// Config is the high-level configuration for the phone login flow.
// EmailDomain must already be resolved (see ResolveEmailDomain).
type Config struct {
	// EmailDomain is the suffix for synthetic emails, e.g. "sms.example.com".
	EmailDomain string
	// ClientID scopes the magic-code exchange.
	ClientID string
	// RequireOrganization enables the organization-gated variant: SubmitPhone stops before
	// factor enrollment until SelectOrganization is called.
	RequireOrganization bool
	// DefaultRole is the membership role slug; "member" when empty.
	DefaultRole string
	// SMSTemplate overrides DefaultSMSTemplate. Must contain {{code}}.
	SMSTemplate string
}

// Options is the validated, defaulted form of Config.
type Options struct {
	EmailDomain         string
	ClientID            string
	RequireOrganization bool
	DefaultRole         string
	SMSTemplate         string
}

func (c Config) options() (Options, error) {
	domain := strings.TrimSpace(c.EmailDomain)
	if domain == "" {
		return Options{}, fmt.Errorf("phoneauth: EmailDomain is required (see ResolveEmailDomain)")
	}
	clientID := strings.TrimSpace(c.ClientID)
	if clientID == "" {
		return Options{}, fmt.Errorf("phoneauth: ClientID is required for the magic-code exchange")
	}
	role := strings.TrimSpace(c.DefaultRole)
	if role == "" {
		role = DefaultMembershipRole
	}
	tmpl := c.SMSTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultSMSTemplate
	}
	if !strings.Contains(tmpl, "{{code}}") {
		return Options{}, fmt.Errorf("phoneauth: SMSTemplate must contain {{code}}")
	}
	return Options{
		EmailDomain:         domain,
		ClientID:            clientID,
		RequireOrganization: c.RequireOrganization,
		DefaultRole:         role,
		SMSTemplate:         tmpl,
	}, nil
}
