package core

import (
	"net/netip"
	"net/url"
	"strings"
)

// FallbackEmailDomain is used when neither an override nor a redirect URI is configured.
const FallbackEmailDomain = "sms.localhost"

// SynthesizeEmail derives the platform email for a phone-only identity.
// The phone number is not validated; malformed numbers fail later at SMS delivery.
func SynthesizeEmail(phoneNumber, domainSuffix string) (string, error) {
	if phoneNumber == "" {
		return "", validationErr(StepSubmitPhone, "phone_number")
	}
	if domainSuffix == "" {
		return "", validationErr(StepSubmitPhone, "email_domain")
	}
	return phoneNumber + "@" + domainSuffix, nil
}

// ResolveEmailDomain picks the synthetic email domain once at startup.
// Priority: explicit override, then "sms.<host>" derived from the redirect URI, then
// FallbackEmailDomain.
func ResolveEmailDomain(override, redirectURI string) string {
	if d := strings.Trim(strings.TrimSpace(override), "@."); d != "" {
		return strings.ToLower(d)
	}
	if host := redirectHost(redirectURI); host != "" {
		return "sms." + host
	}
	return FallbackEmailDomain
}

func redirectHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	// IP literals cannot carry a subdomain.
	if _, err := netip.ParseAddr(host); host == "" || err == nil {
		return ""
	}
	return host
}
