package ratelimit

import "time"

// Bucket names used by the phoneauth endpoints. Both adapters share them so one limiter can
// serve either.
const (
	BucketPhoneStart        = "auth_phone_start"
	BucketPhoneOrganization = "auth_phone_organization"
	BucketPhoneResend       = "auth_phone_resend"
	BucketPhoneVerify       = "auth_phone_verify"

	BucketAuthSession = "auth_session"
	BucketAuthLogout  = "auth_logout"
)

// DefaultLimits returns the built-in per-endpoint limits, enforced per client IP.
// Every start and resend sends an SMS, so those buckets are the tightest.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"default": {Limit: 120, Window: time.Minute},

		BucketPhoneStart:        {Limit: 6, Window: 10 * time.Minute},
		BucketPhoneOrganization: {Limit: 12, Window: 10 * time.Minute},
		BucketPhoneResend:       {Limit: 3, Window: 10 * time.Minute},
		BucketPhoneVerify:       {Limit: 10, Window: 10 * time.Minute},

		BucketAuthSession: {Limit: 120, Window: time.Minute},
		BucketAuthLogout:  {Limit: 60, Window: 10 * time.Minute},
	}
}
