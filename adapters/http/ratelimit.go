package authhttp

import "github.com/open-rails/phoneauth/ratelimit"

// RateLimiter is the limiter interface the adapter consumes. *ratelimit.Limiter implements it.
type RateLimiter = ratelimit.Checker

// ClientIPFunc determines the client IP used for rate limiting. See ratelimit.DefaultClientIP
// and ratelimit.ClientIPFromForwardedHeaders.
type ClientIPFunc = ratelimit.ClientIPFunc
