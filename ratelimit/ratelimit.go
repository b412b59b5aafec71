// Package ratelimit holds the per-IP limits for the phone login endpoints. Counting is done
// by github.com/go-chi/httprate, in process memory or in Redis through httprate-redis.
package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	httprateredis "github.com/go-chi/httprate-redis"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Limit configures a named bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Checker is what the adapters need from a limiter. *Limiter implements it.
type Checker interface {
	// Limited counts one hit for key in bucket and reports whether the request must be
	// rejected. Implementations may set rate-limit headers on w but must not write a body.
	Limited(w http.ResponseWriter, r *http.Request, bucket, key string) bool
}

// Limiter keeps one httprate.RateLimiter per bucket.
type Limiter struct {
	buckets  map[string]*httprate.RateLimiter
	fallback *httprate.RateLimiter
}

type options struct {
	redis  redis.UniversalClient
	prefix string
	logger log.FieldLogger
}

type Option func(*options)

// WithRedis shares counters across instances. While Redis is unreachable httprate-redis
// counts in process memory.
func WithRedis(rd redis.UniversalClient) Option {
	return func(o *options) { o.redis = rd }
}

// WithKeyPrefix namespaces the Redis counter keys; "phoneauth:rl" by default.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if strings.TrimSpace(prefix) != "" {
			o.prefix = prefix
		}
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns a limiter for limits. Buckets missing from limits use limits["default"]; when
// that is also absent the bucket is unlimited.
func New(limits map[string]Limit, opts ...Option) *Limiter {
	o := options{prefix: "phoneauth:rl", logger: log.StandardLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	l := &Limiter{buckets: make(map[string]*httprate.RateLimiter, len(limits))}
	for bucket, lim := range limits {
		if lim.Limit <= 0 || lim.Window <= 0 {
			continue
		}
		rl := newBucket(bucket, lim, o)
		if bucket == "default" {
			l.fallback = rl
			continue
		}
		l.buckets[bucket] = rl
	}
	return l
}

func newBucket(bucket string, lim Limit, o options) *httprate.RateLimiter {
	logger := o.logger.WithField("bucket", bucket)
	hopts := []httprate.Option{
		httprate.WithErrorHandler(func(_ http.ResponseWriter, r *http.Request, err error) {
			logger.WithError(err).WithContext(r.Context()).Warn("rate limit counter unavailable")
		}),
	}
	if o.redis != nil {
		hopts = append(hopts, httprateredis.WithRedisLimitCounter(&httprateredis.Config{
			Client:    o.redis,
			PrefixKey: o.prefix,
		}))
	}
	return httprate.NewRateLimiter(lim.Limit, lim.Window, hopts...)
}

// Limited implements Checker.
func (l *Limiter) Limited(w http.ResponseWriter, r *http.Request, bucket, key string) bool {
	if l == nil {
		return false
	}
	rl, ok := l.buckets[bucket]
	if !ok {
		rl = l.fallback
	}
	if rl == nil {
		return false
	}
	return rl.OnLimit(w, r, key)
}

// Allow applies rl to r under bucket, keyed by the client IP. Requests whose client IP is
// unknown are not limited.
func Allow(w http.ResponseWriter, r *http.Request, rl Checker, clientIP ClientIPFunc, bucket string) bool {
	if rl == nil {
		return true
	}
	if clientIP == nil {
		clientIP = DefaultClientIP()
	}
	ip := strings.TrimSpace(clientIP(r))
	if ip == "" {
		return true
	}
	return !rl.Limited(w, r, bucket, "auth:"+bucket+":ip:"+ip)
}
