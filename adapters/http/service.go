package authhttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/session"
	memorystore "github.com/open-rails/phoneauth/storage/memory"
	redisstore "github.com/open-rails/phoneauth/storage/redis"
)

// Service wraps core.Service with net/http mounting helpers. Attempts are kept server-side
// in the core ephemeral store; clients only ever hold an opaque attempt token.
type Service struct {
	svc        *core.Service
	sessions   *session.Manager
	rl         RateLimiter
	clientIP   ClientIPFunc
	logger     log.FieldLogger
	attemptTTL time.Duration
}

func (s *Service) allow(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if s == nil {
		return true
	}
	return ratelimit.Allow(w, r, s.rl, s.clientIP, bucket)
}

// NewService wraps svc. When svc has no ephemeral store yet, an in-memory one is attached for
// dev/single-instance use.
func NewService(svc *core.Service, sessions *session.Manager) (*Service, error) {
	if svc == nil {
		return nil, errors.New("phoneauth: core service is required")
	}
	if sessions == nil {
		return nil, errors.New("phoneauth: session manager is required")
	}
	if svc.EphemeralStore() == nil {
		svc.WithEphemeralStore(memorystore.NewKV(), core.EphemeralMemory)
	}
	return &Service{
		svc:        svc,
		sessions:   sessions,
		rl:         ratelimit.New(ratelimit.DefaultLimits()),
		clientIP:   ratelimit.DefaultClientIP(),
		logger:     log.StandardLogger(),
		attemptTTL: core.DefaultAttemptTTL,
	}, nil
}

// WithRedis moves attempts and rate-limit counters to Redis. Required outside development.
func (s *Service) WithRedis(rd redis.UniversalClient) *Service {
	if rd == nil {
		return s
	}
	s.svc.WithEphemeralStore(redisstore.NewKV(rd), core.EphemeralRedis)
	s.rl = ratelimit.New(ratelimit.DefaultLimits(), ratelimit.WithRedis(rd), ratelimit.WithLogger(s.logger))
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service            { s.rl = nil; return s }
func (s *Service) WithClientIPFunc(fn ClientIPFunc) *Service {
	if fn == nil {
		fn = ratelimit.DefaultClientIP()
	}
	s.clientIP = fn
	return s
}
func (s *Service) WithLogger(l log.FieldLogger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithAttemptTTL bounds how long a client may take between steps.
func (s *Service) WithAttemptTTL(d time.Duration) *Service {
	if d > 0 {
		s.attemptTTL = d
	}
	return s
}

func (s *Service) Core() *core.Service         { return s.svc }
func (s *Service) Sessions() *session.Manager { return s.sessions }
