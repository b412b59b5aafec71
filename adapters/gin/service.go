package authgin

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/phoneauth/adapters/gin/handlers"
	"github.com/open-rails/phoneauth/adapters/ginutil"
	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/session"
	memorystore "github.com/open-rails/phoneauth/storage/memory"
	redisstore "github.com/open-rails/phoneauth/storage/redis"
)

// Service wraps core.Service with gin mounting helpers.
type Service struct {
	svc        *core.Service
	sessions   *session.Manager
	rl         ginutil.RateLimiter
	clientIP   ratelimit.ClientIPFunc
	logger     log.FieldLogger
	attemptTTL time.Duration
}

// NewService wraps svc. Without an ephemeral store already attached, attempts and rate-limit
// counters live in process memory.
func NewService(svc *core.Service, sessions *session.Manager) (*Service, error) {
	if svc == nil || sessions == nil {
		return nil, errors.New("phoneauth: core service and session manager are required")
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

func (s *Service) WithRedis(rd redis.UniversalClient) *Service {
	if rd == nil {
		return s
	}
	s.svc.WithEphemeralStore(redisstore.NewKV(rd), core.EphemeralRedis)
	s.rl = ratelimit.New(ratelimit.DefaultLimits(), ratelimit.WithRedis(rd), ratelimit.WithLogger(s.logger))
	return s
}
func (s *Service) WithRateLimiter(rl ginutil.RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service                    { s.rl = nil; return s }

// WithClientIPFunc sets how the client IP is resolved for rate limiting. The default uses the
// peer address only; behind a proxy pass ratelimit.ClientIPFromForwardedHeaders with the
// proxy's prefixes.
func (s *Service) WithClientIPFunc(fn ratelimit.ClientIPFunc) *Service {
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
func (s *Service) WithAttemptTTL(d time.Duration) *Service {
	if d > 0 {
		s.attemptTTL = d
	}
	return s
}

// GinRegisterAPI mounts the phone login routes on the provided router or group.
// Pass a prefixed group (e.g., r.Group("/api/v1")) to mount under a prefix.
func (s *Service) GinRegisterAPI(r gin.IRouter) *Service {
	if !core.IsDevEnvironment() && s.svc.EphemeralMode() != core.EphemeralRedis {
		panic("phoneauth: redis-compatible ephemeral store is required in production")
	}
	g := ginutil.Guard{Limiter: s.rl, ClientIP: s.clientIP}
	auth := r.Group("/auth")
	auth.POST("/phone/start", handlers.HandlePhoneStartPOST(s.svc, g, s.attemptTTL))
	auth.POST("/phone/organization", handlers.HandlePhoneOrganizationPOST(s.svc, g, s.attemptTTL))
	auth.POST("/phone/resend", handlers.HandlePhoneResendPOST(s.svc, g, s.attemptTTL))
	auth.POST("/phone/verify", handlers.HandlePhoneVerifyPOST(s.svc, s.sessions, g, s.attemptTTL))
	auth.GET("/session", handlers.HandleSessionGET(s.sessions, g))
	auth.DELETE("/logout", handlers.HandleLogoutDELETE(s.sessions, g))
	return s
}

func (s *Service) Core() *core.Service { return s.svc }
