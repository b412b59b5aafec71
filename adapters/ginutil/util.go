package ginutil

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
)

// RateLimiter is the limiter interface the gin handlers consume. *ratelimit.Limiter
// implements it.
type RateLimiter = ratelimit.Checker

// Guard pairs a limiter with the client-IP resolution it is keyed by. The zero value does not
// limit.
type Guard struct {
	Limiter RateLimiter
	// ClientIP defaults to ratelimit.DefaultClientIP. gin's c.ClientIP trusts forwarding
	// headers from any peer and is never used.
	ClientIP ratelimit.ClientIPFunc
}

// Allow applies the per-IP limit for bucket.
func (g Guard) Allow(c *gin.Context, bucket string) bool {
	return ratelimit.Allow(c.Writer, c.Request, g.Limiter, g.ClientIP, bucket)
}

// Error helpers
func SendErr(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}
func BadRequest(c *gin.Context, code string)   { SendErr(c, http.StatusBadRequest, code) }
func Unauthorized(c *gin.Context, code string) { SendErr(c, http.StatusUnauthorized, code) }
func TooMany(c *gin.Context)                   { SendErr(c, http.StatusTooManyRequests, "rate_limited") }
func ServerErr(c *gin.Context, code string)    { SendErr(c, http.StatusInternalServerError, code) }
func NotFound(c *gin.Context, code string)     { SendErr(c, http.StatusNotFound, code) }

// ServerErrWithLog logs the underlying error/context before responding with a generic server error.
func ServerErrWithLog(c *gin.Context, code string, err error, message string) {
	entry := log.WithContext(c.Request.Context()).WithFields(log.Fields{
		"code":   code,
		"path":   c.FullPath(),
		"method": c.Request.Method,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if strings.TrimSpace(message) == "" {
		message = "phoneauth server error"
	}
	entry.Error(message)
	ServerErr(c, code)
}

// StepErr writes a phone step failure. token is omitted once the attempt is finished.
func StepErr(c *gin.Context, err error, a core.Attempt, token string) {
	body := gin.H{
		"error":   core.PublicCode(err),
		"message": core.PublicMessage(err),
		"state":   string(a.State),
	}
	if a.Recoverable {
		body["recoverable"] = true
	}
	if token != "" && !a.Done() {
		body["attempt_token"] = token
	}
	c.AbortWithStatusJSON(core.HTTPStatus(err), body)
}
