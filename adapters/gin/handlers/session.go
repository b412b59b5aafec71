package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/phoneauth/adapters/ginutil"
	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/session"
)

// HandleSessionGET handles GET /auth/session.
func HandleSessionGET(sm *session.Manager, g ginutil.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketAuthSession) {
			ginutil.TooMany(c)
			return
		}
		rec, err := sm.Load(c.Request)
		if errors.Is(err, session.ErrNoSession) {
			ginutil.Unauthorized(c, "unauthorized")
			return
		}
		if err != nil {
			ginutil.ServerErrWithLog(c, "session_store_unavailable", err, "load session failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":         rec.UserID,
			"organization_id": rec.OrganizationID,
			"email":           rec.Email,
			"expires_at":      rec.ExpiresAt,
		})
	}
}

// HandleLogoutDELETE handles DELETE /auth/logout.
func HandleLogoutDELETE(sm *session.Manager, g ginutil.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketAuthLogout) {
			ginutil.TooMany(c)
			return
		}
		if err := sm.Destroy(c.Writer, c.Request); err != nil {
			ginutil.ServerErrWithLog(c, "failed_to_logout", err, "destroy session failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
