package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/phoneauth/adapters/ginutil"
	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
	"github.com/open-rails/phoneauth/session"
)

// Attempts is the slice of core.Service the phone handlers drive.
type Attempts interface {
	SubmitPhone(ctx context.Context, in core.SubmitPhoneInput) (core.Attempt, error)
	SelectOrganization(ctx context.Context, a core.Attempt, organizationID string) (core.Attempt, error)
	ResendChallenge(ctx context.Context, a core.Attempt) (core.Attempt, error)
	VerifyCode(ctx context.Context, a core.Attempt, code string, bridge core.SessionBridge) (core.Attempt, *core.AuthenticationResult, error)
	SaveAttempt(ctx context.Context, token string, a core.Attempt, ttl time.Duration) (string, error)
	LoadAttempt(ctx context.Context, token string) (core.Attempt, error)
	DiscardAttempt(ctx context.Context, token string) error
}

// HandlePhoneStartPOST handles POST /auth/phone/start.
func HandlePhoneStartPOST(svc Attempts, g ginutil.Guard, ttl time.Duration) gin.HandlerFunc {
	type startReq struct {
		PhoneNumber string `json:"phone_number"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
	}
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketPhoneStart) {
			ginutil.TooMany(c)
			return
		}
		var req startReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		a, err := svc.SubmitPhone(c.Request.Context(), core.SubmitPhoneInput{
			PhoneNumber: req.PhoneNumber,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
		})
		respond(c, svc, ttl, "", a, err)
	}
}

// HandlePhoneOrganizationPOST handles POST /auth/phone/organization.
func HandlePhoneOrganizationPOST(svc Attempts, g ginutil.Guard, ttl time.Duration) gin.HandlerFunc {
	type orgReq struct {
		AttemptToken   string `json:"attempt_token" binding:"required"`
		OrganizationID string `json:"organization_id"`
	}
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketPhoneOrganization) {
			ginutil.TooMany(c)
			return
		}
		var req orgReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		a, ok := load(c, svc, req.AttemptToken)
		if !ok {
			return
		}
		a, err := svc.SelectOrganization(c.Request.Context(), a, req.OrganizationID)
		respond(c, svc, ttl, req.AttemptToken, a, err)
	}
}

// HandlePhoneResendPOST handles POST /auth/phone/resend.
func HandlePhoneResendPOST(svc Attempts, g ginutil.Guard, ttl time.Duration) gin.HandlerFunc {
	type resendReq struct {
		AttemptToken string `json:"attempt_token" binding:"required"`
	}
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketPhoneResend) {
			ginutil.TooMany(c)
			return
		}
		var req resendReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		a, ok := load(c, svc, req.AttemptToken)
		if !ok {
			return
		}
		a, err := svc.ResendChallenge(c.Request.Context(), a)
		respond(c, svc, ttl, req.AttemptToken, a, err)
	}
}

// HandlePhoneVerifyPOST handles POST /auth/phone/verify. On success the session cookie is set
// and the attempt is discarded.
func HandlePhoneVerifyPOST(svc Attempts, sm *session.Manager, g ginutil.Guard, ttl time.Duration) gin.HandlerFunc {
	type verifyReq struct {
		AttemptToken string `json:"attempt_token" binding:"required"`
		Code         string `json:"code"`
	}
	return func(c *gin.Context) {
		if !g.Allow(c, ratelimit.BucketPhoneVerify) {
			ginutil.TooMany(c)
			return
		}
		var req verifyReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		a, ok := load(c, svc, req.AttemptToken)
		if !ok {
			return
		}
		a, res, err := svc.VerifyCode(c.Request.Context(), a, req.Code, sm.Writer(c.Writer))
		if err != nil {
			respond(c, svc, ttl, req.AttemptToken, a, err)
			return
		}
		if derr := svc.DiscardAttempt(c.Request.Context(), req.AttemptToken); derr != nil {
			// The session is already set and the attempt expires on its own.
			log.WithContext(c.Request.Context()).WithError(derr).
				WithField("attempt_id", a.ID).Warn("discard attempt failed")
		}
		c.JSON(http.StatusOK, gin.H{
			"state":           string(a.State),
			"user_id":         res.UserID,
			"organization_id": res.OrganizationID,
			"user":            res.User,
		})
	}
}

func load(c *gin.Context, svc Attempts, token string) (core.Attempt, bool) {
	if strings.TrimSpace(token) == "" {
		ginutil.BadRequest(c, "invalid_request")
		return core.Attempt{}, false
	}
	a, err := svc.LoadAttempt(c.Request.Context(), token)
	switch {
	case errors.Is(err, core.ErrAttemptNotFound):
		ginutil.NotFound(c, "attempt_not_found")
		return core.Attempt{}, false
	case err != nil:
		ginutil.ServerErrWithLog(c, "attempt_store_unavailable", err, "load attempt failed")
		return core.Attempt{}, false
	}
	return a, true
}

func respond(c *gin.Context, svc Attempts, ttl time.Duration, token string, a core.Attempt, stepErr error) {
	ctx := c.Request.Context()
	var err error
	switch {
	case errors.Is(stepErr, core.ErrValidation):
		// attempt unchanged
	case a.Done():
		if token != "" {
			err = svc.DiscardAttempt(ctx, token)
		}
	default:
		token, err = svc.SaveAttempt(ctx, token, a, ttl)
	}
	if err != nil {
		ginutil.ServerErrWithLog(c, "attempt_store_unavailable", err, "save attempt failed")
		return
	}
	if stepErr != nil {
		ginutil.StepErr(c, stepErr, a, token)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempt_token":         token,
		"state":                 string(a.State),
		"organization_required": a.State == core.StateOrganizationSelection,
	})
}
