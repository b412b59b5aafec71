package authhttp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
)

type phoneStartReq struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

type attemptTokenReq struct {
	AttemptToken string `json:"attempt_token"`
}

type phoneOrganizationReq struct {
	AttemptToken   string `json:"attempt_token"`
	OrganizationID string `json:"organization_id"`
}

type phoneVerifyReq struct {
	AttemptToken string `json:"attempt_token"`
	Code         string `json:"code"`
}

func (s *Service) handlePhoneStartPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketPhoneStart) {
		tooMany(w)
		return
	}
	var req phoneStartReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}

	a, err := s.svc.SubmitPhone(r.Context(), core.SubmitPhoneInput{
		PhoneNumber: req.PhoneNumber,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
	})
	s.respondStep(w, r, "", a, err)
}

func (s *Service) handlePhoneOrganizationPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketPhoneOrganization) {
		tooMany(w)
		return
	}
	var req phoneOrganizationReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	a, ok := s.loadAttempt(w, r, req.AttemptToken)
	if !ok {
		return
	}
	a, err := s.svc.SelectOrganization(r.Context(), a, req.OrganizationID)
	s.respondStep(w, r, req.AttemptToken, a, err)
}

func (s *Service) handlePhoneResendPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketPhoneResend) {
		tooMany(w)
		return
	}
	var req attemptTokenReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	a, ok := s.loadAttempt(w, r, req.AttemptToken)
	if !ok {
		return
	}
	a, err := s.svc.ResendChallenge(r.Context(), a)
	s.respondStep(w, r, req.AttemptToken, a, err)
}

func (s *Service) handlePhoneVerifyPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, ratelimit.BucketPhoneVerify) {
		tooMany(w)
		return
	}
	var req phoneVerifyReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	a, ok := s.loadAttempt(w, r, req.AttemptToken)
	if !ok {
		return
	}

	// The bridge sets the session cookie before anything is written to the body.
	a, res, err := s.svc.VerifyCode(r.Context(), a, req.Code, s.sessions.Writer(w))
	if err != nil {
		s.respondStep(w, r, req.AttemptToken, a, err)
		return
	}
	if derr := s.svc.DiscardAttempt(r.Context(), req.AttemptToken); derr != nil {
		s.logger.WithError(derr).WithField("attempt_id", a.ID).Warn("discard attempt failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":           string(a.State),
		"user_id":         res.UserID,
		"organization_id": res.OrganizationID,
		"user":            res.User,
	})
}

func (s *Service) loadAttempt(w http.ResponseWriter, r *http.Request, token string) (core.Attempt, bool) {
	if strings.TrimSpace(token) == "" {
		badRequest(w, "invalid_request")
		return core.Attempt{}, false
	}
	a, err := s.svc.LoadAttempt(r.Context(), token)
	if errors.Is(err, core.ErrAttemptNotFound) {
		notFound(w, "attempt_not_found")
		return core.Attempt{}, false
	}
	if err != nil {
		s.serverErrWithLog(w, r, "attempt_store_unavailable", err, "load attempt failed")
		return core.Attempt{}, false
	}
	return a, true
}

// respondStep stores or discards the attempt and writes the step response. token is empty
// for a new attempt.
func (s *Service) respondStep(w http.ResponseWriter, r *http.Request, token string, a core.Attempt, stepErr error) {
	token, err := s.settle(r.Context(), token, a, stepErr)
	if err != nil {
		s.serverErrWithLog(w, r, "attempt_store_unavailable", err, "save attempt failed")
		return
	}
	if stepErr != nil {
		writeJSON(w, core.HTTPStatus(stepErr), stepErrResp(stepErr, a, token))
		return
	}
	writeJSON(w, http.StatusOK, attemptResp{
		AttemptToken:         token,
		State:                string(a.State),
		OrganizationRequired: a.State == core.StateOrganizationSelection,
	})
}

// settle persists a live attempt and drops a finished one. Validation failures leave the
// attempt as it was.
func (s *Service) settle(ctx context.Context, token string, a core.Attempt, stepErr error) (string, error) {
	switch {
	case errors.Is(stepErr, core.ErrValidation):
		return token, nil
	case a.Done():
		if token == "" {
			return "", nil
		}
		return token, s.svc.DiscardAttempt(ctx, token)
	}
	return s.svc.SaveAttempt(ctx, token, a, s.attemptTTL)
}
