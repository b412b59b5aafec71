package authhttp

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/open-rails/phoneauth/core"
)

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errResp{Error: code})
}

func badRequest(w http.ResponseWriter, code string)   { sendErr(w, http.StatusBadRequest, code) }
func unauthorized(w http.ResponseWriter, code string) { sendErr(w, http.StatusUnauthorized, code) }
func tooMany(w http.ResponseWriter)                   { sendErr(w, http.StatusTooManyRequests, "rate_limited") }
func serverErr(w http.ResponseWriter, code string)    { sendErr(w, http.StatusInternalServerError, code) }
func notFound(w http.ResponseWriter, code string)     { sendErr(w, http.StatusNotFound, code) }

// serverErrWithLog logs the underlying error/context before responding with a generic server error.
func (s *Service) serverErrWithLog(w http.ResponseWriter, r *http.Request, code string, err error, message string) {
	entry := s.logger.WithFields(log.Fields{
		"code":   code,
		"path":   r.URL.Path,
		"method": r.Method,
	}).WithContext(r.Context())
	if err != nil {
		entry = entry.WithError(err)
	}
	if strings.TrimSpace(message) == "" {
		message = "phoneauth server error"
	}
	entry.Error(message)
	serverErr(w, code)
}

// attemptResp is the body for every phone step, success or failure.
type attemptResp struct {
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	AttemptToken string `json:"attempt_token,omitempty"`
	State        string `json:"state"`
	Recoverable  bool   `json:"recoverable,omitempty"`
	// OrganizationRequired is set while the attempt waits for SelectOrganization.
	OrganizationRequired bool `json:"organization_required,omitempty"`
}

func stepErrResp(err error, a core.Attempt, token string) attemptResp {
	resp := attemptResp{
		Error:       core.PublicCode(err),
		Message:     core.PublicMessage(err),
		State:       string(a.State),
		Recoverable: a.Recoverable,
	}
	if !a.Done() {
		resp.AttemptToken = token
	}
	return resp
}
