package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by a Service transition wraps exactly one of these.
var (
	// ErrValidation is a missing or malformed input detected locally; nothing was sent upstream.
	ErrValidation = errors.New("invalid_request")
	// ErrProvider is a failure reported by the identity platform during provisioning,
	// membership, enrollment or challenge steps.
	ErrProvider = errors.New("provider_error")
	// ErrInvalidCode means the platform rejected the submitted code. The attempt may retry
	// verification or request a new challenge.
	ErrInvalidCode = errors.New("invalid_verification_code")
	// ErrSessionBridge means the code was valid but the magic-code exchange or session
	// persistence failed afterwards.
	ErrSessionBridge = errors.New("session_bridge_failed")
)

// StepError carries the failing step and the raw cause alongside the error kind.
type StepError struct {
	Kind  error
	Step  Step
	Field string // set for validation failures
	Err   error  // raw cause (platform or bridge error), may be nil
}

func (e *StepError) Error() string {
	switch {
	case e.Field != "" && e.Err == nil:
		return fmt.Sprintf("%s: %s: %s required", e.Step, e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationErr(step Step, field string) error {
	return &StepError{Kind: ErrValidation, Step: step, Field: field}
}

func providerErr(step Step, err error) error {
	return &StepError{Kind: ErrProvider, Step: step, Err: err}
}

func bridgeErr(step Step, err error) error {
	return &StepError{Kind: ErrSessionBridge, Step: step, Err: err}
}

// PublicCode maps an error to the stable code returned to clients.
func PublicCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return ErrValidation.Error()
	case errors.Is(err, ErrInvalidCode):
		return ErrInvalidCode.Error()
	case errors.Is(err, ErrSessionBridge):
		return ErrSessionBridge.Error()
	default:
		return ErrProvider.Error()
	}
}

// PublicMessage returns a user-facing message. Provider and bridge failures stay generic;
// their detail belongs in logs.
func PublicMessage(err error) string {
	var se *StepError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		if errors.As(err, &se) && se.Field != "" {
			return fmt.Sprintf("Missing %s.", se.Field)
		}
		return "The request is missing required information."
	case errors.Is(err, ErrInvalidCode):
		return "Invalid verification code. Check the code and try again, or request a new one."
	case errors.Is(err, ErrSessionBridge):
		return "Your code was correct, but we couldn't finish signing you in. Please try again."
	default:
		return "We couldn't complete that step. Please try again."
	}
}

// HTTPStatus maps the error kinds to HTTP status codes. Unknown errors count as platform
// failures.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCode):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSessionBridge):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// FailedStep reports which step produced err, or "" when err is not a StepError.
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
