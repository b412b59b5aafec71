package core

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		err := &StepError{Kind: ErrValidation, Step: StepSubmitPhone, Field: "phone_number"}
		if got := HTTPStatus(err); got != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", got)
		}
	})

	t.Run("invalid_code", func(t *testing.T) {
		err := &StepError{Kind: ErrInvalidCode, Step: StepVerifyChallenge}
		if got := HTTPStatus(err); got != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", got)
		}
	})

	t.Run("bridge", func(t *testing.T) {
		err := &StepError{Kind: ErrSessionBridge, Step: StepSessionBridge, Err: errors.New("x")}
		if got := HTTPStatus(err); got != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", got)
		}
	})

	t.Run("provider", func(t *testing.T) {
		if got := HTTPStatus(errors.New("upstream")); got != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", got)
		}
	})
}
