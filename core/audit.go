package core

import (
	"context"
	"time"
)

// StepResult is the outcome label recorded for each step.
type StepResult string

const (
	ResultOK          StepResult = "ok"
	ResultInvalid     StepResult = "invalid_request"
	ResultProvider    StepResult = "provider_error"
	ResultInvalidCode StepResult = "invalid_code"
	ResultBridge      StepResult = "bridge_failed"
)

// AttemptEvent is a best-effort, append-only record of one step of a login attempt.
// It exists so that partially provisioned users, factors and memberships can be found by an
// administrator; nothing is ever rolled back automatically.
type AttemptEvent struct {
	OccurredAt time.Time
	Attempt    Attempt
	Step       Step
	Result     StepResult
	ErrorCode  *string
}

// AttemptLedger records attempt progress to an external sink (e.g., Postgres).
// Implementations should be fast; failures are logged and never fail the step.
type AttemptLedger interface {
	RecordAttempt(ctx context.Context, e AttemptEvent) error
}

// StepObserver receives one call per completed step (e.g., Prometheus counters).
type StepObserver interface {
	ObserveStep(step Step, result StepResult, elapsed time.Duration)
}

func resultOf(err error) StepResult {
	switch PublicCode(err) {
	case "":
		return ResultOK
	case ErrValidation.Error():
		return ResultInvalid
	case ErrInvalidCode.Error():
		return ResultInvalidCode
	case ErrSessionBridge.Error():
		return ResultBridge
	default:
		return ResultProvider
	}
}
