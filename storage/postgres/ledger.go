// Package pgstore records phone login attempts in Postgres so that partially provisioned
// users, factors and memberships can be found and cleaned up by an operator.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/phoneauth/core"
)

//go:embed schema.sql
var schemaSQL string

// Ledger implements core.AttemptLedger.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Migrate creates the phoneauth schema. Safe to run repeatedly.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schemaSQL)
	return err
}

// RecordAttempt upserts the attempt snapshot and appends the step event.
func (l *Ledger) RecordAttempt(ctx context.Context, e core.AttemptEvent) error {
	a := e.Attempt
	if a.ID == "" {
		return errors.New("pgstore: attempt id is required")
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO phoneauth.login_attempts
				(id, phone_number, email, user_id, organization_id, factor_id, challenge_id,
				 state, recoverable, last_step, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				user_id = COALESCE(EXCLUDED.user_id, phoneauth.login_attempts.user_id),
				organization_id = COALESCE(EXCLUDED.organization_id, phoneauth.login_attempts.organization_id),
				factor_id = COALESCE(EXCLUDED.factor_id, phoneauth.login_attempts.factor_id),
				challenge_id = COALESCE(EXCLUDED.challenge_id, phoneauth.login_attempts.challenge_id),
				state = EXCLUDED.state,
				recoverable = EXCLUDED.recoverable,
				last_step = EXCLUDED.last_step,
				last_error = EXCLUDED.last_error,
				updated_at = EXCLUDED.updated_at`,
			a.ID, a.PhoneNumber, a.Email, nullable(a.UserID), nullable(a.OrganizationID),
			nullable(a.FactorID), nullable(a.ChallengeID), string(a.State), a.Recoverable,
			string(e.Step), e.ErrorCode, e.OccurredAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO phoneauth.login_attempt_events (attempt_id, step, result, error_code, occurred_at)
			VALUES ($1, $2, $3, $4, $5)`,
			a.ID, string(e.Step), string(e.Result), e.ErrorCode, e.OccurredAt)
		return err
	})
}

// StaleAttempt is an attempt that stopped short of a session.
type StaleAttempt struct {
	ID             string
	PhoneNumber    string
	Email          string
	UserID         *string
	OrganizationID *string
	FactorID       *string
	State          core.State
	LastStep       core.Step
	LastError      *string
	UpdatedAt      time.Time
}

// ListStaleAttempts returns unreported attempts not in session_established whose last update
// is before cutoff, oldest first.
func (l *Ledger) ListStaleAttempts(ctx context.Context, cutoff time.Time, limit int) ([]StaleAttempt, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id::text, phone_number, email, user_id, organization_id, factor_id,
		       state, last_step, last_error, updated_at
		FROM phoneauth.login_attempts
		WHERE state <> 'session_established' AND reported_at IS NULL AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StaleAttempt, error) {
		var s StaleAttempt
		var state, step string
		err := row.Scan(&s.ID, &s.PhoneNumber, &s.Email, &s.UserID, &s.OrganizationID, &s.FactorID,
			&state, &step, &s.LastError, &s.UpdatedAt)
		s.State, s.LastStep = core.State(state), core.Step(step)
		return s, err
	})
}

// MarkReported stamps reported_at so an attempt is listed once.
func (l *Ledger) MarkReported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := l.pool.Exec(ctx, `UPDATE phoneauth.login_attempts SET reported_at=$2 WHERE id = ANY($1::uuid[])`, ids, at)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ core.AttemptLedger = (*Ledger)(nil)
