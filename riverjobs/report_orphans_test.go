package riverjobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/phoneauth/core"
	pgstore "github.com/open-rails/phoneauth/storage/postgres"
)

type fakeOrphanStore struct {
	stale    []pgstore.StaleAttempt
	cutoff   time.Time
	reported []string
}

func (f *fakeOrphanStore) ListStaleAttempts(_ context.Context, cutoff time.Time, _ int) ([]pgstore.StaleAttempt, error) {
	f.cutoff = cutoff
	return f.stale, nil
}

func (f *fakeOrphanStore) MarkReported(_ context.Context, ids []string, _ time.Time) error {
	f.reported = append(f.reported, ids...)
	return nil
}

func strptr(s string) *string { return &s }

func TestReportOrphansWorker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeOrphanStore{stale: []pgstore.StaleAttempt{
		{ID: "a1", State: core.StatePhoneEntry, LastStep: core.StepSubmitPhone},
		{ID: "a2", UserID: strptr("user_2"), FactorID: strptr("auth_factor_2"), State: core.StateFailed, LastStep: core.StepChallengeFactor},
	}}
	logger, hook := test.NewNullLogger()
	var handled []string
	w := NewReportOrphansWorker(store, func(_ context.Context, a pgstore.StaleAttempt) error {
		handled = append(handled, a.ID)
		return nil
	}, logger)
	w.now = func() time.Time { return now }

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "job")
	err := w.Work(ctx, &river.Job[ReportOrphansArgs]{Args: ReportOrphansArgs{MinAgeMinutes: 30}})
	require.NoError(t, err)
	require.Equal(t, now.Add(-30*time.Minute), store.cutoff)
	require.Equal(t, []string{"a2"}, handled, "attempts without a platform user need no follow-up")
	require.Equal(t, []string{"a1", "a2"}, store.reported)

	require.Len(t, hook.Entries, 1)
	require.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "auth_factor_2", hook.LastEntry().Data["factor_id"])
	require.Equal(t, "user_2", hook.LastEntry().Data["user_id"])
	require.Equal(t, "job", hook.LastEntry().Context.Value(ctxKey{}), "entries carry the job context")
}

// The worker only needs a FieldLogger, so an entry scoped by the host works too.
func TestReportOrphansWorker_AcceptsEntryLogger(t *testing.T) {
	store := &fakeOrphanStore{stale: []pgstore.StaleAttempt{{ID: "a1", UserID: strptr("user_1")}}}
	logger, hook := test.NewNullLogger()
	w := NewReportOrphansWorker(store, nil, logger.WithField("component", "orphans"))

	require.NoError(t, w.Work(context.Background(), &river.Job[ReportOrphansArgs]{}))
	require.Equal(t, []string{"a1"}, store.reported)
	require.Equal(t, "orphans", hook.LastEntry().Data["component"])
}

func TestReportOrphansWorker_HandlerErrorLeavesBatchUnreported(t *testing.T) {
	store := &fakeOrphanStore{stale: []pgstore.StaleAttempt{{ID: "a1", UserID: strptr("user_1")}}}
	logger, _ := test.NewNullLogger()
	w := NewReportOrphansWorker(store, func(context.Context, pgstore.StaleAttempt) error {
		return errors.New("ticketing down")
	}, logger)

	err := w.Work(context.Background(), &river.Job[ReportOrphansArgs]{})
	require.Error(t, err)
	require.Empty(t, store.reported)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("*/30 * * * *")
	require.NoError(t, err)
	from := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC), s.Next(from))

	_, err = ParseSchedule("not a cron")
	require.Error(t, err)
}
