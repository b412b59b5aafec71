package riverjobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	log "github.com/sirupsen/logrus"

	pgstore "github.com/open-rails/phoneauth/storage/postgres"
)

type ReportOrphansArgs struct {
	// MinAgeMinutes is how long an attempt must have been idle before it is reported.
	MinAgeMinutes int `json:"min_age_minutes,omitempty"`
	BatchSize     int `json:"batch_size,omitempty"`
}

func (ReportOrphansArgs) Kind() string { return "phoneauth_report_orphans" }

func (args ReportOrphansArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
			ByQueue:  true,
		},
	}
}

// OrphanStore is the slice of the attempt ledger the worker needs.
type OrphanStore interface {
	ListStaleAttempts(ctx context.Context, cutoff time.Time, limit int) ([]pgstore.StaleAttempt, error)
	MarkReported(ctx context.Context, ids []string, at time.Time) error
}

// OrphanHandler receives each abandoned attempt, e.g. to open a ticket or page an operator.
// Returning an error leaves the batch unreported so it is retried.
type OrphanHandler func(ctx context.Context, a pgstore.StaleAttempt) error

// ReportOrphansWorker reports attempts that provisioned something at the identity platform
// (a user, a membership or a factor) but never reached a session. Nothing is deleted; the
// platform objects stay until an operator acts on the report.
type ReportOrphansWorker struct {
	river.WorkerDefaults[ReportOrphansArgs]
	store   OrphanStore
	handler OrphanHandler
	logger  log.FieldLogger
	now     func() time.Time
}

func NewReportOrphansWorker(store OrphanStore, handler OrphanHandler, logger log.FieldLogger) *ReportOrphansWorker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ReportOrphansWorker{store: store, handler: handler, logger: logger, now: time.Now}
}

func (w *ReportOrphansWorker) Timeout(*river.Job[ReportOrphansArgs]) time.Duration {
	return 5 * time.Minute
}

func (w *ReportOrphansWorker) Work(ctx context.Context, job *river.Job[ReportOrphansArgs]) error {
	if w == nil || w.store == nil {
		return errors.New("phoneauth orphan report: ledger not configured")
	}
	age := job.Args.MinAgeMinutes
	if age <= 0 {
		age = 60
	}
	batch := job.Args.BatchSize
	if batch <= 0 {
		batch = 500
	}

	now := w.now()
	stale, err := w.store.ListStaleAttempts(ctx, now.Add(-time.Duration(age)*time.Minute), batch)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(stale))
	for _, a := range stale {
		if a.UserID == nil {
			// Nothing was created upstream.
			ids = append(ids, a.ID)
			continue
		}
		entry := w.logger.WithFields(log.Fields{
			"attempt_id": a.ID,
			"user_id":    *a.UserID,
			"state":      string(a.State),
			"last_step":  string(a.LastStep),
		}).WithContext(ctx)
		if a.OrganizationID != nil {
			entry = entry.WithField("organization_id", *a.OrganizationID)
		}
		if a.FactorID != nil {
			entry = entry.WithField("factor_id", *a.FactorID)
		}
		entry.Warn("abandoned phone login left platform objects behind")
		if w.handler != nil {
			if err := w.handler(ctx, a); err != nil {
				return err
			}
		}
		ids = append(ids, a.ID)
	}
	return w.store.MarkReported(ctx, ids, now)
}
