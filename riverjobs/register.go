package riverjobs

import (
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// RegisterReportOrphansWorker registers the orphan report worker into a River workers registry.
func RegisterReportOrphansWorker(ws *river.Workers, store OrphanStore, handler OrphanHandler, logger log.FieldLogger) {
	river.AddWorker(ws, NewReportOrphansWorker(store, handler, logger))
}

// AddReportOrphansPeriodicJob enqueues the report on a cron schedule.
//
// Example cron: "*/30 * * * *" (every 30 minutes).
func AddReportOrphansPeriodicJob[T any](client *river.Client[T], cronSpec string, args ReportOrphansArgs, runOnStart bool) error {
	schedule, err := ParseSchedule(cronSpec)
	if err != nil {
		return err
	}
	opts := args.InsertOpts()
	client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) { return args, &opts },
			&river.PeriodicJobOpts{RunOnStart: runOnStart},
		),
	)
	return nil
}

// ParseSchedule parses a standard five-field cron expression.
func ParseSchedule(cronSpec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule '%s': %w", cronSpec, err)
	}
	return schedule, nil
}
