package index

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/latticeci/lattice/pkg/schema"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ExpiryFromSchedule computes when an artifact produced at the given instant
// stops being trustworthy, based on the kind's rebuild schedule: the next
// scheduled rebuild supersedes it. An empty schedule means the artifact is
// good for 30 days.
func ExpiryFromSchedule(schedule string, producedAt time.Time) (time.Time, error) {
	if producedAt.IsZero() {
		producedAt = time.Now().UTC()
	}
	if schedule == "" {
		return producedAt.Add(30 * 24 * time.Hour), nil
	}
	spec, err := scheduleParser.Parse(schedule)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeConfig,
			"parse rebuild schedule %q", schedule).WithCause(err)
	}
	return spec.Next(producedAt.UTC()), nil
}
