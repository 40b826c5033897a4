package domain

import (
	"strings"
	"time"

	"noodle-backend/pkg/apperrors"

	"github.com/robfig/cron/v3"
)

// maxCatchUp bounds the walk over missed occurrences of very frequent schedules.
const maxCatchUp = 100000

var recurrenceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Recurrence computes occurrences of a schedule string: a 5-field cron
// expression, a descriptor such as @hourly or @daily, or @every <duration>.
type Recurrence struct {
	spec     string
	schedule cron.Schedule
}

func ParseRecurrence(spec string) (*Recurrence, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, apperrors.Invalid("schedule", "empty")
	}
	schedule, err := recurrenceParser.Parse(spec)
	if err != nil {
		return nil, apperrors.Invalid("schedule", "%v", err)
	}
	return &Recurrence{spec: spec, schedule: schedule}, nil
}

func (r *Recurrence) String() string {
	return r.spec
}

// Next returns the first occurrence strictly after t.
func (r *Recurrence) Next(t time.Time) time.Time {
	return r.schedule.Next(t).UTC()
}

// LatestDue returns the latest occurrence in (anchor, now]. Missed occurrences
// collapse into it. ok is false when nothing is due yet.
func (r *Recurrence) LatestDue(anchor, now time.Time) (due time.Time, ok bool) {
	next := r.Next(anchor)
	for i := 0; i < maxCatchUp && !next.After(now); i++ {
		due, ok = next, true
		next = r.Next(next)
	}
	if ok && !next.After(now) {
		// Gave up walking; any occurrence at or before now will do.
		due = now.UTC().Truncate(time.Second)
	}
	return due, ok
}
