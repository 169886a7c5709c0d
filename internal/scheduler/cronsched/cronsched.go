// Package cronsched resolves P1 cron schedules to their next fire time
//. Kept a pure function
// rather than a running scheduler so callers own the "sleep until vs sleep
// for" decision explicitly instead of a background goroutine hiding it.
package cronsched

import (
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is used when a RepoAssignment has no explicit schedule.
const DefaultSchedule = "0 */6 * * *"

// NextFire parses expr (standard 5-field cron) and returns the next
// activation strictly after now, interpreted in loc. An empty expr falls
// back to DefaultSchedule.
func NextFire(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.In(loc)), nil
}
