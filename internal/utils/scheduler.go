package utils

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// ScheduleJobDef turns a schedule string into a gocron job definition.
// Three forms are accepted: a Go duration ("90m", "1h30m"), a daily
// clock time ("04:05"), or a five-field cron expression.
func ScheduleJobDef(spec string) (gocron.JobDefinition, error) {
	if dur, err := time.ParseDuration(spec); err == nil {
		return gocron.DurationJob(dur), nil
	}
	if at, err := time.Parse("15:04", spec); err == nil {
		return gocron.DailyJob(1, gocron.NewAtTimes(
			gocron.NewAtTime(uint(at.Hour()), uint(at.Minute()), 0),
		)), nil
	}
	if _, err := cron.ParseStandard(spec); err == nil {
		return gocron.CronJob(spec, false), nil
	}
	return nil, fmt.Errorf("unrecognised schedule %q", spec)
}
