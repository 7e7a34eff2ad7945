package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// MinScheduleInterval is the minimum allowed interval between passes.
const MinScheduleInterval = 1 * time.Minute

// Parser is a cron parser configured for standard 5-field cron expressions.
// It uses the standard minute, hour, day-of-month, month, day-of-week format.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// GetScheduleInterval estimates the typical interval between scheduled runs.
func GetScheduleInterval(expr string) (time.Duration, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	next := schedule.Next(now)
	nextNext := schedule.Next(next)

	return nextNext.Sub(next), nil
}

// ValidateSchedule rejects invalid expressions and schedules more frequent
// than MinScheduleInterval.
func ValidateSchedule(expr string) error {
	interval, err := GetScheduleInterval(expr)
	if err != nil {
		return err
	}
	if interval < MinScheduleInterval {
		return fmt.Errorf("schedule interval %v is less than minimum allowed %v", interval, MinScheduleInterval)
	}
	return nil
}
