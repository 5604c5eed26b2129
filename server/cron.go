package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is wrapped by ParseCron errors.
var ErrInvalidCron = errors.New("invalid cron expression")

// Five-field expressions only: minute hour day-of-month month day-of-week.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSchedule is a parsed, UTC-only cron expression.
type CronSchedule struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron parses a five-field cron expression. Timezone prefixes
// (CRON_TZ=, TZ=) are rejected; schedules always run in UTC.
func ParseCron(expr string) (*CronSchedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("%w: expression is required", ErrInvalidCron)
	}
	if strings.Contains(strings.ToUpper(clean), "TZ=") {
		return nil, fmt.Errorf("%w: %q: timezone prefixes are not allowed", ErrInvalidCron, clean)
	}
	schedule, err := cronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, clean, err)
	}
	return &CronSchedule{expr: clean, schedule: schedule}, nil
}

// Next returns the first activation strictly after t, in UTC.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t.UTC())
}

// String returns the normalized expression.
func (c *CronSchedule) String() string { return c.expr }
