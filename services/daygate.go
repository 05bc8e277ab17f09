package services

import (
	"fmt"
	"time"

	"cadence/models"
)

// CurrentDay is the number of UTC calendar days between the UTC dates of
// createdAt and now, floored at zero. A cadence created at 23:59 UTC is on
// day 1 at 00:00 UTC.
func CurrentDay(createdAt, now time.Time) int {
	start := utcDate(createdAt)
	end := utcDate(now)
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / (24 * time.Hour))
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func IsDayAvailable(dayOffset, currentDay int) bool {
	return dayOffset <= currentDay
}

// DayGate decides whether a step may run now.
type DayGate struct {
	Clock Clock
}

func NewDayGate(clock Clock) *DayGate {
	if clock == nil {
		clock = SystemClock
	}
	return &DayGate{Clock: clock}
}

func (g *DayGate) CurrentDay(cadence *models.Cadence) int {
	return CurrentDay(cadence.CreatedAt, g.Clock.Now())
}

// Check returns ErrDayGated unless the step's day is live. editMode skips
// the gate for manual testing and backfill.
func (g *DayGate) Check(cadence *models.Cadence, step *models.Step, editMode bool) error {
	if editMode {
		return nil
	}
	current := g.CurrentDay(cadence)
	if !IsDayAvailable(step.DayOffset, current) {
		return fmt.Errorf("%w: step %d runs on day %d, cadence is on day %d", ErrDayGated, step.ID, step.DayOffset, current)
	}
	return nil
}
