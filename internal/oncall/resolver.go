// Package oncall resolves who is on call for a schedule at a given instant.
// Resolution is a pure function of the schedule and the instant: overrides
// are consulted first, then rotation arithmetic anchored on rotation_start.
package oncall

import (
	"math"
	"time"

	"github.com/plantwatch/alertcore/internal/alerting"
	"github.com/plantwatch/alertcore/internal/model"
)

// Result is the resolved on-call assignment.
type Result struct {
	ScheduleID string    `json:"schedule_id"`
	UserID     string    `json:"user_id"`
	ShiftStart time.Time `json:"shift_start"`
	ShiftEnd   time.Time `json:"shift_end"`
	Override   bool      `json:"override"`
	Reason     string    `json:"reason,omitempty"`
}

// Resolve returns the user on call at instant t. Overrides win over rotation
// math; when overrides overlap, the first matching one in list order wins.
func Resolve(sched *model.OnCallSchedule, t time.Time) (*Result, error) {
	if !sched.Enabled {
		return nil, alerting.NewErrorf(alerting.KindInvalidSchedule, "schedule %s is disabled", sched.Name)
	}
	if len(sched.Users) == 0 {
		return nil, alerting.NewErrorf(alerting.KindInvalidSchedule, "schedule %s has no users", sched.Name)
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, alerting.NewErrorf(alerting.KindInvalidSchedule, "schedule %s has invalid timezone %q", sched.Name, sched.Timezone)
	}
	local := t.In(loc)

	for _, ov := range sched.Overrides {
		if !local.Before(ov.Start) && !local.After(ov.End) {
			return &Result{
				ScheduleID: sched.ID,
				UserID:     ov.UserID,
				ShiftStart: ov.Start.In(loc),
				ShiftEnd:   ov.End.In(loc),
				Override:   true,
				Reason:     ov.Reason,
			}, nil
		}
	}

	period := rotationPeriod(sched.RotationType)
	start := sched.RotationStart.In(loc)
	delta := local.Sub(start)

	// Floor division keeps instants before rotation_start in the right cycle.
	cycle := int64(math.Floor(float64(delta) / float64(period)))
	idx := int(mod(cycle, int64(len(sched.Users))))

	shiftStart := start.Add(time.Duration(cycle) * period)
	shiftEnd := shiftStart.Add(period).Add(-time.Second)

	return &Result{
		ScheduleID: sched.ID,
		UserID:     sched.Users[idx],
		ShiftStart: shiftStart,
		ShiftEnd:   shiftEnd,
	}, nil
}

func rotationPeriod(rotationType string) time.Duration {
	if rotationType == model.RotationDaily {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// mod is the non-negative remainder of a / b.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
