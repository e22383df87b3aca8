// Package schedule projects a plan's declared weekly fasting schedule onto
// real time. It is pure: no storage, no overrides, no side effects.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fasting/backend/internal/model"
)

var (
	ErrNoScheduledDays  = errors.New("plan has no valid scheduled days")
	ErrInvalidStartTime = errors.New("plan preferred start time is not HH:MM")
	ErrInvalidDuration  = errors.New("plan duration must be positive")
)

// Projection is the schedule's answer for a single instant: either inside a
// fasting window, or eating until the next scheduled start.
type Projection struct {
	Fasting     bool
	WindowStart time.Time
	WindowEnd   time.Time
	NextStart   time.Time
}

// Project computes the current-or-next fasting window for a plan at "now".
// A window belongs to the weekday it starts on; it may run past midnight into
// a day that is not itself scheduled. Deterministic for a given (plan, now)
// including now's location.
func Project(plan *model.Plan, now time.Time) (Projection, error) {
	if plan.DurationHours <= 0 {
		return Projection{}, ErrInvalidDuration
	}
	hour, minute, err := ParseStartTime(plan.PreferredStartTime)
	if err != nil {
		return Projection{}, err
	}
	days, err := weekdaySet(plan.DaysOfWeek)
	if err != nil {
		return Projection{}, err
	}

	duration := time.Duration(plan.DurationHours) * time.Hour

	// A window started up to durationHours ago can still be open, so scan
	// from two days back through the next week.
	var next time.Time
	for offset := -2; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		if !days[day.Weekday()] {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		end := start.Add(duration)
		if !now.Before(start) && now.Before(end) {
			return Projection{Fasting: true, WindowStart: start, WindowEnd: end}, nil
		}
		if start.After(now) && (next.IsZero() || start.Before(next)) {
			next = start
		}
	}
	if next.IsZero() {
		// Scheduled days exist but none produced a candidate; should be
		// unreachable with a 7-day horizon.
		return Projection{}, ErrNoScheduledDays
	}
	return Projection{Fasting: false, NextStart: next}, nil
}

// NextStart returns the first scheduled window start strictly after "after".
func NextStart(plan *model.Plan, after time.Time) (time.Time, error) {
	hour, minute, err := ParseStartTime(plan.PreferredStartTime)
	if err != nil {
		return time.Time{}, err
	}
	days, err := weekdaySet(plan.DaysOfWeek)
	if err != nil {
		return time.Time{}, err
	}

	for offset := 0; offset <= 7; offset++ {
		day := after.AddDate(0, 0, offset)
		if !days[day.Weekday()] {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, after.Location())
		if start.After(after) {
			return start, nil
		}
	}
	return time.Time{}, ErrNoScheduledDays
}

// LastWindow returns the most recent scheduled window that has fully ended
// by "at". ok is false when no window in the scan range has ended yet.
func LastWindow(plan *model.Plan, at time.Time) (start, end time.Time, ok bool, err error) {
	if plan.DurationHours <= 0 {
		return time.Time{}, time.Time{}, false, ErrInvalidDuration
	}
	hour, minute, err := ParseStartTime(plan.PreferredStartTime)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	days, err := weekdaySet(plan.DaysOfWeek)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	duration := time.Duration(plan.DurationHours) * time.Hour
	for offset := 0; offset >= -8; offset-- {
		day := at.AddDate(0, 0, offset)
		if !days[day.Weekday()] {
			continue
		}
		s := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, at.Location())
		e := s.Add(duration)
		if e.After(at) {
			continue
		}
		return s, e, true, nil
	}
	return time.Time{}, time.Time{}, false, nil
}

// ParseStartTime splits a plan's "HH:MM" preferred start into components.
func ParseStartTime(raw string) (hour, minute int, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, ErrInvalidStartTime
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidStartTime
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidStartTime
	}
	return hour, minute, nil
}

func weekdaySet(names []string) (map[time.Weekday]bool, error) {
	if len(names) == 0 {
		return nil, ErrNoScheduledDays
	}
	set := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		wd, ok := weekdayByShortName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown day %q", ErrNoScheduledDays, name)
		}
		set[wd] = true
	}
	return set, nil
}

func weekdayByShortName(name string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd.String()[:3] == name {
			return wd, true
		}
	}
	return 0, false
}
