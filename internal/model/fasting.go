package model

import "time"

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusEarlyEnd  = "earlyEnd"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	DrinksWaterOnly  = "water_only"
	DrinksZeroCal    = "zero_calorie"
	DrinksLenient    = "lenient"
	DefaultDurationH = 16
)

// WeekdayShortNames is the canonical weekday vocabulary for Plan.DaysOfWeek,
// matching time.Weekday.String()[:3].
var WeekdayShortNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

type Plan struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"userId"`
	Name                    string     `json:"name"`
	DurationHours           int        `json:"durationHours"`
	DaysOfWeek              []string   `json:"daysOfWeek"`
	PreferredStartTime      string     `json:"preferredStartTime"` // "HH:MM"
	AllowedDrinksPhilosophy string     `json:"allowedDrinksPhilosophy"`
	ReminderEnabled         bool       `json:"reminderEnabled"`
	ReminderMinutesBefore   int        `json:"reminderMinutesBeforeEnd"`
	Active                  bool       `json:"active"`
	RegimeActive            bool       `json:"regimeActive"`
	RegimeStartedAt         *time.Time `json:"regimeStartedAt,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
}

type Session struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"userId"`
	PlanID                 *string    `json:"planId,omitempty"`
	StartTime              time.Time  `json:"startTime"`
	EndTime                *time.Time `json:"endTime,omitempty"`
	TargetDurationHours    int        `json:"targetDurationHours"`
	CompletionStatus       string     `json:"completionStatus"`
	ManuallyEdited         bool       `json:"manuallyEdited"`
	MergedFromEarlyEnd     bool       `json:"mergedFromEarlyEnd"`
	OriginalScheduledStart *time.Time `json:"originalScheduledStart,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// Skipped is derived from the status rather than stored; some history views
// check it independently of CompletionStatus.
func (s *Session) Skipped() bool {
	return s.CompletionStatus == StatusSkipped
}

// ActualDuration is always computed, never stored, so it cannot desync from
// the timestamps. An open session measures up to "now".
func (s *Session) ActualDuration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

func (s *Session) ActualDurationHours(now time.Time) float64 {
	return s.ActualDuration(now).Hours()
}

// RegimeOverrides is the per-plan override ledger row: ephemeral deviations
// from the declared schedule that must survive restarts. Every field is
// individually nullable and individually clearable.
type RegimeOverrides struct {
	PlanID                    string     `json:"planId"`
	CustomStartTimeOverride   *time.Time `json:"customStartTimeOverride,omitempty"`
	CustomTargetHoursOverride *int       `json:"customTargetHoursOverride,omitempty"`
	LastEndedWindowEnd        *time.Time `json:"lastEndedWindowEnd,omitempty"`
	LastRecordedFastWindowEnd *time.Time `json:"lastRecordedFastWindowEnd,omitempty"`
	SnoozedUntil              *time.Time `json:"snoozedUntil,omitempty"`
}

type WeekSummary struct {
	WeekStart time.Time `json:"weekStart"` // Monday 00:00
	WeekEnd   time.Time `json:"weekEnd"`   // Sunday 00:00 (start of day)
	Sessions  []Session `json:"sessions"`
}

func IsValidDrinksPhilosophy(p string) bool {
	return p == DrinksWaterOnly || p == DrinksZeroCal || p == DrinksLenient
}

func IsValidWeekday(name string) bool {
	for _, d := range WeekdayShortNames {
		if d == name {
			return true
		}
	}
	return false
}
