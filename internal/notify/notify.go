// Package notify is the scheduling-intent port for fasting reminders. The
// core announces when window boundaries are created, moved, or cancelled;
// delivery mechanics live behind the interface.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"fasting/backend/internal/model"
)

type Scheduler interface {
	// ScheduleWindowBoundaries arms the plan's recurring boundary reminders
	// (fast start, fast end, and the minutes-before-end reminder if enabled).
	ScheduleWindowBoundaries(plan *model.Plan)
	// ScheduleImmediate arms reminders for a window starting now rather than
	// at the next scheduled occurrence.
	ScheduleImmediate(plan *model.Plan, startingAt time.Time)
	// ScheduleSnoozeReminder arms a single reminder near the snooze expiry.
	ScheduleSnoozeReminder(plan *model.Plan, at time.Time)
	CancelPlan(planID string)
	CancelSession(session *model.Session)
}

// LogScheduler records scheduling intent to the log; the default binding for
// a headless deployment.
type LogScheduler struct{}

func NewLogScheduler() *LogScheduler {
	return &LogScheduler{}
}

func (l *LogScheduler) ScheduleWindowBoundaries(plan *model.Plan) {
	slog.Info("schedule window boundary reminders",
		slog.String("planId", plan.ID),
		slog.String("startTime", plan.PreferredStartTime),
		slog.Int("durationHours", plan.DurationHours))
}

func (l *LogScheduler) ScheduleImmediate(plan *model.Plan, startingAt time.Time) {
	slog.Info("schedule immediate reminders",
		slog.String("planId", plan.ID),
		slog.Time("startingAt", startingAt))
}

func (l *LogScheduler) ScheduleSnoozeReminder(plan *model.Plan, at time.Time) {
	slog.Info("schedule snooze reminder",
		slog.String("planId", plan.ID),
		slog.Time("at", at))
}

func (l *LogScheduler) CancelPlan(planID string) {
	slog.Info("cancel plan reminders", slog.String("planId", planID))
}

func (l *LogScheduler) CancelSession(session *model.Session) {
	slog.Info("cancel session reminders", slog.String("sessionId", session.ID))
}

// Recording captures calls for assertions in tests.
type Recording struct {
	mu      sync.Mutex
	Entries []string
}

func NewRecording() *Recording {
	return &Recording{}
}

func (r *Recording) record(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, entry)
}

func (r *Recording) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Entries))
	copy(out, r.Entries)
	return out
}

func (r *Recording) ScheduleWindowBoundaries(plan *model.Plan) {
	r.record("boundaries:" + plan.ID)
}

func (r *Recording) ScheduleImmediate(plan *model.Plan, startingAt time.Time) {
	r.record("immediate:" + plan.ID)
}

func (r *Recording) ScheduleSnoozeReminder(plan *model.Plan, at time.Time) {
	r.record("snooze:" + plan.ID)
}

func (r *Recording) CancelPlan(planID string) {
	r.record("cancelPlan:" + planID)
}

func (r *Recording) CancelSession(session *model.Session) {
	r.record("cancelSession:" + session.ID)
}
