package regime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fasting/backend/internal/events"
	"fasting/backend/internal/model"
	"fasting/backend/internal/schedule"
)

// SessionHistory is the slice of session persistence the recorder needs for
// duplicate checks and the auto-record write.
type SessionHistory interface {
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)
	InsertSession(ctx context.Context, session *model.Session) error
}

// Recorder watches consecutive machine evaluations and, on a fasting->eating
// edge, persists a completed session for the window that just closed. It is
// the only component that auto-writes history, and it is deliberately
// paranoid about duplicates: restarts re-detect the same edge, so the ledger
// marker, timestamp proximity, and same-day checks must all pass before a
// write happens.
type Recorder struct {
	machine  *Machine
	ledger   *Ledger
	sessions SessionHistory
	bus      *events.Bus
	th       Thresholds

	// mu guards prev; Observe runs from both the sweep goroutine and
	// request goroutines.
	mu   sync.Mutex
	prev map[string]State
}

func NewRecorder(machine *Machine, ledger *Ledger, sessions SessionHistory, bus *events.Bus, th Thresholds) *Recorder {
	return &Recorder{
		machine:  machine,
		ledger:   ledger,
		sessions: sessions,
		bus:      bus,
		th:       th,
		prev:     make(map[string]State),
	}
}

// Observe evaluates the machine for one plan and records a completed session
// if this evaluation crossed a fasting->eating boundary since the last one.
// The first observation of a plan has no previous state to diff against, so
// it instead checks whether a window completed unobserved (process down or
// restarted across the window end) and records it through the same guarded
// path. Safe for concurrent use by the sweep and request goroutines.
func (r *Recorder) Observe(ctx context.Context, plan *model.Plan, now time.Time) (State, error) {
	r.mu.Lock()
	_, seen := r.prev[plan.ID]
	r.mu.Unlock()

	// The ledger snapshot must be read before Evaluate, which clears
	// expired overrides.
	var missedStart, missedEnd time.Time
	missed := false
	if !seen {
		var err error
		missedStart, missedEnd, missed, err = r.missedWindow(plan, now)
		if err != nil {
			return State{}, err
		}
	}

	state, err := r.machine.Evaluate(ctx, plan, now)
	if err != nil {
		return State{}, err
	}

	r.mu.Lock()
	last, wasSeen := r.prev[plan.ID]
	r.prev[plan.ID] = state
	r.mu.Unlock()

	switch {
	case wasSeen && last.Kind == StateFasting && state.Kind == StateEating:
		if err := r.recordWindow(ctx, plan, last.WindowStart, last.WindowEnd, now); err != nil {
			return state, err
		}
	case missed && state.Kind == StateEating:
		if err := r.recordWindow(ctx, plan, missedStart, missedEnd, now); err != nil {
			return state, err
		}
	}
	return state, nil
}

// Drop clears the transition memory for a plan, e.g. when its regime stops.
func (r *Recorder) Drop(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prev, planID)
}

// missedWindow finds the window most likely to have completed with nobody
// watching: an expired custom window still in the ledger, or the latest
// scheduled window that ended after the regime started and within the
// lookback. The duplicate guards in recordWindow decide whether it is
// actually new.
func (r *Recorder) missedWindow(plan *model.Plan, now time.Time) (start, end time.Time, ok bool, err error) {
	if !plan.RegimeActive || plan.RegimeStartedAt == nil {
		return time.Time{}, time.Time{}, false, nil
	}

	ov := r.ledger.Snapshot(plan.ID)
	if ov.CustomStartTimeOverride != nil {
		hours := plan.DurationHours
		if ov.CustomTargetHoursOverride != nil {
			hours = *ov.CustomTargetHoursOverride
		}
		start = *ov.CustomStartTimeOverride
		end = start.Add(time.Duration(hours) * time.Hour)
		if end.After(now) {
			// Still fasting; nothing completed.
			return time.Time{}, time.Time{}, false, nil
		}
	} else {
		var found bool
		start, end, found, err = schedule.LastWindow(plan, now)
		if err != nil || !found {
			return time.Time{}, time.Time{}, false, err
		}
	}

	if now.Sub(end) > r.th.MissedWindowLookback || !end.After(*plan.RegimeStartedAt) {
		return time.Time{}, time.Time{}, false, nil
	}
	return start, end, true, nil
}

func (r *Recorder) recordWindow(ctx context.Context, plan *model.Plan, windowStart, windowEnd, now time.Time) error {
	ov := r.ledger.Snapshot(plan.ID)
	if ov.LastRecordedFastWindowEnd != nil && absDuration(ov.LastRecordedFastWindowEnd.Sub(windowEnd)) < r.th.RecordedMarkerSlack {
		return nil
	}

	history, err := r.sessions.ListSessions(ctx, plan.UserID)
	if err != nil {
		return fmt.Errorf("load history for duplicate check: %w", err)
	}
	for i := range history {
		s := &history[i]
		if s.EndTime == nil {
			continue
		}
		if absDuration(s.StartTime.Sub(windowStart)) <= r.th.DuplicateProximity &&
			absDuration(s.EndTime.Sub(windowEnd)) <= r.th.DuplicateProximity {
			// Restart re-detected a window that is already on record.
			return r.ledger.MarkWindowRecorded(ctx, plan.ID, windowEnd)
		}
		if s.CompletionStatus == model.StatusCompleted && sameDay(*s.EndTime, windowEnd) {
			// A daily regime cannot legitimately complete twice in one day.
			return nil
		}
	}

	end := windowEnd
	planID := plan.ID
	session := model.Session{
		UserID:              plan.UserID,
		PlanID:              &planID,
		StartTime:           windowStart,
		EndTime:             &end,
		TargetDurationHours: plan.DurationHours,
		CompletionStatus:    model.StatusCompleted,
		Notes:               "Auto-recorded from regime",
		CreatedAt:           now,
	}

	if err := r.sessions.InsertSession(ctx, &session); err != nil {
		slog.Warn("auto-record failed, retrying once",
			slog.String("planId", plan.ID),
			slog.String("error", err.Error()))
		time.Sleep(r.th.RecordRetryDelay)
		session.ID = ""
		if retryErr := r.sessions.InsertSession(ctx, &session); retryErr != nil {
			return fmt.Errorf("auto-record fasting window: %w", retryErr)
		}
	}

	if err := r.ledger.MarkWindowRecorded(ctx, plan.ID, windowEnd); err != nil {
		return err
	}
	r.bus.Publish(events.HistoryUpdated{UserID: plan.UserID})
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
