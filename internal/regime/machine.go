package regime

import (
	"context"
	"time"

	"fasting/backend/internal/model"
	"fasting/backend/internal/schedule"
)

// Machine resolves the declared schedule and the override ledger into the one
// current regime state. Evaluation may clear expired ledger entries, so it is
// idempotent rather than pure: repeated calls at the same instant converge on
// the same answer.
type Machine struct {
	ledger *Ledger
	th     Thresholds
}

func NewMachine(ledger *Ledger, th Thresholds) *Machine {
	return &Machine{ledger: ledger, th: th}
}

// Evaluate applies the override precedence rules, first match wins:
//
//  1. snooze pending          -> eating until the snooze expires
//  2. snooze just expired     -> auto-resume a fresh window starting now
//  3. snooze long expired     -> drop the marker, keep evaluating
//  4. manual end still held   -> eating until the next scheduled start
//  5. manual end superseded   -> drop the marker, keep evaluating
//  6. custom start active     -> fasting in the overridden window
//  7. custom start expired    -> drop the override, keep evaluating
//  8. otherwise               -> the pure schedule projection
//
// Manual ends shorten windows, custom starts shift or lengthen them, and both
// decay back to the declared schedule without manual cleanup.
func (m *Machine) Evaluate(ctx context.Context, plan *model.Plan, now time.Time) (State, error) {
	if !plan.RegimeActive {
		return Inactive(), nil
	}

	ov := m.ledger.Snapshot(plan.ID)

	if ov.SnoozedUntil != nil {
		until := *ov.SnoozedUntil
		switch {
		case now.Before(until):
			return Eating(until), nil
		case now.Sub(until) < m.th.SnoozeResumeWindow:
			// Auto-resume: a brand new window anchored at now, not a
			// continuation of the interrupted one.
			if err := m.ledger.ClearSnooze(ctx, plan.ID); err != nil {
				return State{}, err
			}
			if err := m.ledger.ClearWindowEnded(ctx, plan.ID); err != nil {
				return State{}, err
			}
			if err := m.ledger.SetCustomStart(ctx, plan.ID, now, plan.DurationHours); err != nil {
				return State{}, err
			}
			return Fasting(now, now.Add(time.Duration(plan.DurationHours)*time.Hour)), nil
		default:
			// Too old to resume; the user walked away.
			if err := m.ledger.ClearSnooze(ctx, plan.ID); err != nil {
				return State{}, err
			}
			ov.SnoozedUntil = nil
		}
	}

	if ov.LastEndedWindowEnd != nil {
		ended := *ov.LastEndedWindowEnd
		if now.Before(ended.Add(m.th.ManualEndHold)) {
			after := now
			if ended.After(after) {
				after = ended
			}
			next, err := schedule.NextStart(plan, after)
			if err != nil {
				return State{}, err
			}
			return Eating(next), nil
		}
		proj, err := schedule.Project(plan, now)
		if err != nil {
			return State{}, err
		}
		start := proj.NextStart
		if proj.Fasting {
			start = proj.WindowStart
		}
		if start.After(ended) {
			if err := m.ledger.ClearWindowEnded(ctx, plan.ID); err != nil {
				return State{}, err
			}
		}
	}

	if ov.CustomStartTimeOverride != nil {
		start := *ov.CustomStartTimeOverride
		hours := plan.DurationHours
		if ov.CustomTargetHoursOverride != nil {
			hours = *ov.CustomTargetHoursOverride
		}
		end := start.Add(time.Duration(hours) * time.Hour)
		if now.Before(end) {
			return Fasting(start, end), nil
		}
		if err := m.ledger.ClearCustomStart(ctx, plan.ID); err != nil {
			return State{}, err
		}
	}

	proj, err := schedule.Project(plan, now)
	if err != nil {
		return State{}, err
	}
	if proj.Fasting {
		return Fasting(proj.WindowStart, proj.WindowEnd), nil
	}
	return Eating(proj.NextStart), nil
}
