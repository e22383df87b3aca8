package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "fasting/backend/internal/errors"
	"fasting/backend/internal/events"
	"fasting/backend/internal/model"
	"fasting/backend/internal/notify"
	"fasting/backend/internal/regime"
	"fasting/backend/internal/repository"
)

// SessionService is the only writer of session records. It owns outcome
// classification, the single-active-session invariant, the regime-aware
// skip/snooze paths, and stale-session recovery.
type SessionService struct {
	sessions *repository.SessionRepository
	planSvc  *PlanService
	ledger   *regime.Ledger
	recorder *regime.Recorder
	notifier notify.Scheduler
	bus      *events.Bus
	th       regime.Thresholds
}

func NewSessionService(
	sessions *repository.SessionRepository,
	planSvc *PlanService,
	ledger *regime.Ledger,
	recorder *regime.Recorder,
	notifier notify.Scheduler,
	bus *events.Bus,
	th regime.Thresholds,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		planSvc:  planSvc,
		ledger:   ledger,
		recorder: recorder,
		notifier: notifier,
		bus:      bus,
		th:       th,
	}
}

type StartSessionInput struct {
	PlanID              *string    `json:"planId,omitempty"`
	TargetDurationHours int        `json:"targetDurationHours"`
	StartTime           *time.Time `json:"startTime,omitempty"`
}

// StartSession opens a manual fast. At most one session per user may be
// active, so an existing active session rejects the start.
func (s *SessionService) StartSession(ctx context.Context, userID string, input StartSessionInput) (*model.Session, *apperrors.APIError) {
	if input.TargetDurationHours <= 0 {
		return nil, apperrors.BadRequest("invalid_target", "targetDurationHours must be positive")
	}

	now := time.Now().UTC()
	if _, err := s.sessions.GetActiveSession(ctx, userID); err == nil {
		return nil, apperrors.Conflict("session_already_active", "a fasting session is already active", nil)
	} else if err != repository.ErrNotFound {
		return nil, apperrors.Internal("failed to check active session")
	}

	start := now
	var originalStart *time.Time
	if input.StartTime != nil {
		start = input.StartTime.UTC()
		// Custom start: keep the nominal moment so the deviation stays
		// auditable.
		originalStart = &now
	}

	session := model.Session{
		UserID:                 userID,
		PlanID:                 input.PlanID,
		StartTime:              start,
		TargetDurationHours:    input.TargetDurationHours,
		CompletionStatus:       model.StatusActive,
		OriginalScheduledStart: originalStart,
		CreatedAt:              now,
	}
	if err := s.sessions.InsertSession(ctx, &session); err != nil {
		return nil, apperrors.Internal("failed to create session")
	}
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return &session, nil
}

// EndSession closes an active session and classifies the outcome: reaching
// the target is completed, falling short is earlyEnd.
func (s *SessionService) EndSession(ctx context.Context, userID, sessionID string, endTime *time.Time) (*model.Session, *apperrors.APIError) {
	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.CompletionStatus != model.StatusActive {
		return nil, apperrors.Conflict("session_not_active", "session is already ended", nil)
	}

	end := time.Now().UTC()
	if endTime != nil {
		end = endTime.UTC()
	}
	if !end.After(session.StartTime) {
		return nil, apperrors.BadRequest("invalid_end_time", "end time must be after start time")
	}

	target := time.Duration(session.TargetDurationHours) * time.Hour
	if end.Sub(session.StartTime) >= target {
		session.CompletionStatus = model.StatusCompleted
	} else {
		session.CompletionStatus = model.StatusEarlyEnd
	}
	session.EndTime = &end

	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to end session")
	}
	s.notifier.CancelSession(session)
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// SkipSession abandons an active manual session entirely; it never counts
// toward history totals the way an earlyEnd does.
func (s *SessionService) SkipSession(ctx context.Context, userID, sessionID string) (*model.Session, *apperrors.APIError) {
	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.CompletionStatus != model.StatusActive {
		return nil, apperrors.Conflict("session_not_active", "session is already ended", nil)
	}

	now := time.Now().UTC()
	session.CompletionStatus = model.StatusSkipped
	session.EndTime = &now

	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to skip session")
	}
	s.notifier.CancelSession(session)
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// SnoozeSession postpones a manual session's reminder without changing its
// outcome; the snooze moment is kept in the notes trail.
func (s *SessionService) SnoozeSession(ctx context.Context, userID, sessionID string, minutes int) (*model.Session, *apperrors.APIError) {
	if minutes <= 0 {
		return nil, apperrors.BadRequest("invalid_snooze", "minutes must be positive")
	}
	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.CompletionStatus != model.StatusActive {
		return nil, apperrors.Conflict("session_not_active", "session is already ended", nil)
	}

	until := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
	session.Notes = appendNote(session.Notes, fmt.Sprintf("Snoozed until %s", until.Format("15:04")))
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to snooze session")
	}

	if session.PlanID != nil {
		if plan, planErr := s.planSvc.ownedPlan(ctx, userID, *session.PlanID); planErr == nil {
			s.notifier.ScheduleSnoozeReminder(plan, until)
		}
	}
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// AdjustStartTime moves a session's start and flags the human intervention.
// The first manual adjustment preserves the prior start for auditing.
func (s *SessionService) AdjustStartTime(ctx context.Context, userID, sessionID string, newStart time.Time) (*model.Session, *apperrors.APIError) {
	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.EndTime != nil && !session.EndTime.After(newStart) {
		return nil, apperrors.BadRequest("invalid_start_time", "start time must be before end time")
	}

	if session.OriginalScheduledStart == nil {
		prior := session.StartTime
		session.OriginalScheduledStart = &prior
	}
	session.StartTime = newStart.UTC()
	session.ManuallyEdited = true

	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to adjust session")
	}
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// ContinuePreviousFast reopens a just-ended session so the elapsed clock
// keeps running from the original start. Only offered shortly after an early
// end, and never while another session is active.
func (s *SessionService) ContinuePreviousFast(ctx context.Context, userID, sessionID string) (*model.Session, *apperrors.APIError) {
	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.EndTime == nil || session.CompletionStatus == model.StatusActive {
		return nil, apperrors.Conflict("session_not_ended", "session is still active", nil)
	}

	now := time.Now().UTC()
	if now.Sub(*session.EndTime) > s.th.ContinueWindow {
		return nil, apperrors.Conflict("continue_window_elapsed", "too long since the session ended", nil)
	}
	if _, err := s.sessions.GetActiveSession(ctx, userID); err == nil {
		return nil, apperrors.Conflict("session_already_active", "a fasting session is already active", nil)
	} else if err != repository.ErrNotFound {
		return nil, apperrors.Internal("failed to check active session")
	}

	session.EndTime = nil
	session.CompletionStatus = model.StatusActive
	session.MergedFromEarlyEnd = true

	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to continue session")
	}
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// IsEarlyEnd reports whether an ended session qualifies for the
// continue-previous-fast prompt: well short of target and ended recently.
func (s *SessionService) IsEarlyEnd(session *model.Session, now time.Time) bool {
	if session.EndTime == nil || session.TargetDurationHours <= 0 {
		return false
	}
	if now.Sub(*session.EndTime) > s.th.ContinueWindow {
		return false
	}
	ratio := session.ActualDurationHours(now) / float64(session.TargetDurationHours)
	return ratio < s.th.EarlyEndPromptRatio
}

// RegimeState evaluates the active plan's regime, recording any
// fasting->eating transition crossed since the previous evaluation. This is
// the request-path twin of the daemon sweep.
func (s *SessionService) RegimeState(ctx context.Context, userID string) (*model.Plan, regime.State, *apperrors.APIError) {
	plan, apiErr := s.planSvc.ActivePlan(ctx, userID)
	if apiErr != nil {
		return nil, regime.State{}, apiErr
	}
	// Request entry is a defined refresh moment for the override cache.
	if err := s.ledger.Refresh(ctx, plan.ID); err != nil {
		return nil, regime.State{}, apperrors.Internal("failed to load regime overrides")
	}
	state, err := s.recorder.Observe(ctx, plan, time.Now().UTC())
	if err != nil {
		return nil, regime.State{}, apperrors.Internal("failed to evaluate regime: " + err.Error())
	}
	return plan, state, nil
}

// SkipCurrentRegimeFast abandons the window in progress. Within the skip
// cutoff the fast never really happened (skipped); past it the effort counts
// as an early end. Either way the regime rolls on to its next window.
func (s *SessionService) SkipCurrentRegimeFast(ctx context.Context, userID string) (*model.Session, *apperrors.APIError) {
	plan, state, apiErr := s.regimeFastingWindow(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	status := model.StatusEarlyEnd
	if now.Sub(state.WindowStart) <= s.th.SkipCutoff {
		status = model.StatusSkipped
	}

	session, apiErr := s.closeRegimeWindow(ctx, plan, state, now, status, "Skipped regime fast")
	if apiErr != nil {
		return nil, apiErr
	}

	s.notifier.CancelPlan(plan.ID)
	s.notifier.ScheduleWindowBoundaries(plan)
	return session, nil
}

// SnoozeCurrentRegimeFast interrupts the window and schedules an automatic
// resume. The interrupted effort is kept as a partial earlyEnd record.
func (s *SessionService) SnoozeCurrentRegimeFast(ctx context.Context, userID string, minutes int) (*model.Session, *apperrors.APIError) {
	if minutes <= 0 {
		return nil, apperrors.BadRequest("invalid_snooze", "minutes must be positive")
	}
	plan, state, apiErr := s.regimeFastingWindow(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	until := now.Add(time.Duration(minutes) * time.Minute)

	session, apiErr := s.closeRegimeWindow(ctx, plan, state, now, model.StatusEarlyEnd,
		fmt.Sprintf("Snoozed until %s", until.Format("15:04")))
	if apiErr != nil {
		return nil, apiErr
	}

	if err := s.ledger.SetSnooze(ctx, plan.ID, until); err != nil {
		return nil, apperrors.Internal("failed to store snooze")
	}
	s.notifier.ScheduleSnoozeReminder(plan, until)
	return session, nil
}

// ListSessions returns the user's history, most recent first.
func (s *SessionService) ListSessions(ctx context.Context, userID string, limit int) ([]model.Session, *apperrors.APIError) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to list sessions")
	}
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// ActiveSessionView separates a live active session from a stale one that
// needs a recovery decision before anything can continue.
type ActiveSessionView struct {
	Active         *model.Session `json:"active,omitempty"`
	StaleCandidate *model.Session `json:"staleCandidate,omitempty"`
}

// ActiveSession loads the user's active session, routing implausibly old
// ones to recovery instead of letting them keep counting.
func (s *SessionService) ActiveSession(ctx context.Context, userID string) (*ActiveSessionView, *apperrors.APIError) {
	session, err := s.sessions.GetActiveSession(ctx, userID)
	if err == repository.ErrNotFound {
		return &ActiveSessionView{}, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load active session")
	}

	now := time.Now().UTC()
	if s.isLikelyStale(session, now) {
		return &ActiveSessionView{StaleCandidate: session}, nil
	}
	return &ActiveSessionView{Active: session}, nil
}

const (
	ResolveCompleted = "completed"
	ResolveEarlyEnd  = "earlyEnd"
	ResolveDiscard   = "discard"
)

// ResolveStaleSession applies one of the three terminal recovery decisions.
// Only a session that is both active and implausibly old may be resolved;
// anything else already has a correct status that must not be overwritten.
func (s *SessionService) ResolveStaleSession(ctx context.Context, userID, sessionID, resolution string) (*model.Session, *apperrors.APIError) {
	switch resolution {
	case ResolveCompleted, ResolveEarlyEnd, ResolveDiscard:
	default:
		return nil, apperrors.BadRequest("invalid_resolution", "resolution must be completed, earlyEnd, or discard")
	}

	session, apiErr := s.ownedSession(ctx, userID, sessionID)
	if apiErr != nil {
		return nil, apiErr
	}
	if session.CompletionStatus != model.StatusActive {
		return nil, apperrors.Conflict("session_not_active", "session is already ended", nil)
	}
	if !s.isLikelyStale(session, time.Now().UTC()) {
		return nil, apperrors.Conflict("session_not_stale", "session is not awaiting recovery", nil)
	}

	switch resolution {
	case ResolveCompleted, ResolveEarlyEnd:
		end := session.StartTime.Add(time.Duration(session.TargetDurationHours) * time.Hour)
		session.EndTime = &end
		if resolution == ResolveCompleted {
			session.CompletionStatus = model.StatusCompleted
		} else {
			session.CompletionStatus = model.StatusEarlyEnd
		}
		session.Notes = appendNote(session.Notes, "Resolved after app interruption")
		if err := s.sessions.UpdateSession(ctx, session); err != nil {
			return nil, apperrors.Internal("failed to resolve session")
		}
	case ResolveDiscard:
		if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
			return nil, apperrors.Internal("failed to discard session")
		}
		session = nil
	}

	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return session, nil
}

// WeekSummaries buckets history into Monday-to-Sunday weeks keyed by each
// session's end time (start time while still active), newest week first.
func (s *SessionService) WeekSummaries(ctx context.Context, userID string) ([]model.WeekSummary, *apperrors.APIError) {
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to list sessions")
	}

	byWeek := make(map[time.Time][]model.Session)
	for _, session := range sessions {
		anchor := session.StartTime
		if session.EndTime != nil {
			anchor = *session.EndTime
		}
		week := weekStart(anchor)
		byWeek[week] = append(byWeek[week], session)
	}

	summaries := make([]model.WeekSummary, 0, len(byWeek))
	for week, group := range byWeek {
		summaries = append(summaries, model.WeekSummary{
			WeekStart: week,
			WeekEnd:   week.AddDate(0, 0, 6),
			Sessions:  group,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].WeekStart.After(summaries[j].WeekStart)
	})
	return summaries, nil
}

func (s *SessionService) isLikelyStale(session *model.Session, now time.Time) bool {
	target := time.Duration(session.TargetDurationHours) * time.Hour
	return now.Sub(session.StartTime) > target+s.th.StaleGrace
}

func (s *SessionService) regimeFastingWindow(ctx context.Context, userID string) (*model.Plan, regime.State, *apperrors.APIError) {
	plan, state, apiErr := s.RegimeState(ctx, userID)
	if apiErr != nil {
		return nil, regime.State{}, apiErr
	}
	if state.Kind != regime.StateFasting {
		return nil, regime.State{}, apperrors.Precondition("not_fasting", "no fasting window is in progress")
	}
	return plan, state, nil
}

// closeRegimeWindow persists the interrupted window's session and marks the
// window both ended and recorded so the machine reports eating and the
// recorder never double-writes it. The save is retried once; regime history
// must not vanish silently.
func (s *SessionService) closeRegimeWindow(
	ctx context.Context,
	plan *model.Plan,
	state regime.State,
	now time.Time,
	status string,
	note string,
) (*model.Session, *apperrors.APIError) {
	planID := plan.ID
	end := now
	session := model.Session{
		UserID:              plan.UserID,
		PlanID:              &planID,
		StartTime:           state.WindowStart,
		EndTime:             &end,
		TargetDurationHours: plan.DurationHours,
		CompletionStatus:    status,
		Notes:               note,
		CreatedAt:           now,
	}
	if err := s.sessions.InsertSession(ctx, &session); err != nil {
		time.Sleep(s.th.RecordRetryDelay)
		session.ID = ""
		if retryErr := s.sessions.InsertSession(ctx, &session); retryErr != nil {
			return nil, apperrors.Internal("failed to record interrupted fast")
		}
	}

	if err := s.ledger.MarkWindowEnded(ctx, plan.ID, state.WindowEnd); err != nil {
		return nil, apperrors.Internal("failed to mark window ended")
	}
	if err := s.ledger.MarkWindowRecorded(ctx, plan.ID, state.WindowEnd); err != nil {
		return nil, apperrors.Internal("failed to mark window recorded")
	}
	s.bus.Publish(events.HistoryUpdated{UserID: plan.UserID})
	return &session, nil
}

func (s *SessionService) ownedSession(ctx context.Context, userID, sessionID string) (*model.Session, *apperrors.APIError) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}
	if session.UserID != userID {
		return nil, apperrors.Forbidden("session belongs to another user")
	}
	return session, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// Weekday is Sunday-based; shift so Monday opens the week.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
