package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fasting/backend/internal/db"
	"fasting/backend/internal/events"
	"fasting/backend/internal/model"
	"fasting/backend/internal/notify"
	"fasting/backend/internal/regime"
	"fasting/backend/internal/repository"
	"fasting/backend/internal/service"
)

type fixture struct {
	sessionSvc *service.SessionService
	planSvc    *service.PlanService
	sessions   *repository.SessionRepository
	ledger     *regime.Ledger
	notifier   *notify.Recording
	userID     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "migrations")
	require.NoError(t, db.RunMigrations(database, migrationsDir))

	userRepo := repository.NewUserRepository(database)
	planRepo := repository.NewPlanRepository(database)
	sessionRepo := repository.NewSessionRepository(database)
	overrideRepo := repository.NewOverrideRepository(database)

	now := time.Now().UTC()
	user := model.User{
		ID:           "user-1",
		Email:        "user@example.com",
		PasswordHash: "irrelevant",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, userRepo.Create(context.Background(), &user))

	th := regime.DefaultThresholds()
	th.RecordRetryDelay = time.Millisecond

	bus := events.NewBus()
	notifier := notify.NewRecording()
	ledger := regime.NewLedger(overrideRepo)
	machine := regime.NewMachine(ledger, th)
	recorder := regime.NewRecorder(machine, ledger, sessionRepo, bus, th)
	planSvc := service.NewPlanService(planRepo, ledger, recorder, notifier, bus)
	sessionSvc := service.NewSessionService(sessionRepo, planSvc, ledger, recorder, notifier, bus, th)

	return &fixture{
		sessionSvc: sessionSvc,
		planSvc:    planSvc,
		sessions:   sessionRepo,
		ledger:     ledger,
		notifier:   notifier,
		userID:     user.ID,
	}
}

// activeRegimePlan creates a plan scheduled every day, activates it, and
// starts its regime. With startedHoursAgo > 0 the preferred start time is
// derived from the wall clock so the current window opened that long ago;
// with 0 the regime starts immediately from "now".
func (f *fixture) activeRegimePlan(t *testing.T, startedHoursAgo int) *model.Plan {
	t.Helper()
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Duration(startedHoursAgo) * time.Hour)
	plan, apiErr := f.planSvc.CreatePlan(ctx, f.userID, service.PlanInput{
		Name:               "16:8 daily",
		DurationHours:      16,
		DaysOfWeek:         model.WeekdayShortNames,
		PreferredStartTime: start.Format("15:04"),
		Active:             true,
	})
	require.Nil(t, apiErr)

	plan, apiErr = f.planSvc.StartRegime(ctx, f.userID, plan.ID, startedHoursAgo == 0)
	require.Nil(t, apiErr)
	return plan
}

func TestStartSessionRejectsSecondActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusActive, first.CompletionStatus)

	_, apiErr = f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.NotNil(t, apiErr)
	assert.Equal(t, "session_already_active", apiErr.Code)
}

func TestEndSessionPastTargetIsCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	backdated := time.Now().UTC().Add(-20 * time.Hour)
	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{
		TargetDurationHours: 16,
		StartTime:           &backdated,
	})
	require.Nil(t, apiErr)
	require.NotNil(t, session.OriginalScheduledStart, "custom start keeps the nominal moment")

	ended, apiErr := f.sessionSvc.EndSession(ctx, f.userID, session.ID, nil)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusCompleted, ended.CompletionStatus)
	require.NotNil(t, ended.EndTime)
	assert.InDelta(t, 20.0, ended.ActualDurationHours(time.Now().UTC()), 0.1)
	assert.False(t, f.sessionSvc.IsEarlyEnd(ended, time.Now().UTC()))
}

func TestEndSessionShortOfTargetIsEarlyEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	backdated := time.Now().UTC().Add(-2 * time.Hour)
	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{
		TargetDurationHours: 16,
		StartTime:           &backdated,
	})
	require.Nil(t, apiErr)

	ended, apiErr := f.sessionSvc.EndSession(ctx, f.userID, session.ID, nil)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusEarlyEnd, ended.CompletionStatus)
	// 2h of 16h is well under the prompt ratio and the end is fresh.
	assert.True(t, f.sessionSvc.IsEarlyEnd(ended, time.Now().UTC()))

	_, apiErr = f.sessionSvc.EndSession(ctx, f.userID, session.ID, nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, "session_not_active", apiErr.Code)
}

func TestContinuePreviousFastReopensSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	backdated := time.Now().UTC().Add(-2 * time.Hour)
	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{
		TargetDurationHours: 16,
		StartTime:           &backdated,
	})
	require.Nil(t, apiErr)
	_, apiErr = f.sessionSvc.EndSession(ctx, f.userID, session.ID, nil)
	require.Nil(t, apiErr)

	resumed, apiErr := f.sessionSvc.ContinuePreviousFast(ctx, f.userID, session.ID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusActive, resumed.CompletionStatus)
	assert.Nil(t, resumed.EndTime)
	assert.True(t, resumed.MergedFromEarlyEnd)
	assert.Equal(t, backdated.Truncate(time.Second), resumed.StartTime.Truncate(time.Second),
		"elapsed clock keeps running from the original start")

	// The reopened session is active again, so it cannot be continued twice.
	_, apiErr = f.sessionSvc.ContinuePreviousFast(ctx, f.userID, session.ID)
	require.NotNil(t, apiErr)
	assert.Equal(t, "session_not_ended", apiErr.Code)
}

func TestAdjustStartTimePreservesOriginalOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.Nil(t, apiErr)
	firstStart := session.StartTime

	moved := firstStart.Add(-time.Hour)
	adjusted, apiErr := f.sessionSvc.AdjustStartTime(ctx, f.userID, session.ID, moved)
	require.Nil(t, apiErr)
	assert.True(t, adjusted.ManuallyEdited)
	require.NotNil(t, adjusted.OriginalScheduledStart)
	assert.Equal(t, firstStart, *adjusted.OriginalScheduledStart)

	again, apiErr := f.sessionSvc.AdjustStartTime(ctx, f.userID, session.ID, moved.Add(-time.Hour))
	require.Nil(t, apiErr)
	assert.Equal(t, firstStart, *again.OriginalScheduledStart, "only the first adjustment is preserved")
}

func TestSkipRegimeFastWithinCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.activeRegimePlan(t, 0)

	_, state, apiErr := f.sessionSvc.RegimeState(ctx, f.userID)
	require.Nil(t, apiErr)
	require.Equal(t, regime.StateFasting, state.Kind)

	session, apiErr := f.sessionSvc.SkipCurrentRegimeFast(ctx, f.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusSkipped, session.CompletionStatus, "under the cutoff the fast never happened")
	assert.True(t, session.Skipped())

	ov := f.ledger.Snapshot(plan.ID)
	require.NotNil(t, ov.LastEndedWindowEnd)
	assert.Equal(t, state.WindowEnd, *ov.LastEndedWindowEnd, "the nominal window end is what gets marked")

	_, after, apiErr := f.sessionSvc.RegimeState(ctx, f.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, regime.StateEating, after.Kind, "a skipped window reads as eating immediately")

	_, apiErr = f.sessionSvc.SkipCurrentRegimeFast(ctx, f.userID)
	require.NotNil(t, apiErr)
	assert.Equal(t, "not_fasting", apiErr.Code)

	assert.Contains(t, f.notifier.Recorded(), "cancelPlan:"+plan.ID)
}

func TestSkipRegimeFastAfterCutoffIsEarlyEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeRegimePlan(t, 2)

	_, state, apiErr := f.sessionSvc.RegimeState(ctx, f.userID)
	require.Nil(t, apiErr)
	require.Equal(t, regime.StateFasting, state.Kind)
	require.InDelta(t, 2.0, time.Now().UTC().Sub(state.WindowStart).Hours(), 0.1)

	session, apiErr := f.sessionSvc.SkipCurrentRegimeFast(ctx, f.userID)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusEarlyEnd, session.CompletionStatus, "past the cutoff the effort counts")
	assert.Equal(t, state.WindowStart, session.StartTime)
}

func TestSnoozeRegimeFastSchedulesResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.activeRegimePlan(t, 2)

	session, apiErr := f.sessionSvc.SnoozeCurrentRegimeFast(ctx, f.userID, 30)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusEarlyEnd, session.CompletionStatus)
	assert.Contains(t, session.Notes, "Snoozed until")

	ov := f.ledger.Snapshot(plan.ID)
	require.NotNil(t, ov.SnoozedUntil)
	assert.InDelta(t, 30.0, ov.SnoozedUntil.Sub(time.Now().UTC()).Minutes(), 1.0)

	_, state, apiErr := f.sessionSvc.RegimeState(ctx, f.userID)
	require.Nil(t, apiErr)
	require.Equal(t, regime.StateEating, state.Kind)
	assert.Equal(t, *ov.SnoozedUntil, state.NextStart, "eating counts down to the pending resume")

	assert.Contains(t, f.notifier.Recorded(), "snooze:"+plan.ID)
}

func TestActiveSessionRoutesStaleToRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := model.Session{
		UserID:              f.userID,
		StartTime:           time.Now().UTC().AddDate(0, 0, -10),
		TargetDurationHours: 16,
		CompletionStatus:    model.StatusActive,
		CreatedAt:           time.Now().UTC().AddDate(0, 0, -10),
	}
	require.NoError(t, f.sessions.InsertSession(ctx, &stale))

	view, apiErr := f.sessionSvc.ActiveSession(ctx, f.userID)
	require.Nil(t, apiErr)
	assert.Nil(t, view.Active)
	require.NotNil(t, view.StaleCandidate)
	assert.Equal(t, stale.ID, view.StaleCandidate.ID)

	resolved, apiErr := f.sessionSvc.ResolveStaleSession(ctx, f.userID, stale.ID, service.ResolveCompleted)
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusCompleted, resolved.CompletionStatus)
	require.NotNil(t, resolved.EndTime)
	assert.Equal(t, stale.StartTime.Add(16*time.Hour), *resolved.EndTime, "resolution closes at the target duration")
	assert.Contains(t, resolved.Notes, "Resolved after app interruption")

	view, apiErr = f.sessionSvc.ActiveSession(ctx, f.userID)
	require.Nil(t, apiErr)
	assert.Nil(t, view.Active)
	assert.Nil(t, view.StaleCandidate)

	// Recovery unblocks new fasts.
	_, apiErr = f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.Nil(t, apiErr)
}

func TestResolveStaleSessionDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := model.Session{
		UserID:              f.userID,
		StartTime:           time.Now().UTC().AddDate(0, 0, -5),
		TargetDurationHours: 16,
		CompletionStatus:    model.StatusActive,
		CreatedAt:           time.Now().UTC().AddDate(0, 0, -5),
	}
	require.NoError(t, f.sessions.InsertSession(ctx, &stale))

	resolved, apiErr := f.sessionSvc.ResolveStaleSession(ctx, f.userID, stale.ID, service.ResolveDiscard)
	require.Nil(t, apiErr)
	assert.Nil(t, resolved)

	_, err := f.sessions.GetSession(ctx, stale.ID)
	assert.Equal(t, repository.ErrNotFound, err)
}

func TestResolveStaleSessionRefusesHealthySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.Nil(t, apiErr)

	// A live, plausibly-aged session is not recoverable state.
	_, apiErr = f.sessionSvc.ResolveStaleSession(ctx, f.userID, session.ID, service.ResolveCompleted)
	require.NotNil(t, apiErr)
	assert.Equal(t, "session_not_stale", apiErr.Code)

	loaded, err := f.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, loaded.CompletionStatus)

	// Neither is one that already ended with a real outcome.
	end := session.StartTime.Add(time.Hour)
	_, apiErr = f.sessionSvc.EndSession(ctx, f.userID, session.ID, &end)
	require.Nil(t, apiErr)

	_, apiErr = f.sessionSvc.ResolveStaleSession(ctx, f.userID, session.ID, service.ResolveDiscard)
	require.NotNil(t, apiErr)
	assert.Equal(t, "session_not_active", apiErr.Code)

	loaded, err = f.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEarlyEnd, loaded.CompletionStatus)
}

func TestResolveStaleSessionRejectsUnknownResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, apiErr := f.sessionSvc.StartSession(ctx, f.userID, service.StartSessionInput{TargetDurationHours: 16})
	require.Nil(t, apiErr)

	_, apiErr = f.sessionSvc.ResolveStaleSession(ctx, f.userID, session.ID, "forget")
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_resolution", apiErr.Code)
}

func TestWeekSummariesBucketMondayToSunday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, age := range []time.Duration{0, 14 * 24 * time.Hour} {
		end := now.Add(-age)
		start := end.Add(-16 * time.Hour)
		session := model.Session{
			ID:                  fmt.Sprintf("session-%d", i),
			UserID:              f.userID,
			StartTime:           start,
			EndTime:             &end,
			TargetDurationHours: 16,
			CompletionStatus:    model.StatusCompleted,
			CreatedAt:           start,
		}
		require.NoError(t, f.sessions.InsertSession(ctx, &session))
	}

	weeks, apiErr := f.sessionSvc.WeekSummaries(ctx, f.userID)
	require.Nil(t, apiErr)
	require.Len(t, weeks, 2)
	assert.True(t, weeks[0].WeekStart.After(weeks[1].WeekStart), "newest week first")
	for _, week := range weeks {
		assert.Equal(t, time.Monday, week.WeekStart.Weekday())
		assert.Equal(t, week.WeekStart.AddDate(0, 0, 6), week.WeekEnd)
		assert.Len(t, week.Sessions, 1)
	}
}
