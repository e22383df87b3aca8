package regime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fasting/backend/internal/events"
	"fasting/backend/internal/model"
	"fasting/backend/internal/regime"
)

func testThresholds() regime.Thresholds {
	th := regime.DefaultThresholds()
	th.RecordRetryDelay = time.Millisecond
	return th
}

func newRecorder(store *memStore, history *memHistory) (*regime.Recorder, *regime.Ledger) {
	ledger := regime.NewLedger(store)
	machine := regime.NewMachine(ledger, testThresholds())
	recorder := regime.NewRecorder(machine, ledger, history, events.NewBus(), testThresholds())
	return recorder, ledger
}

func TestObserveRecordsCompletedWindowOnce(t *testing.T) {
	store := newMemStore()
	history := &memHistory{}
	ledger := regime.NewLedger(store)
	bus := events.NewBus()
	var updates int
	bus.Subscribe(func(events.HistoryUpdated) { updates++ })
	recorder := regime.NewRecorder(regime.NewMachine(ledger, testThresholds()), ledger, history, bus, testThresholds())
	plan := testPlan()
	ctx := context.Background()

	state, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, regime.StateFasting, state.Kind)

	state, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, regime.StateEating, state.Kind)

	sessions := history.inserted()
	require.Len(t, sessions, 1)
	assert.Equal(t, model.StatusCompleted, sessions[0].CompletionStatus)
	assert.Equal(t, windowStart, sessions[0].StartTime)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, windowEnd, *sessions[0].EndTime)
	assert.Equal(t, "Auto-recorded from regime", sessions[0].Notes)
	assert.Equal(t, 1, updates, "one history-updated event per recorded window")

	ov := ledger.Snapshot(plan.ID)
	require.NotNil(t, ov.LastRecordedFastWindowEnd)
	assert.Equal(t, windowEnd, *ov.LastRecordedFastWindowEnd)

	// Further eating ticks never re-record.
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, history.inserted(), 1)
}

func TestObserveAfterRestartUsesLedgerMarker(t *testing.T) {
	store := newMemStore()
	history := &memHistory{}
	recorder, _ := newRecorder(store, history)
	plan := testPlan()
	ctx := context.Background()

	_, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, history.inserted(), 1)

	// Restart: fresh recorder and ledger cache, same store and history.
	restarted, ledger := newRecorder(store, history)
	require.NoError(t, ledger.Refresh(ctx, plan.ID))
	_, err = restarted.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = restarted.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, history.inserted(), 1, "re-detected window must not duplicate")
}

func TestObserveMatchesPersistedWindowWithoutMarker(t *testing.T) {
	// Marker lost (fresh store) but the session itself survived: timestamp
	// proximity must block the duplicate.
	history := &memHistory{}
	end := windowEnd
	planID := "plan-1"
	history.sessions = append(history.sessions, model.Session{
		ID:                  "existing",
		UserID:              "user-1",
		PlanID:              &planID,
		StartTime:           windowStart.Add(time.Minute),
		EndTime:             &end,
		TargetDurationHours: 16,
		CompletionStatus:    model.StatusCompleted,
	})

	recorder, ledger := newRecorder(newMemStore(), history)
	plan := testPlan()
	ctx := context.Background()

	_, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, history.inserted(), 1, "only the pre-existing session remains")
	require.NotNil(t, ledger.Snapshot(plan.ID).LastRecordedFastWindowEnd, "proximity match re-arms the marker")
}

func TestObserveRefusesSecondCompletionSameDay(t *testing.T) {
	history := &memHistory{}
	otherEnd := windowEnd.Add(-6 * time.Hour) // same calendar day, different window
	history.sessions = append(history.sessions, model.Session{
		ID:                  "earlier-today",
		UserID:              "user-1",
		StartTime:           otherEnd.Add(-14 * time.Hour),
		EndTime:             &otherEnd,
		TargetDurationHours: 14,
		CompletionStatus:    model.StatusCompleted,
	})

	recorder, _ := newRecorder(newMemStore(), history)
	plan := testPlan()
	ctx := context.Background()

	_, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, history.inserted(), 1)
}

func TestObserveRecordsWindowCompletedWhileDown(t *testing.T) {
	store := newMemStore()
	history := &memHistory{}
	recorder, _ := newRecorder(store, history)
	plan := testPlan()
	started := monday
	plan.RegimeStartedAt = &started
	ctx := context.Background()

	// No observation ever saw the window fasting; the process was down
	// across its end. The first look back still records it.
	state, err := recorder.Observe(ctx, plan, windowEnd.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, regime.StateEating, state.Kind)

	sessions := history.inserted()
	require.Len(t, sessions, 1)
	assert.Equal(t, model.StatusCompleted, sessions[0].CompletionStatus)
	assert.Equal(t, windowStart, sessions[0].StartTime)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, windowEnd, *sessions[0].EndTime)

	// Another restart re-detects the same window; the guards keep it single.
	again, _ := newRecorder(store, history)
	_, err = again.Observe(ctx, plan, windowEnd.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, history.inserted(), 1)
}

func TestObserveRecordsExpiredCustomWindowAfterRestart(t *testing.T) {
	store := newMemStore()
	history := &memHistory{}
	plan := testPlan()
	started := monday
	plan.RegimeStartedAt = &started
	ctx := context.Background()

	// Tue 14:00 + 10h ends Wed 00:00, outside any scheduled window.
	customStart := monday.AddDate(0, 0, 1).Add(14 * time.Hour)
	seed := regime.NewLedger(store)
	require.NoError(t, seed.SetCustomStart(ctx, plan.ID, customStart, 10))

	recorder, ledger := newRecorder(store, history)
	require.NoError(t, ledger.Prime(ctx, plan.ID))

	state, err := recorder.Observe(ctx, plan, customStart.Add(11*time.Hour))
	require.NoError(t, err)
	require.Equal(t, regime.StateEating, state.Kind)

	sessions := history.inserted()
	require.Len(t, sessions, 1)
	assert.Equal(t, customStart, sessions[0].StartTime)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, customStart.Add(10*time.Hour), *sessions[0].EndTime)
}

func TestObserveIgnoresWindowsBeforeRegimeStart(t *testing.T) {
	store := newMemStore()
	history := &memHistory{}
	recorder, _ := newRecorder(store, history)
	plan := testPlan()
	started := windowEnd.Add(time.Minute)
	plan.RegimeStartedAt = &started
	ctx := context.Background()

	// Monday's window ended before the regime was even switched on.
	state, err := recorder.Observe(ctx, plan, windowEnd.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, regime.StateEating, state.Kind)
	assert.Empty(t, history.inserted())
}

func TestObserveSafeForConcurrentCallers(t *testing.T) {
	// One recorder instance serves both the periodic sweep and every
	// request handler.
	recorder, _ := newRecorder(newMemStore(), &memHistory{})
	plan := testPlan()
	ctx := context.Background()
	inWindow := windowStart.Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := recorder.Observe(ctx, plan, inWindow)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			recorder.Drop(plan.ID)
		}
	}()
	wg.Wait()

	state, err := recorder.Observe(ctx, plan, inWindow)
	require.NoError(t, err)
	assert.Equal(t, regime.StateFasting, state.Kind)
}

func TestObserveRetriesFailedSave(t *testing.T) {
	history := &memHistory{failNext: 1}
	recorder, _ := newRecorder(newMemStore(), history)
	plan := testPlan()
	ctx := context.Background()

	_, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 2, history.insertCalls)
	assert.Len(t, history.inserted(), 1)
}

func TestObserveSurfacesDoubleFailure(t *testing.T) {
	history := &memHistory{failNext: 2}
	recorder, _ := newRecorder(newMemStore(), history)
	plan := testPlan()
	ctx := context.Background()

	_, err := recorder.Observe(ctx, plan, windowStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = recorder.Observe(ctx, plan, windowEnd.Add(time.Minute))
	require.Error(t, err, "a lost auto-record must not disappear silently")
	assert.Empty(t, history.inserted())
}
