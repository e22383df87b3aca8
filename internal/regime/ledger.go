package regime

import (
	"context"
	"sync"
	"time"

	"fasting/backend/internal/model"
)

// OverrideStore is the durable backing for the override ledger. The sqlite
// repository implements it in production; tests use an in-memory fake.
type OverrideStore interface {
	LoadOverrides(ctx context.Context, planID string) (*model.RegimeOverrides, error)
	SaveOverrides(ctx context.Context, overrides *model.RegimeOverrides) error
	DeleteOverrides(ctx context.Context, planID string) error
}

// Ledger fronts the OverrideStore with a per-plan in-memory snapshot so the
// 1 Hz evaluation path never touches storage. Setters write through
// immediately; reads come from the cache, which is refreshed only at defined
// moments (request entry, regime start, plan change).
type Ledger struct {
	store OverrideStore

	mu    sync.Mutex
	cache map[string]model.RegimeOverrides
}

func NewLedger(store OverrideStore) *Ledger {
	return &Ledger{
		store: store,
		cache: make(map[string]model.RegimeOverrides),
	}
}

// Refresh re-reads a plan's overrides from storage into the cache.
func (l *Ledger) Refresh(ctx context.Context, planID string) error {
	row, err := l.store.LoadOverrides(ctx, planID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if row == nil {
		l.cache[planID] = model.RegimeOverrides{PlanID: planID}
		return nil
	}
	l.cache[planID] = *row
	return nil
}

// Prime loads a plan's overrides only if the cache has no entry yet, so a
// periodic sweep pays the storage read once per plan, not once per tick.
func (l *Ledger) Prime(ctx context.Context, planID string) error {
	l.mu.Lock()
	_, ok := l.cache[planID]
	l.mu.Unlock()
	if ok {
		return nil
	}
	return l.Refresh(ctx, planID)
}

// Snapshot returns the cached overrides for a plan. A plan never refreshed
// reads as an empty row, which is also what storage would say.
func (l *Ledger) Snapshot(planID string) model.RegimeOverrides {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.cache[planID]; ok {
		return row
	}
	return model.RegimeOverrides{PlanID: planID}
}

func (l *Ledger) SetCustomStart(ctx context.Context, planID string, start time.Time, targetHours int) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		s := start
		h := targetHours
		row.CustomStartTimeOverride = &s
		row.CustomTargetHoursOverride = &h
	})
}

func (l *Ledger) ClearCustomStart(ctx context.Context, planID string) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		row.CustomStartTimeOverride = nil
		row.CustomTargetHoursOverride = nil
	})
}

// MarkWindowEnded records that the window ending at windowEnd was terminated
// manually, so the machine holds the regime in eating instead of re-entering
// the same window.
func (l *Ledger) MarkWindowEnded(ctx context.Context, planID string, windowEnd time.Time) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		e := windowEnd
		row.LastEndedWindowEnd = &e
	})
}

func (l *Ledger) ClearWindowEnded(ctx context.Context, planID string) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		row.LastEndedWindowEnd = nil
	})
}

// MarkWindowRecorded notes that a session for the window ending at windowEnd
// has been durably saved, gating duplicate auto-records.
func (l *Ledger) MarkWindowRecorded(ctx context.Context, planID string, windowEnd time.Time) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		e := windowEnd
		row.LastRecordedFastWindowEnd = &e
	})
}

func (l *Ledger) SetSnooze(ctx context.Context, planID string, until time.Time) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		u := until
		row.SnoozedUntil = &u
	})
}

func (l *Ledger) ClearSnooze(ctx context.Context, planID string) error {
	return l.mutate(ctx, planID, func(row *model.RegimeOverrides) {
		row.SnoozedUntil = nil
	})
}

// Reset clears every override for a plan, used on regime start and plan
// deletion.
func (l *Ledger) Reset(ctx context.Context, planID string) error {
	if err := l.store.DeleteOverrides(ctx, planID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[planID] = model.RegimeOverrides{PlanID: planID}
	return nil
}

// Forget drops a plan's cache entry without touching storage.
func (l *Ledger) Forget(planID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, planID)
}

// mutate holds the lock across load, apply, and save: two concurrent setters
// for the same plan must not overwrite each other's fields.
func (l *Ledger) mutate(ctx context.Context, planID string, apply func(*model.RegimeOverrides)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.cache[planID]
	if !ok {
		loaded, err := l.store.LoadOverrides(ctx, planID)
		if err != nil {
			return err
		}
		if loaded != nil {
			row = *loaded
		} else {
			row = model.RegimeOverrides{PlanID: planID}
		}
	}

	apply(&row)

	if err := l.store.SaveOverrides(ctx, &row); err != nil {
		return err
	}
	l.cache[planID] = row
	return nil
}
