package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fasting/backend/internal/model"
)

// OverrideRepository persists the per-plan regime override ledger. It is the
// production regime.OverrideStore.
type OverrideRepository struct {
	db *sql.DB
}

func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// LoadOverrides returns nil (not ErrNotFound) when a plan has no row yet; an
// absent row and an all-null row mean the same thing.
func (r *OverrideRepository) LoadOverrides(ctx context.Context, planID string) (*model.RegimeOverrides, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT plan_id, custom_start_time, custom_target_hours,
		        last_ended_window_end, last_recorded_window_end, snoozed_until
		 FROM regime_overrides WHERE plan_id = ?`,
		planID,
	)

	overrides := model.RegimeOverrides{}
	var customStart, lastEnded, lastRecorded, snoozedUntil sql.NullString
	var customHours sql.NullInt64
	err := row.Scan(
		&overrides.PlanID,
		&customStart,
		&customHours,
		&lastEnded,
		&lastRecorded,
		&snoozedUntil,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan overrides: %w", err)
	}

	overrides.CustomStartTimeOverride, err = parseTimePtr(customStart)
	if err != nil {
		return nil, fmt.Errorf("parse overrides custom_start_time: %w", err)
	}
	if customHours.Valid {
		hours := int(customHours.Int64)
		overrides.CustomTargetHoursOverride = &hours
	}
	overrides.LastEndedWindowEnd, err = parseTimePtr(lastEnded)
	if err != nil {
		return nil, fmt.Errorf("parse overrides last_ended_window_end: %w", err)
	}
	overrides.LastRecordedFastWindowEnd, err = parseTimePtr(lastRecorded)
	if err != nil {
		return nil, fmt.Errorf("parse overrides last_recorded_window_end: %w", err)
	}
	overrides.SnoozedUntil, err = parseTimePtr(snoozedUntil)
	if err != nil {
		return nil, fmt.Errorf("parse overrides snoozed_until: %w", err)
	}
	return &overrides, nil
}

func (r *OverrideRepository) SaveOverrides(ctx context.Context, overrides *model.RegimeOverrides) error {
	var customHours interface{}
	if overrides.CustomTargetHoursOverride != nil {
		customHours = *overrides.CustomTargetHoursOverride
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO regime_overrides (
			plan_id, custom_start_time, custom_target_hours,
			last_ended_window_end, last_recorded_window_end, snoozed_until
		 ) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(plan_id) DO UPDATE SET
			custom_start_time = excluded.custom_start_time,
			custom_target_hours = excluded.custom_target_hours,
			last_ended_window_end = excluded.last_ended_window_end,
			last_recorded_window_end = excluded.last_recorded_window_end,
			snoozed_until = excluded.snoozed_until`,
		overrides.PlanID,
		formatTimePtr(overrides.CustomStartTimeOverride),
		customHours,
		formatTimePtr(overrides.LastEndedWindowEnd),
		formatTimePtr(overrides.LastRecordedFastWindowEnd),
		formatTimePtr(overrides.SnoozedUntil),
	)
	if err != nil {
		return fmt.Errorf("save overrides: %w", err)
	}
	return nil
}

func (r *OverrideRepository) DeleteOverrides(ctx context.Context, planID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM regime_overrides WHERE plan_id = ?`, planID)
	if err != nil {
		return fmt.Errorf("delete overrides: %w", err)
	}
	return nil
}
