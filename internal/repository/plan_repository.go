package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fasting/backend/internal/model"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

const planColumns = `id, user_id, name, duration_hours, days_of_week, preferred_start_time,
	allowed_drinks_philosophy, reminder_enabled, reminder_minutes_before_end,
	active, regime_active, regime_started_at, created_at`

// InsertPlan assigns the plan its id; callers pass plans with an empty id.
func (r *PlanRepository) InsertPlan(ctx context.Context, plan *model.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.UserID,
		plan.Name,
		plan.DurationHours,
		strings.Join(plan.DaysOfWeek, ","),
		plan.PreferredStartTime,
		plan.AllowedDrinksPhilosophy,
		boolToInt(plan.ReminderEnabled),
		plan.ReminderMinutesBefore,
		boolToInt(plan.Active),
		boolToInt(plan.RegimeActive),
		formatTimePtr(plan.RegimeStartedAt),
		formatTime(plan.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	)
	return scanPlan(row)
}

func (r *PlanRepository) ListPlans(ctx context.Context, userID string) ([]model.Plan, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+planColumns+` FROM plans WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		plan, scanErr := scanPlan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// ListRegimeActivePlans returns every plan with a running regime, across all
// users; the daemon sweep drives transition detection from this set.
func (r *PlanRepository) ListRegimeActivePlans(ctx context.Context) ([]model.Plan, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+planColumns+` FROM plans WHERE regime_active = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("list regime-active plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		plan, scanErr := scanPlan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regime-active plans: %w", err)
	}
	return plans, nil
}

func (r *PlanRepository) UpdatePlan(ctx context.Context, plan *model.Plan) error {
	return r.updatePlan(ctx, r.db.ExecContext, plan)
}

func (r *PlanRepository) UpdatePlanTx(ctx context.Context, tx *sql.Tx, plan *model.Plan) error {
	return r.updatePlan(ctx, tx.ExecContext, plan)
}

type execFunc func(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

func (r *PlanRepository) updatePlan(ctx context.Context, exec execFunc, plan *model.Plan) error {
	_, err := exec(
		ctx,
		`UPDATE plans
		 SET name = ?,
		     duration_hours = ?,
		     days_of_week = ?,
		     preferred_start_time = ?,
		     allowed_drinks_philosophy = ?,
		     reminder_enabled = ?,
		     reminder_minutes_before_end = ?,
		     active = ?,
		     regime_active = ?,
		     regime_started_at = ?
		 WHERE id = ?`,
		plan.Name,
		plan.DurationHours,
		strings.Join(plan.DaysOfWeek, ","),
		plan.PreferredStartTime,
		plan.AllowedDrinksPhilosophy,
		boolToInt(plan.ReminderEnabled),
		plan.ReminderMinutesBefore,
		boolToInt(plan.Active),
		boolToInt(plan.RegimeActive),
		formatTimePtr(plan.RegimeStartedAt),
		plan.ID,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

// DeactivateOtherPlansTx clears the active flag on every other plan of the
// user; activation must be exclusive.
func (r *PlanRepository) DeactivateOtherPlansTx(ctx context.Context, tx *sql.Tx, userID, keepPlanID string) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE plans SET active = 0 WHERE user_id = ? AND id != ?`,
		userID,
		keepPlanID,
	)
	if err != nil {
		return fmt.Errorf("deactivate other plans: %w", err)
	}
	return nil
}

func (r *PlanRepository) DeletePlan(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

func scanPlan(s scanner) (*model.Plan, error) {
	plan := model.Plan{}
	var days string
	var reminderEnabled, active, regimeActive int
	var regimeStartedAt sql.NullString
	var createdAt string
	err := s.Scan(
		&plan.ID,
		&plan.UserID,
		&plan.Name,
		&plan.DurationHours,
		&days,
		&plan.PreferredStartTime,
		&plan.AllowedDrinksPhilosophy,
		&reminderEnabled,
		&plan.ReminderMinutesBefore,
		&active,
		&regimeActive,
		&regimeStartedAt,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	if days != "" {
		plan.DaysOfWeek = strings.Split(days, ",")
	}
	plan.ReminderEnabled = reminderEnabled != 0
	plan.Active = active != 0
	plan.RegimeActive = regimeActive != 0

	plan.RegimeStartedAt, err = parseTimePtr(regimeStartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse plan regime_started_at: %w", err)
	}
	var parsed time.Time
	parsed, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse plan created_at: %w", err)
	}
	plan.CreatedAt = parsed
	return &plan, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
