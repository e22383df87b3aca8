package service

import (
	"context"
	"time"

	apperrors "fasting/backend/internal/errors"
	"fasting/backend/internal/events"
	"fasting/backend/internal/model"
	"fasting/backend/internal/notify"
	"fasting/backend/internal/regime"
	"fasting/backend/internal/repository"
	"fasting/backend/internal/schedule"
)

// PlanService owns plan records and the regime on/off switch. Exactly one
// plan per user may be active, and activating one deactivates the rest.
type PlanService struct {
	plans    *repository.PlanRepository
	ledger   *regime.Ledger
	recorder *regime.Recorder
	notifier notify.Scheduler
	bus      *events.Bus
}

type PlanInput struct {
	Name                    string   `json:"name"`
	DurationHours           int      `json:"durationHours"`
	DaysOfWeek              []string `json:"daysOfWeek"`
	PreferredStartTime      string   `json:"preferredStartTime"`
	AllowedDrinksPhilosophy string   `json:"allowedDrinksPhilosophy"`
	ReminderEnabled         bool     `json:"reminderEnabled"`
	ReminderMinutesBefore   int      `json:"reminderMinutesBeforeEnd"`
	Active                  bool     `json:"active"`
}

func NewPlanService(
	plans *repository.PlanRepository,
	ledger *regime.Ledger,
	recorder *regime.Recorder,
	notifier notify.Scheduler,
	bus *events.Bus,
) *PlanService {
	return &PlanService{
		plans:    plans,
		ledger:   ledger,
		recorder: recorder,
		notifier: notifier,
		bus:      bus,
	}
}

func (s *PlanService) CreatePlan(ctx context.Context, userID string, input PlanInput) (*model.Plan, *apperrors.APIError) {
	if apiErr := validatePlanInput(input); apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	philosophy := input.AllowedDrinksPhilosophy
	if philosophy == "" {
		philosophy = model.DrinksZeroCal
	}
	plan := model.Plan{
		UserID:                  userID,
		Name:                    input.Name,
		DurationHours:           input.DurationHours,
		DaysOfWeek:              input.DaysOfWeek,
		PreferredStartTime:      input.PreferredStartTime,
		AllowedDrinksPhilosophy: philosophy,
		ReminderEnabled:         input.ReminderEnabled,
		ReminderMinutesBefore:   input.ReminderMinutesBefore,
		CreatedAt:               now,
	}
	if err := s.plans.InsertPlan(ctx, &plan); err != nil {
		return nil, apperrors.Internal("failed to create plan")
	}

	if input.Active {
		activated, apiErr := s.ActivatePlan(ctx, userID, plan.ID)
		if apiErr != nil {
			return nil, apiErr
		}
		return activated, nil
	}
	return &plan, nil
}

func (s *PlanService) ListPlans(ctx context.Context, userID string) ([]model.Plan, *apperrors.APIError) {
	plans, err := s.plans.ListPlans(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to list plans")
	}
	if plans == nil {
		plans = []model.Plan{}
	}
	return plans, nil
}

func (s *PlanService) UpdatePlan(ctx context.Context, userID, planID string, input PlanInput) (*model.Plan, *apperrors.APIError) {
	if apiErr := validatePlanInput(input); apiErr != nil {
		return nil, apiErr
	}

	plan, apiErr := s.ownedPlan(ctx, userID, planID)
	if apiErr != nil {
		return nil, apiErr
	}

	plan.Name = input.Name
	plan.DurationHours = input.DurationHours
	plan.DaysOfWeek = input.DaysOfWeek
	plan.PreferredStartTime = input.PreferredStartTime
	if input.AllowedDrinksPhilosophy != "" {
		plan.AllowedDrinksPhilosophy = input.AllowedDrinksPhilosophy
	}
	plan.ReminderEnabled = input.ReminderEnabled
	plan.ReminderMinutesBefore = input.ReminderMinutesBefore

	if err := s.plans.UpdatePlan(ctx, plan); err != nil {
		return nil, apperrors.Internal("failed to update plan")
	}

	// Schedule boundaries moved; rearm reminders.
	if plan.RegimeActive {
		s.notifier.CancelPlan(plan.ID)
		s.notifier.ScheduleWindowBoundaries(plan)
	}
	return plan, nil
}

// ActivatePlan makes the plan the user's selected plan, deactivating any
// previously active plan in the same transaction.
func (s *PlanService) ActivatePlan(ctx context.Context, userID, planID string) (*model.Plan, *apperrors.APIError) {
	plan, apiErr := s.ownedPlan(ctx, userID, planID)
	if apiErr != nil {
		return nil, apiErr
	}

	tx, err := s.plans.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	if err := s.plans.DeactivateOtherPlansTx(ctx, tx, userID, plan.ID); err != nil {
		return nil, apperrors.Internal("failed to deactivate previous plan")
	}
	plan.Active = true
	if err := s.plans.UpdatePlanTx(ctx, tx, plan); err != nil {
		return nil, apperrors.Internal("failed to activate plan")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}
	return plan, nil
}

func (s *PlanService) DeletePlan(ctx context.Context, userID, planID string) *apperrors.APIError {
	plan, apiErr := s.ownedPlan(ctx, userID, planID)
	if apiErr != nil {
		return apiErr
	}

	// User delete cascades to reminders and override state.
	s.notifier.CancelPlan(plan.ID)
	s.recorder.Drop(plan.ID)
	if err := s.plans.DeletePlan(ctx, plan.ID); err != nil {
		return apperrors.Internal("failed to delete plan")
	}
	s.ledger.Forget(plan.ID)
	s.bus.Publish(events.HistoryUpdated{UserID: userID})
	return nil
}

// StartRegime turns the recurring-schedule engine on for a plan. All override
// state is wiped; with immediate=true the current moment becomes a custom
// window start instead of waiting for the next scheduled occurrence.
func (s *PlanService) StartRegime(ctx context.Context, userID, planID string, immediate bool) (*model.Plan, *apperrors.APIError) {
	plan, apiErr := s.ownedPlan(ctx, userID, planID)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, err := schedule.Project(plan, time.Now().UTC()); err != nil {
		return nil, apperrors.BadRequest("invalid_schedule", "plan schedule cannot be projected: "+err.Error())
	}

	now := time.Now().UTC()
	if err := s.ledger.Reset(ctx, plan.ID); err != nil {
		return nil, apperrors.Internal("failed to reset regime overrides")
	}
	if immediate {
		if err := s.ledger.SetCustomStart(ctx, plan.ID, now, plan.DurationHours); err != nil {
			return nil, apperrors.Internal("failed to set immediate start")
		}
	}

	plan.RegimeActive = true
	plan.RegimeStartedAt = &now
	if err := s.plans.UpdatePlan(ctx, plan); err != nil {
		return nil, apperrors.Internal("failed to start regime")
	}

	if immediate {
		s.notifier.ScheduleImmediate(plan, now)
	} else {
		s.notifier.ScheduleWindowBoundaries(plan)
	}
	return plan, nil
}

func (s *PlanService) StopRegime(ctx context.Context, userID, planID string) (*model.Plan, *apperrors.APIError) {
	plan, apiErr := s.ownedPlan(ctx, userID, planID)
	if apiErr != nil {
		return nil, apiErr
	}

	plan.RegimeActive = false
	plan.RegimeStartedAt = nil
	if err := s.plans.UpdatePlan(ctx, plan); err != nil {
		return nil, apperrors.Internal("failed to stop regime")
	}
	if err := s.ledger.Reset(ctx, plan.ID); err != nil {
		return nil, apperrors.Internal("failed to clear regime overrides")
	}
	s.recorder.Drop(plan.ID)
	s.notifier.CancelPlan(plan.ID)
	return plan, nil
}

// ActivePlan returns the user's selected plan, or a precondition error when
// none is selected.
func (s *PlanService) ActivePlan(ctx context.Context, userID string) (*model.Plan, *apperrors.APIError) {
	plans, err := s.plans.ListPlans(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to list plans")
	}
	for i := range plans {
		if plans[i].Active {
			return &plans[i], nil
		}
	}
	return nil, apperrors.Precondition("no_active_plan", "no active plan found")
}

func (s *PlanService) ownedPlan(ctx context.Context, userID, planID string) (*model.Plan, *apperrors.APIError) {
	plan, err := s.plans.GetPlan(ctx, planID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("plan_not_found", "plan not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get plan")
	}
	if plan.UserID != userID {
		return nil, apperrors.Forbidden("plan belongs to another user")
	}
	return plan, nil
}

func validatePlanInput(input PlanInput) *apperrors.APIError {
	if input.Name == "" {
		return apperrors.BadRequest("invalid_name", "plan name is required")
	}
	if input.DurationHours <= 0 {
		return apperrors.BadRequest("invalid_duration", "durationHours must be positive")
	}
	if len(input.DaysOfWeek) == 0 {
		return apperrors.BadRequest("invalid_days", "at least one scheduled day is required")
	}
	for _, day := range input.DaysOfWeek {
		if !model.IsValidWeekday(day) {
			return apperrors.BadRequest("invalid_days", "unknown weekday "+day)
		}
	}
	if _, _, err := schedule.ParseStartTime(input.PreferredStartTime); err != nil {
		return apperrors.BadRequest("invalid_start_time", "preferredStartTime must be HH:MM")
	}
	if input.AllowedDrinksPhilosophy != "" && !model.IsValidDrinksPhilosophy(input.AllowedDrinksPhilosophy) {
		return apperrors.BadRequest("invalid_drinks_philosophy", "unknown drinks philosophy")
	}
	if input.ReminderMinutesBefore < 0 {
		return apperrors.BadRequest("invalid_reminder", "reminderMinutesBeforeEnd cannot be negative")
	}
	return nil
}
