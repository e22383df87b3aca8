// Package daemon runs the periodic regime sweep: the server-side stand-in
// for the 1 Hz UI tick, so fasting->eating transitions are detected and
// recorded even when no client is polling.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"fasting/backend/internal/regime"
	"fasting/backend/internal/repository"
)

type Sweeper struct {
	scheduler gocron.Scheduler
	plans     *repository.PlanRepository
	ledger    *regime.Ledger
	recorder  *regime.Recorder
}

func NewSweeper(plans *repository.PlanRepository, ledger *regime.Ledger, recorder *regime.Recorder, interval time.Duration) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create sweep scheduler: %w", err)
	}

	sweeper := &Sweeper{
		scheduler: s,
		plans:     plans,
		ledger:    ledger,
		recorder:  recorder,
	}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sweeper.sweep),
		gocron.WithName("regime-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("create regime sweep job: %w", err)
	}

	return sweeper, nil
}

func (s *Sweeper) Start() {
	slog.Info("starting regime sweep")
	s.scheduler.Start()
}

func (s *Sweeper) Stop() error {
	slog.Info("stopping regime sweep")
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	now := time.Now().UTC()

	plans, err := s.plans.ListRegimeActivePlans(ctx)
	if err != nil {
		slog.Error("regime sweep: list plans", slog.String("error", err.Error()))
		return
	}

	for i := range plans {
		plan := &plans[i]
		// First sight of a plan after startup loads its overrides; later
		// ticks stay in memory.
		if err := s.ledger.Prime(ctx, plan.ID); err != nil {
			slog.Error("regime sweep: prime overrides",
				slog.String("planId", plan.ID),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := s.recorder.Observe(ctx, plan, now); err != nil {
			slog.Error("regime sweep: observe",
				slog.String("planId", plan.ID),
				slog.String("error", err.Error()))
		}
	}
}
