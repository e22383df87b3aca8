package main

import (
	"log"

	"fasting/backend/internal/config"
	"fasting/backend/internal/daemon"
	"fasting/backend/internal/db"
	"fasting/backend/internal/events"
	"fasting/backend/internal/handler"
	"fasting/backend/internal/notify"
	"fasting/backend/internal/regime"
	"fasting/backend/internal/repository"
	"fasting/backend/internal/router"
	"fasting/backend/internal/service"
)

func main() {
	cfg := config.Load()

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsDir); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	userRepo := repository.NewUserRepository(database)
	planRepo := repository.NewPlanRepository(database)
	sessionRepo := repository.NewSessionRepository(database)
	overrideRepo := repository.NewOverrideRepository(database)

	thresholds := regime.DefaultThresholds()
	bus := events.NewBus()
	notifier := notify.NewLogScheduler()
	ledger := regime.NewLedger(overrideRepo)
	machine := regime.NewMachine(ledger, thresholds)
	recorder := regime.NewRecorder(machine, ledger, sessionRepo, bus, thresholds)

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	planService := service.NewPlanService(planRepo, ledger, recorder, notifier, bus)
	sessionService := service.NewSessionService(sessionRepo, planService, ledger, recorder, notifier, bus, thresholds)

	authHandler := handler.NewAuthHandler(authService)
	planHandler := handler.NewPlanHandler(planService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	regimeHandler := handler.NewRegimeHandler(sessionService)

	sweeper, err := daemon.NewSweeper(planRepo, ledger, recorder, cfg.TickInterval)
	if err != nil {
		log.Fatalf("create sweeper: %v", err)
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Printf("stop sweeper: %v", err)
		}
	}()

	engine := router.New(authService, authHandler, planHandler, sessionHandler, regimeHandler, cfg.CORSOrigins)
	log.Printf("backend listening on :%s", cfg.Port)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
