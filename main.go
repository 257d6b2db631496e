package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"ecoStock/config"
	"ecoStock/internal/adapters/sqlite"
	"ecoStock/internal/app"
	"ecoStock/internal/bootstrap"
	"ecoStock/internal/chart"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := bootstrap.NewLogger(cfg)

	// 3. Initialize Sell Journal (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Market Backend
	backend, err := bootstrap.NewBackend(cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market backend")
		log.Fatalf("FATAL: Failed to initialize market backend: %v", err)
	}

	// 5. Initialize Market View. Headless runs draw into an off-screen terminal surface.
	screen := chart.NewTermScreen(chart.DefaultPalette())
	view, err := bootstrap.NewMarketView(cfg, appLogger, backend, screen.Factory(), bootstrap.ViewDeps{Journal: repo})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market view")
		log.Fatalf("FATAL: Failed to initialize market view: %v", err)
	}
	appLogger.Info(context.Background(), "Market view initialized")

	// 6. Run until interrupted
	if err := app.Run(context.Background(), view, cfg.InitialSymbolID); err != nil {
		appLogger.Error(context.Background(), err, "Market view exited with error")
		log.Fatalf("FATAL: Market view exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
