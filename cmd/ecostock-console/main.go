package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ecoStock/config"
	"ecoStock/internal/adapters/logger"
	"ecoStock/internal/adapters/sqlite"
	"ecoStock/internal/bootstrap"
	"ecoStock/internal/chart"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs go to a file.
	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("ecostock-console-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: logFile}).With("console")

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening order history: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	backend, err := bootstrap.NewBackend(cfg, appLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing market backend: %v\n", err)
		os.Exit(1)
	}

	screen := chart.NewTermScreen(chart.DefaultPalette())
	view, err := bootstrap.NewMarketView(cfg, appLogger, backend, screen.Factory(), bootstrap.ViewDeps{Journal: repo})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing market view: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "connecting...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := view.Mount(ctx, cfg.InitialSymbolID); err != nil {
		// Not fatal: the UI shows the failure and offers a reconnect.
		fmt.Fprintf(os.Stderr, " failed: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, " ok")
	}
	cancel()

	p := tea.NewProgram(newModel(view, screen, cfg.RequestTimeout), tea.WithAltScreen())
	_, runErr := p.Run()

	if err := view.Unmount(); err != nil {
		appLogger.Error(context.Background(), err, "Error unmounting market view")
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
