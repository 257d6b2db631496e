package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"ecoStock/config"
	"ecoStock/internal/bootstrap"
	"ecoStock/internal/market"
	"ecoStock/internal/utils"
)

func main() {
	symbolID := flag.Int64("symbol", 0, "symbol id to fetch (defaults to INITIAL_SYMBOL_ID)")
	out := flag.String("out", "", "output file (defaults to data/snapshot_<symbol>_<date>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := bootstrap.NewLogger(cfg)
	ctx := context.Background()

	// 3. Initialize Market API
	backend, err := bootstrap.NewBackend(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market backend")
		log.Fatalf("FATAL: Failed to initialize market backend: %v", err)
	}
	loader, err := market.NewHistoryLoader(backend.API, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize history loader: %v", err)
	}

	id := *symbolID
	if id == 0 {
		id = cfg.InitialSymbolID
	}

	fmt.Printf("Fetching snapshot for symbol %d from %s...\n", id, backend.Provider)
	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	history, err := loader.Load(reqCtx, id)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching snapshot")
		log.Fatalf("Error fetching snapshot: %v", err)
	}
	appLogger.Info(ctx, "Fetched snapshot", map[string]interface{}{"candles": history.Series.Len(), "extended": len(history.Extended)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/snapshot_%d_%s.csv", id, time.Now().Format("20060102_150405"))
	}
	if err := utils.WriteSeriesToCSV(history.Series, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
