package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// Repository implements the ports.SellJournal interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/eco_stock.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Debug(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Prices and proceeds are decimal strings so no precision is lost.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sell_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_order_id TEXT NOT NULL UNIQUE,
		symbol_id INTEGER NOT NULL,
		price TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		proceeds TEXT NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT NULL,
		message TEXT NULL,
		created_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sell_orders_symbol_created ON sell_orders (symbol_id, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SellJournal Implementation ---

// RecordSubmitted saves a pending sell order and returns its assigned ID.
func (r *Repository) RecordSubmitted(ctx context.Context, order domain.SellOrder) (int64, error) {
	const query = `
	INSERT INTO sell_orders (client_order_id, symbol_id, price, quantity, proceeds, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := order.ConfirmedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		order.ClientOrderID.String(), order.SymbolID, order.PriceAtConfirmation, order.Quantity,
		order.ExpectedProceeds(), domain.SellPending, createdAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("sell order %s already recorded: %w", order.ClientOrderID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert sell order for symbol %d: %w: %w", order.SymbolID, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for sell order %s: %w", order.ClientOrderID, err)
	}
	r.logger.Debug(ctx, "Sell order recorded", map[string]interface{}{"id": id, "clientOrderId": order.ClientOrderID.String(), "symbolId": order.SymbolID})
	return id, nil
}

// MarkSettled moves a pending order to settled with the server receipt.
func (r *Repository) MarkSettled(ctx context.Context, clientOrderID string, receipt domain.SellReceipt) error {
	const query = `
	UPDATE sell_orders
	SET status = ?, order_id = ?, price = ?, quantity = ?, proceeds = ?, settled_at = ?
	WHERE client_order_id = ? AND status = ?`

	settledAt := receipt.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}
	return r.transition(ctx, "MarkSettled", clientOrderID, query,
		domain.SellSettled, receipt.OrderID, receipt.Price, receipt.Quantity, receipt.Proceeds, settledAt.UTC(),
		clientOrderID, domain.SellPending)
}

// MarkFailed moves a pending order to failed with the message shown to the user.
func (r *Repository) MarkFailed(ctx context.Context, clientOrderID string, message string) error {
	const query = `
	UPDATE sell_orders SET status = ?, message = ?
	WHERE client_order_id = ? AND status = ?`

	return r.transition(ctx, "MarkFailed", clientOrderID, query,
		domain.SellFailed, message, clientOrderID, domain.SellPending)
}

func (r *Repository) transition(ctx context.Context, op, clientOrderID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s failed for sell order %s: %w: %w", op, clientOrderID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for sell order %s: %w", clientOrderID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pending sell order %s not found: %w", clientOrderID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Sell order updated", map[string]interface{}{"clientOrderId": clientOrderID, "operation": op})
	return nil
}

// FindBySymbol retrieves the most recent sell orders for a symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.SellRecord, error) {
	const query = `
	SELECT id, client_order_id, symbol_id, price, quantity, proceeds, status,
	       order_id, message, created_at, settled_at
	FROM sell_orders
	WHERE symbol_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sell orders for symbol %d: %w: %w", symbolID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]*domain.SellRecord, 0)
	for rows.Next() {
		rec, err := scanSellRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sell order during FindBySymbol: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sell order rows: %w", err)
	}
	return records, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSellRecord scans a row into a domain.SellRecord struct.
func scanSellRecord(s scanner) (*domain.SellRecord, error) {
	rec := &domain.SellRecord{}
	var status string
	var orderID, message sql.NullString
	var settledAt sql.NullTime
	err := s.Scan(
		&rec.ID, &rec.ClientOrderID, &rec.SymbolID, &rec.Price, &rec.Quantity, &rec.Proceeds, &status,
		&orderID, &message, &rec.CreatedAt, &settledAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	rec.Status = domain.SellStatus(status)
	rec.OrderID = orderID.String
	rec.Message = message.String
	if settledAt.Valid {
		rec.SettledAt = settledAt.Time
	}
	return rec, nil
}
