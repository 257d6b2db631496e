package ports

import (
	"context"

	"ecoStock/internal/domain"
)

// SellJournal stores the local history of sell orders submitted from this client.
type SellJournal interface {
	// RecordSubmitted saves a pending sell order and returns its assigned ID.
	RecordSubmitted(ctx context.Context, order domain.SellOrder) (int64, error)
	// MarkSettled moves a pending order to settled with the server receipt.
	MarkSettled(ctx context.Context, clientOrderID string, receipt domain.SellReceipt) error
	// MarkFailed moves a pending order to failed with the message shown to the user.
	MarkFailed(ctx context.Context, clientOrderID string, message string) error
	// FindBySymbol retrieves the most recent orders for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.SellRecord, error)
}
