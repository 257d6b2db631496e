package ports

import (
	"context"

	"ecoStock/internal/domain"
)

// MarketAPI is the request/response side of the market service.
// This abstraction lets the market view run against the eco-stock backend or
// any other provider that can serve candles, holdings and sells.
type MarketAPI interface {
	// ListSymbols returns the tradable symbols.
	ListSymbols(ctx context.Context) ([]domain.Symbol, error)

	// GetSnapshot returns the point-in-time candle history for a symbol.
	GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error)

	// GetHolding returns the user's holding for a symbol.
	// A symbol the user never bought returns a zero-quantity snapshot, not an error.
	GetHolding(ctx context.Context, symbolID int64) (*domain.HoldingSnapshot, error)

	// SubmitSell executes a sell order. Failures carry the server message in an *APIError when available.
	SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error)
}

// FeedMessage is one raw tick frame for a symbol topic.
type FeedMessage struct {
	SymbolID int64
	Payload  []byte
}

// FeedTransport is the push side of the market service.
type FeedTransport interface {
	// Dial opens the connection. onMessage is called from the transport's read goroutine
	// for every tick frame; onDrop is called once if an established connection is lost.
	// Dial returns after the connection is usable or has failed.
	Dial(ctx context.Context, onMessage func(FeedMessage), onDrop func(error)) error

	// Subscribe starts delivery of ticks for a symbol topic.
	Subscribe(ctx context.Context, symbolID int64) error

	// Unsubscribe stops delivery of ticks for a symbol topic.
	Unsubscribe(ctx context.Context, symbolID int64) error

	// Close tears the connection down. onDrop is not called for a requested close.
	Close() error
}
