package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Symbol is an entry of the tradable symbol list.
type Symbol struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// HoldingSnapshot is the server's record of the user's position in one symbol.
// It is never mutated locally; a refetch replaces it.
type HoldingSnapshot struct {
	SymbolID        int64           `json:"symbolId"`
	TotalQuantity   int64           `json:"totalQuantity"`
	TotalCostBasis  decimal.Decimal `json:"totalCostBasis"`
	AvailablePoints decimal.Decimal `json:"availablePoints"`
}

// SubscriptionState is the externally visible state of the feed subscription.
type SubscriptionState struct {
	ActiveSymbolID int64 // zero when nothing is subscribed
	HasActive      bool
	Status         ConnectionStatus
}

// SellOrder is fixed at confirmation time and never recomputed.
type SellOrder struct {
	ClientOrderID       uuid.UUID
	SymbolID            int64
	PriceAtConfirmation decimal.Decimal
	Quantity            int64
	ConfirmedAt         time.Time
}

// ExpectedProceeds is quantity times the confirmed price.
func (o SellOrder) ExpectedProceeds() decimal.Decimal {
	return o.PriceAtConfirmation.Mul(decimal.NewFromInt(o.Quantity))
}

// SellReceipt is the server acknowledgement of an executed sell.
type SellReceipt struct {
	OrderID   string          `json:"orderId"`
	SymbolID  int64           `json:"symbolId"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Proceeds  decimal.Decimal `json:"proceeds"`
	SettledAt time.Time       `json:"settledAt"`
}

// SellRecord is a journaled sell order, as kept in the local order history.
type SellRecord struct {
	ID            int64
	ClientOrderID string
	SymbolID      int64
	Price         decimal.Decimal
	Quantity      int64
	Proceeds      decimal.Decimal
	Status        SellStatus
	OrderID       string // empty until settled
	Message       string // failure message, empty otherwise
	CreatedAt     time.Time
	SettledAt     time.Time // zero unless settled
}
