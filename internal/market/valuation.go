package market

import (
	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
)

// Valuation is the user's position in one symbol priced at the live price.
type Valuation struct {
	SymbolID        int64
	Empty           bool // no holding loaded or nothing held
	Priced          bool // a live price was available
	Quantity        int64
	CostBasis       decimal.Decimal
	AverageCost     decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentValue    decimal.Decimal
	ProfitLoss      decimal.Decimal
	ProfitPercent   decimal.Decimal
	AvailablePoints decimal.Decimal
}

// Sellable reports whether a sell dialog may be opened for this valuation.
func (v Valuation) Sellable() bool {
	return !v.Empty && v.Priced && v.Quantity > 0
}

// Valuate derives the valuation from a holding and the current point.
// A nil holding (not loaded yet) or a zero quantity gives an empty valuation.
func Valuate(h *domain.HoldingSnapshot, current *domain.Point) Valuation {
	if h == nil {
		return Valuation{Empty: true}
	}
	v := Valuation{SymbolID: h.SymbolID, AvailablePoints: h.AvailablePoints}
	if h.TotalQuantity <= 0 {
		v.Empty = true
		return v
	}

	qty := decimal.NewFromInt(h.TotalQuantity)
	v.Quantity = h.TotalQuantity
	v.CostBasis = h.TotalCostBasis
	v.AverageCost = h.TotalCostBasis.Div(qty)

	if current == nil {
		return v
	}
	v.Priced = true
	v.CurrentPrice = current.Price()
	v.CurrentValue = qty.Mul(v.CurrentPrice)
	v.ProfitLoss = v.CurrentValue.Sub(h.TotalCostBasis)
	if !h.TotalCostBasis.IsZero() {
		v.ProfitPercent = v.ProfitLoss.Div(h.TotalCostBasis).Mul(hundred)
	}
	return v
}
