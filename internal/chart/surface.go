package chart

import (
	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
)

// LogicalRange is a window over data slots, by index. Slots past the last
// real candle hold extended whitespace or empty margin.
type LogicalRange struct {
	From int
	To   int
}

// VolumePoint is a volume bar resolved to its display color.
type VolumePoint struct {
	Time  int64
	Value decimal.Decimal
	Color string
}

// CandleSeries draws candles.
type CandleSeries interface {
	SetData(candles []domain.Candle)
	Update(c domain.Candle)
}

// VolumeSeries draws the volume histogram.
type VolumeSeries interface {
	SetData(points []VolumePoint)
	Update(p VolumePoint)
}

// SeparatorSeries marks the boundary between historical data and the
// extended range that follows it.
type SeparatorSeries interface {
	SetData(boundary int64, extended []int64)
}

// Surface is a drawing area holding the three series of the market chart.
type Surface interface {
	AddCandleSeries() CandleSeries
	AddVolumeSeries() VolumeSeries
	AddSeparatorSeries() SeparatorSeries
	Resize(width, height int)
	VisibleRange() (LogicalRange, bool)
	SetVisibleRange(r LogicalRange)
	Remove()
}

// Factory creates a surface of the given size.
type Factory func(width, height int) Surface
