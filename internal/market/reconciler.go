package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// Outcome is what a tick did to the series.
type Outcome int

const (
	Discarded Outcome = iota
	Appended
	Amended
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Amended:
		return "amended"
	default:
		return "discarded"
	}
}

var hundred = decimal.NewFromInt(100)

// PriceState holds the last two accepted points of the live series.
type PriceState struct {
	Previous *domain.Point
	Current  *domain.Point
}

// Next is the single reducer step for an accepted point: the old current
// becomes previous and p becomes current.
func (s PriceState) Next(p domain.Point) PriceState {
	return PriceState{Previous: s.Current, Current: &p}
}

// Change returns the close-to-close change between previous and current.
func (s PriceState) Change() (diff, pct decimal.Decimal, ok bool) {
	if s.Previous == nil || s.Current == nil {
		return decimal.Zero, decimal.Zero, false
	}
	prev := s.Previous.Price()
	diff = s.Current.Price().Sub(prev)
	if prev.IsZero() {
		return diff, decimal.Zero, true
	}
	return diff, diff.Div(prev).Mul(hundred), true
}

// Reconciler merges live ticks into the series loaded for one symbol.
// It is not safe for concurrent use; the market view calls it from its loop.
type Reconciler struct {
	symbolID int64
	series   *domain.Series
	prices   PriceState
}

// NewReconciler seeds a reconciler from an accepted history. The series is
// copied so the loader's cache is never mutated.
func NewReconciler(h *History) *Reconciler {
	series := h.Series.Clone()
	if series == nil {
		series = domain.NewSeries(h.SymbolID)
	}
	return &Reconciler{
		symbolID: h.SymbolID,
		series:   series,
		prices:   PriceState{Previous: h.Previous, Current: h.Current},
	}
}

// SymbolID returns the symbol this reconciler belongs to.
func (r *Reconciler) SymbolID() int64 { return r.symbolID }

// Series returns the live series. Callers must not modify it.
func (r *Reconciler) Series() *domain.Series { return r.series }

// Prices returns the previous/current pair.
func (r *Reconciler) Prices() PriceState { return r.prices }

// Apply merges one tick. A tick newer than the tail is appended, a tick for
// the tail's time amends it in place and an older tick is discarded.
// The returned point is the stored candle/volume pair for appended and
// amended ticks.
func (r *Reconciler) Apply(t domain.Tick) (Outcome, domain.Point, error) {
	if t.SymbolID != r.symbolID {
		return Discarded, domain.Point{}, nil
	}
	if err := t.Candle.Validate(); err != nil {
		return Discarded, domain.Point{}, fmt.Errorf("%w: %w", ports.ErrMalformedTick, err)
	}

	last, ok := r.series.LastTime()
	switch {
	case !ok || t.Candle.Time > last:
		vol := domain.EmptyVolume(t.Candle.Time)
		if t.Volume != nil {
			vol = *t.Volume
		}
		p := domain.Point{Candle: t.Candle, Volume: vol}
		r.series.Append(p)
		r.prices = r.prices.Next(p)
		return Appended, p, nil

	case t.Candle.Time == last:
		prev, _ := r.series.Last()
		vol := prev.Volume
		if t.Volume != nil {
			vol = *t.Volume
		}
		p := domain.Point{Candle: t.Candle, Volume: vol}
		r.series.ReplaceLast(p)
		r.prices = r.prices.Next(p)
		return Amended, p, nil

	default:
		return Discarded, domain.Point{}, nil
	}
}
