package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar. Time is the bar's open time in unix seconds.
type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Validate checks that high and low bound the body of the candle.
func (c Candle) Validate() error {
	if c.Time <= 0 {
		return fmt.Errorf("candle time must be positive, got %d", c.Time)
	}
	top := decimal.Max(c.Open, c.Close)
	bottom := decimal.Min(c.Open, c.Close)
	if c.High.LessThan(top) {
		return fmt.Errorf("candle %d: high %s below body top %s", c.Time, c.High, top)
	}
	if c.Low.GreaterThan(bottom) {
		return fmt.Errorf("candle %d: low %s above body bottom %s", c.Time, c.Low, bottom)
	}
	if c.Low.IsNegative() {
		return fmt.Errorf("candle %d: negative low %s", c.Time, c.Low)
	}
	return nil
}

// VolumeBar is the traded volume for the candle with the same Time.
type VolumeBar struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
	Color VolumeColor     `json:"color"`
}

// Validate rejects negative volumes and unknown colors.
func (v VolumeBar) Validate() error {
	if v.Value.IsNegative() {
		return fmt.Errorf("volume %d: negative value %s", v.Time, v.Value)
	}
	if _, err := ParseVolumeColor(string(v.Color)); err != nil {
		return fmt.Errorf("volume %d: %w", v.Time, err)
	}
	return nil
}

// EmptyVolume is the placeholder bar used when a candle arrives without volume.
func EmptyVolume(t int64) VolumeBar {
	return VolumeBar{Time: t, Value: decimal.Zero, Color: VolumeEmpty}
}

// Point pairs a candle with its volume bar.
type Point struct {
	Candle Candle
	Volume VolumeBar
}

// Price is the close of the point's candle.
func (p Point) Price() decimal.Decimal {
	return p.Candle.Close
}
