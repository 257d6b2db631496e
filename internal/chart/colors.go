package chart

import "ecoStock/internal/domain"

// Palette holds the chart colors as lipgloss color strings.
type Palette struct {
	Up        string
	Down      string
	Buy       string
	Sell      string
	Empty     string
	Same      string
	Separator string
	Axis      string
}

// DefaultPalette follows the domestic convention: rising red, falling blue.
func DefaultPalette() Palette {
	return Palette{
		Up:        "#F04452",
		Down:      "#3182F6",
		Buy:       "#F04452",
		Sell:      "#3182F6",
		Empty:     "#4E5968",
		Same:      "#8B95A1",
		Separator: "#6B7684",
		Axis:      "245",
	}
}

// VolumeColor maps every volume color key to a display color.
func (p Palette) VolumeColor(c domain.VolumeColor) string {
	switch c {
	case domain.VolumeBuy:
		return p.Buy
	case domain.VolumeSell:
		return p.Sell
	case domain.VolumeSame:
		return p.Same
	default: // VolumeEmpty; unknown keys never pass VolumeBar.Validate
		return p.Empty
	}
}

// CandleColor picks the body color of a candle.
func (p Palette) CandleColor(c domain.Candle) string {
	if c.Close.LessThan(c.Open) {
		return p.Down
	}
	return p.Up
}
