package chart

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
)

const axisWidth = 11

// TermScreen keeps track of the surface most recently created by its
// factory so a terminal UI can draw it from its own goroutine.
type TermScreen struct {
	palette Palette

	mu      sync.Mutex
	current *TermSurface
}

// NewTermScreen creates a screen drawing with palette.
func NewTermScreen(palette Palette) *TermScreen {
	return &TermScreen{palette: palette}
}

// Factory returns a Factory producing terminal surfaces bound to this screen.
func (s *TermScreen) Factory() Factory {
	return func(width, height int) Surface {
		ts := newTermSurface(width, height, s.palette)
		s.mu.Lock()
		s.current = ts
		s.mu.Unlock()
		return ts
	}
}

// Render draws the current surface, or an empty string when there is none.
func (s *TermScreen) Render() string {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return ""
	}
	return cur.Render()
}

// TermSurface is a Surface drawn with box characters and lipgloss colors.
type TermSurface struct {
	palette Palette
	styles  map[string]lipgloss.Style

	mu          sync.Mutex
	width       int
	height      int
	candles     []domain.Candle
	volumes     []VolumePoint
	boundary    int64
	hasBoundary bool
	extended    []int64
	rng         LogicalRange
	hasRange    bool
	removed     bool
}

func newTermSurface(width, height int, palette Palette) *TermSurface {
	return &TermSurface{width: width, height: height, palette: palette, styles: make(map[string]lipgloss.Style)}
}

func (s *TermSurface) AddCandleSeries() CandleSeries       { return termCandles{s} }
func (s *TermSurface) AddVolumeSeries() VolumeSeries       { return termVolumes{s} }
func (s *TermSurface) AddSeparatorSeries() SeparatorSeries { return termSeparator{s} }

func (s *TermSurface) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

func (s *TermSurface) VisibleRange() (LogicalRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng, s.hasRange
}

func (s *TermSurface) SetVisibleRange(r LogicalRange) {
	s.mu.Lock()
	s.rng, s.hasRange = r, true
	s.mu.Unlock()
}

func (s *TermSurface) Remove() {
	s.mu.Lock()
	s.removed = true
	s.candles, s.volumes, s.extended = nil, nil, nil
	s.mu.Unlock()
}

type termCandles struct{ s *TermSurface }

func (t termCandles) SetData(candles []domain.Candle) {
	t.s.mu.Lock()
	t.s.candles = append([]domain.Candle(nil), candles...)
	t.s.mu.Unlock()
}

func (t termCandles) Update(c domain.Candle) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := len(t.s.candles)
	switch {
	case n > 0 && t.s.candles[n-1].Time == c.Time:
		t.s.candles[n-1] = c
	case n == 0 || c.Time > t.s.candles[n-1].Time:
		t.s.candles = append(t.s.candles, c)
		t.s.trimExtended(c.Time)
	}
}

type termVolumes struct{ s *TermSurface }

func (t termVolumes) SetData(points []VolumePoint) {
	t.s.mu.Lock()
	t.s.volumes = append([]VolumePoint(nil), points...)
	t.s.mu.Unlock()
}

func (t termVolumes) Update(p VolumePoint) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := len(t.s.volumes)
	switch {
	case n > 0 && t.s.volumes[n-1].Time == p.Time:
		t.s.volumes[n-1] = p
	case n == 0 || p.Time > t.s.volumes[n-1].Time:
		t.s.volumes = append(t.s.volumes, p)
	}
}

type termSeparator struct{ s *TermSurface }

func (t termSeparator) SetData(boundary int64, extended []int64) {
	t.s.mu.Lock()
	t.s.boundary, t.s.hasBoundary = boundary, true
	t.s.extended = append([]int64(nil), extended...)
	t.s.mu.Unlock()
}

// trimExtended drops whitespace slots a live candle has reached.
func (s *TermSurface) trimExtended(t int64) {
	i := 0
	for i < len(s.extended) && s.extended[i] <= t {
		i++
	}
	s.extended = s.extended[i:]
}

type cell struct {
	ch    rune
	color string
}

func (s *TermSurface) style(color string) lipgloss.Style {
	st, ok := s.styles[color]
	if !ok {
		st = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		s.styles[color] = st
	}
	return st
}

// Render draws the visible range as height lines of width columns.
func (s *TermSurface) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed || s.width <= axisWidth || s.height < 4 {
		return ""
	}
	cols := s.width - axisWidth
	volRows := s.height / 5
	if volRows < 2 {
		volRows = 2
	}
	priceRows := s.height - volRows

	slots := len(s.candles) + len(s.extended)
	rng := s.rng
	if !s.hasRange {
		rng = LogicalRange{From: 0, To: slots - 1}
	}
	from, to := rng.From, rng.To
	if to-from+1 > cols {
		from = to - cols + 1
	}
	if from < 0 {
		from = 0
	}

	hi, lo, maxVol := s.bounds(from, to)

	grid := make([][]cell, s.height)
	for r := range grid {
		grid[r] = make([]cell, cols)
		for c := range grid[r] {
			grid[r][c] = cell{ch: ' '}
		}
	}
	rowOf := func(price float64) int {
		if hi <= lo {
			return priceRows / 2
		}
		r := int((hi-price)/(hi-lo)*float64(priceRows-1) + 0.5)
		return clamp(r, 0, priceRows-1)
	}

	boundaryIdx := -1
	for i, c := range s.candles {
		if s.hasBoundary && c.Time == s.boundary {
			boundaryIdx = i
		}
	}

	for i := from; i <= to; i++ {
		col := i - from
		if col >= cols {
			break
		}
		switch {
		case i < len(s.candles):
			c := s.candles[i]
			color := s.palette.CandleColor(c)
			for r := rowOf(c.High.InexactFloat64()); r <= rowOf(c.Low.InexactFloat64()); r++ {
				grid[r][col] = cell{ch: '│', color: color}
			}
			top := rowOf(decimalMax(c.Open, c.Close))
			bottom := rowOf(decimalMin(c.Open, c.Close))
			for r := top; r <= bottom; r++ {
				grid[r][col] = cell{ch: '█', color: color}
			}
			if i < len(s.volumes) && maxVol > 0 {
				v := s.volumes[i]
				h := int(v.Value.InexactFloat64() / maxVol * float64(volRows))
				if h == 0 && v.Value.IsPositive() {
					h = 1
				}
				for k := 0; k < h && k < volRows; k++ {
					grid[s.height-1-k][col] = cell{ch: '█', color: v.Color}
				}
			}
		case i < slots:
			grid[s.height-1][col] = cell{ch: '·', color: s.palette.Separator}
		}
	}

	if sep := boundaryIdx + 1 - from; boundaryIdx >= 0 && sep >= 0 && sep < cols {
		for r := range grid {
			if grid[r][sep].ch == ' ' {
				grid[r][sep] = cell{ch: '┊', color: s.palette.Separator}
			}
		}
	}

	labels := map[int]string{}
	if hi > lo || len(s.candles) > 0 {
		labels[0] = formatAxis(hi)
		labels[priceRows/2] = formatAxis((hi + lo) / 2)
		labels[priceRows-1] = formatAxis(lo)
	}
	if maxVol > 0 {
		labels[priceRows] = formatAxis(maxVol)
	}

	axis := s.style(s.palette.Axis)
	var sb strings.Builder
	for r, row := range grid {
		for _, c := range row {
			if c.color == "" {
				sb.WriteRune(c.ch)
				continue
			}
			sb.WriteString(s.style(c.color).Render(string(c.ch)))
		}
		label := labels[r]
		if len(label) > axisWidth-1 {
			label = label[:axisWidth-1]
		}
		sb.WriteString(axis.Render(fmt.Sprintf(" %-*s", axisWidth-1, label)))
		if r < len(grid)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (s *TermSurface) bounds(from, to int) (hi, lo, maxVol float64) {
	first := true
	for i := from; i <= to && i < len(s.candles); i++ {
		if i < 0 {
			continue
		}
		h, l := s.candles[i].High.InexactFloat64(), s.candles[i].Low.InexactFloat64()
		if first || h > hi {
			hi = h
		}
		if first || l < lo {
			lo = l
		}
		first = false
		if i < len(s.volumes) {
			if v := s.volumes[i].Value.InexactFloat64(); v > maxVol {
				maxVol = v
			}
		}
	}
	return hi, lo, maxVol
}

func formatAxis(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e4:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func decimalMax(a, b decimal.Decimal) float64 {
	return decimal.Max(a, b).InexactFloat64()
}

func decimalMin(a, b decimal.Decimal) float64 {
	return decimal.Min(a, b).InexactFloat64()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
