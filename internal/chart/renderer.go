package chart

import (
	"context"
	"fmt"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

const (
	defaultVisiblePoints = 60
	defaultRightMargin   = 5
)

// Options configures a Renderer.
type Options struct {
	Width         int
	Height        int
	VisiblePoints int // real points shown after (re)initialization
	RightMargin   int // empty slots after the last point
	Palette       Palette
}

// Renderer drives one chart surface: full (re)initialization on symbol
// change, point updates for live ticks.
type Renderer struct {
	factory Factory
	logger  ports.Logger
	opts    Options

	surface   Surface
	candles   CandleSeries
	volumes   VolumeSeries
	separator SeparatorSeries
	lastTime  int64
}

// NewRenderer creates a renderer that builds surfaces with factory.
func NewRenderer(factory Factory, logger ports.Logger, opts Options) (*Renderer, error) {
	if factory == nil || logger == nil {
		return nil, fmt.Errorf("factory and logger are required for Renderer")
	}
	if opts.VisiblePoints <= 0 {
		opts.VisiblePoints = defaultVisiblePoints
	}
	if opts.RightMargin < 0 {
		opts.RightMargin = defaultRightMargin
	}
	if opts.Palette == (Palette{}) {
		opts.Palette = DefaultPalette()
	}
	return &Renderer{factory: factory, logger: logger, opts: opts}, nil
}

// Ready reports whether Initialize has run since the last Dispose.
func (r *Renderer) Ready() bool {
	return r.surface != nil
}

// Surface returns the current surface, or nil before Initialize.
func (r *Renderer) Surface() Surface {
	return r.surface
}

// Initialize discards the previous surface and its series and draws series
// from scratch, with the view scrolled to the most recent points.
func (r *Renderer) Initialize(series *domain.Series, extended []int64) {
	r.Dispose()

	r.surface = r.factory(r.opts.Width, r.opts.Height)
	r.candles = r.surface.AddCandleSeries()
	r.volumes = r.surface.AddVolumeSeries()
	r.separator = r.surface.AddSeparatorSeries()

	n := series.Len()
	candles := make([]domain.Candle, 0, n)
	volumes := make([]VolumePoint, 0, n)
	if n > 0 {
		candles = append(candles, series.Candles...)
		for _, v := range series.Volumes {
			volumes = append(volumes, r.volumePoint(v))
		}
	}
	r.candles.SetData(candles)
	r.volumes.SetData(volumes)

	r.lastTime = 0
	if last, ok := series.LastTime(); ok {
		r.lastTime = last
		r.separator.SetData(last, extended)
	}

	from := n - r.opts.VisiblePoints
	if from < 0 {
		from = 0
	}
	r.surface.SetVisibleRange(LogicalRange{From: from, To: n - 1 + r.opts.RightMargin})
	r.logger.Debug(context.Background(), "Chart initialized", map[string]interface{}{"points": n, "extended": len(extended)})
}

// Update draws one candle and, when given, its volume bar. It never moves
// the visible range. Updates before Initialize are dropped.
func (r *Renderer) Update(c domain.Candle, v *domain.VolumeBar) bool {
	if r.surface == nil {
		return false
	}
	if c.Time < r.lastTime {
		return false
	}
	r.lastTime = c.Time
	r.candles.Update(c)
	if v != nil {
		r.volumes.Update(r.volumePoint(*v))
	}
	return true
}

// Resize changes the surface size and restores the visible range it had.
func (r *Renderer) Resize(width, height int) {
	r.opts.Width, r.opts.Height = width, height
	if r.surface == nil {
		return
	}
	rng, ok := r.surface.VisibleRange()
	r.surface.Resize(width, height)
	if ok {
		r.surface.SetVisibleRange(rng)
	}
}

// Dispose removes the surface and its series.
func (r *Renderer) Dispose() {
	if r.surface == nil {
		return
	}
	r.surface.Remove()
	r.surface, r.candles, r.volumes, r.separator = nil, nil, nil, nil
	r.lastTime = 0
}

func (r *Renderer) volumePoint(v domain.VolumeBar) VolumePoint {
	return VolumePoint{Time: v.Time, Value: v.Value, Color: r.opts.Palette.VolumeColor(v.Color)}
}
