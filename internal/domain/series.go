package domain

import (
	"sort"
)

// Series is the ordered candle history of one symbol with one volume bar per
// candle. Candle times are strictly ascending.
type Series struct {
	SymbolID int64
	Candles  []Candle
	Volumes  []VolumeBar
}

// NewSeries creates an empty series for a symbol.
func NewSeries(symbolID int64) *Series {
	return &Series{SymbolID: symbolID}
}

// Len returns the number of candles.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// LastTime returns the time of the most recent candle.
func (s *Series) LastTime() (int64, bool) {
	if s.Len() == 0 {
		return 0, false
	}
	return s.Candles[len(s.Candles)-1].Time, true
}

// At returns the candle/volume pair at index i.
func (s *Series) At(i int) Point {
	return Point{Candle: s.Candles[i], Volume: s.Volumes[i]}
}

// Last returns the most recent pair.
func (s *Series) Last() (Point, bool) {
	if s.Len() == 0 {
		return Point{}, false
	}
	return s.At(s.Len() - 1), true
}

// Append adds a point after the current tail. Callers guarantee ordering.
func (s *Series) Append(p Point) {
	s.Candles = append(s.Candles, p.Candle)
	s.Volumes = append(s.Volumes, p.Volume)
}

// ReplaceLast amends the tail in place.
func (s *Series) ReplaceLast(p Point) {
	n := s.Len()
	s.Candles[n-1] = p.Candle
	s.Volumes[n-1] = p.Volume
}

// Clone returns a deep copy that shares no slices with s.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	return &Series{
		SymbolID: s.SymbolID,
		Candles:  append([]Candle(nil), s.Candles...),
		Volumes:  append([]VolumeBar(nil), s.Volumes...),
	}
}

// Snapshot is the point-in-time history returned by the snapshot endpoint.
// Extended holds whitespace times after the last real candle.
type Snapshot struct {
	SymbolID int64       `json:"symbolId"`
	Candles  []Candle    `json:"candles"`
	Volumes  []VolumeBar `json:"volumes"`
	Extended []int64     `json:"extended,omitempty"`
}

// Normalize builds a Series from the snapshot. Candles are sorted, duplicate
// times keep the last occurrence, invalid candles are dropped and every
// candle gets exactly one volume bar. The returned slice lists the problems
// that were corrected.
func (s *Snapshot) Normalize() (*Series, []int64, []error) {
	var problems []error

	byTime := make(map[int64]Candle, len(s.Candles))
	for _, c := range s.Candles {
		if err := c.Validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		byTime[c.Time] = c
	}
	volumes := make(map[int64]VolumeBar, len(s.Volumes))
	for _, v := range s.Volumes {
		if err := v.Validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		volumes[v.Time] = v
	}

	times := make([]int64, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	series := NewSeries(s.SymbolID)
	for _, t := range times {
		v, ok := volumes[t]
		if !ok {
			v = EmptyVolume(t)
		}
		series.Append(Point{Candle: byTime[t], Volume: v})
	}

	last, hasLast := series.LastTime()
	extended := make([]int64, 0, len(s.Extended))
	for _, t := range s.Extended {
		if hasLast && t <= last {
			continue
		}
		extended = append(extended, t)
	}
	sort.Slice(extended, func(i, j int) bool { return extended[i] < extended[j] })

	return series, extended, problems
}
