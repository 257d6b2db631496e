package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tick is one live update for a symbol. A nil Volume means the feed sent
// only the candle.
type Tick struct {
	SymbolID int64
	Candle   Candle
	Volume   *VolumeBar
}

// tickPayload is the JSON shape of a tick frame body.
type tickPayload struct {
	Candle *Candle    `json:"candle"`
	Volume *VolumeBar `json:"volume"`
}

// DecodeTick parses a tick payload for the given symbol and validates it.
func DecodeTick(symbolID int64, payload []byte) (Tick, error) {
	var p tickPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if p.Candle == nil {
		return Tick{}, errors.New("decode tick: missing candle")
	}
	if err := p.Candle.Validate(); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if p.Volume != nil {
		if err := p.Volume.Validate(); err != nil {
			return Tick{}, fmt.Errorf("decode tick: %w", err)
		}
		if p.Volume.Time != p.Candle.Time {
			return Tick{}, fmt.Errorf("decode tick: volume time %d does not match candle time %d", p.Volume.Time, p.Candle.Time)
		}
	}
	return Tick{SymbolID: symbolID, Candle: *p.Candle, Volume: p.Volume}, nil
}

// EncodeTick renders a tick in the same shape DecodeTick accepts.
func EncodeTick(t Tick) ([]byte, error) {
	c := t.Candle
	return json.Marshal(tickPayload{Candle: &c, Volume: t.Volume})
}
