package domain

import "fmt"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// VolumeColor classifies a volume bar. The set is closed: the feed and the
// snapshot endpoint only ever emit these four tokens.
type VolumeColor string

const (
	VolumeBuy   VolumeColor = "BUY"   // price rose over the interval
	VolumeSell  VolumeColor = "SELL"  // price fell over the interval
	VolumeEmpty VolumeColor = "EMPTY" // no trades in the interval
	VolumeSame  VolumeColor = "SAME"  // trades but no price change
)

// ParseVolumeColor validates a wire token.
func ParseVolumeColor(s string) (VolumeColor, error) {
	switch c := VolumeColor(s); c {
	case VolumeBuy, VolumeSell, VolumeEmpty, VolumeSame:
		return c, nil
	default:
		return "", fmt.Errorf("unknown volume color %q", s)
	}
}

// UnmarshalText lets VolumeColor reject unknown tokens during JSON decoding.
func (c *VolumeColor) UnmarshalText(b []byte) error {
	parsed, err := ParseVolumeColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ConnectionStatus is the state of the push feed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
)

// SellStatus is the lifecycle of a journaled sell order.
type SellStatus string

const (
	SellPending SellStatus = "pending"
	SellSettled SellStatus = "settled"
	SellFailed  SellStatus = "failed"
)
