package market

import (
	"context"
	"fmt"
	"sync"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// Feed is the part of FeedConnection the subscription manager drives.
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(ctx context.Context, symbolID int64, handler TickHandler) error
	UnsubscribeAll(ctx context.Context) error
	Status() domain.ConnectionStatus
}

// Phase is the subscription manager's lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseSubscribed Phase = "subscribed"
	PhaseFailed     Phase = "failed"
)

// SubscriptionManager keeps exactly one symbol subscribed on the feed.
// It is the only caller of Subscribe/UnsubscribeAll on the feed.
type SubscriptionManager struct {
	feed   Feed
	logger ports.Logger
	onTick TickHandler

	mu        sync.Mutex // serializes transitions: a switch finishes before the next one starts
	phase     Phase
	active    int64
	hasActive bool
}

// NewSubscriptionManager wires a manager that delivers every tick to onTick.
func NewSubscriptionManager(feed Feed, logger ports.Logger, onTick TickHandler) (*SubscriptionManager, error) {
	if feed == nil || logger == nil || onTick == nil {
		return nil, fmt.Errorf("missing required dependencies for SubscriptionManager")
	}
	return &SubscriptionManager{feed: feed, logger: logger, onTick: onTick, phase: PhaseIdle}, nil
}

// Mount connects once and subscribes the initial symbol.
func (m *SubscriptionManager) Mount(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	return m.switchLocked(ctx, symbolID)
}

// Select switches the subscription to symbolID on the existing connection.
// Selecting the symbol that is already subscribed does nothing.
func (m *SubscriptionManager) Select(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseIdle {
		return fmt.Errorf("SelectSymbol failed: %w: manager not mounted", ports.ErrNotConnected)
	}
	if m.feed.Status() == domain.StatusFailed {
		m.phase = PhaseFailed
	}
	if m.phase == PhaseSubscribed && m.hasActive && m.active == symbolID {
		m.logger.Debug(ctx, "Symbol already subscribed, skipping", map[string]interface{}{"symbolId": symbolID})
		return nil
	}
	if m.phase == PhaseFailed {
		if err := m.connectLocked(ctx); err != nil {
			return err
		}
	}
	return m.switchLocked(ctx, symbolID)
}

// Unmount disconnects and clears the marker.
func (m *SubscriptionManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = PhaseIdle
	m.hasActive = false
	m.active = 0
	return m.feed.Disconnect()
}

// Phase returns the lifecycle state.
func (m *SubscriptionManager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// State reports the active symbol together with the feed status.
func (m *SubscriptionManager) State() domain.SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SubscriptionState{
		ActiveSymbolID: m.active,
		HasActive:      m.hasActive,
		Status:         m.feed.Status(),
	}
}

func (m *SubscriptionManager) connectLocked(ctx context.Context) error {
	m.phase = PhaseConnecting
	if err := m.feed.Connect(ctx); err != nil {
		m.phase = PhaseFailed
		return err
	}
	m.phase = PhaseConnected
	return nil
}

// switchLocked tears down whatever is subscribed and subscribes symbolID.
// The marker is cleared with the teardown and set only once the new
// subscription succeeded, so it never names a symbol that is not subscribed.
func (m *SubscriptionManager) switchLocked(ctx context.Context, symbolID int64) error {
	if err := m.feed.UnsubscribeAll(ctx); err != nil {
		m.logger.Warn(ctx, "Unsubscribe frame failed, handlers already removed", map[string]interface{}{"error": err.Error()})
	}
	m.hasActive = false
	m.active = 0
	m.phase = PhaseConnected

	if err := m.feed.Subscribe(ctx, symbolID, m.onTick); err != nil {
		m.logger.Error(ctx, err, "Failed to subscribe to symbol", map[string]interface{}{"symbolId": symbolID})
		return err
	}
	m.active = symbolID
	m.hasActive = true
	m.phase = PhaseSubscribed
	m.logger.Info(ctx, "Symbol subscription active", map[string]interface{}{"symbolId": symbolID})
	return nil
}
