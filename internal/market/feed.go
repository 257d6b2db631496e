package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// TickHandler receives decoded ticks for a subscribed symbol.
type TickHandler func(tick domain.Tick)

// FeedConfig holds the dependencies and reconnect policy of a FeedConnection.
type FeedConfig struct {
	Transport            ports.FeedTransport
	Logger               ports.Logger
	ReconnectDelay       time.Duration // first backoff step after a drop
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // 0 disables automatic reconnects
}

// FeedConnection owns the single push connection to the market service.
// The connection is created by the composition root and injected wherever
// it is needed; nothing in this package holds it globally.
type FeedConnection struct {
	transport   ports.FeedTransport
	logger      ports.Logger
	minDelay    time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu            sync.Mutex
	status        domain.ConnectionStatus
	inflight      *dialAttempt
	handlers      map[int64]TickHandler
	gen           uint64 // bumped by Disconnect; work started under an older generation is abandoned
	stopReconnect chan struct{}
	onStatus      func(domain.ConnectionStatus)
}

type dialAttempt struct {
	done chan struct{}
	err  error
}

// NewFeedConnection creates a disconnected feed connection.
func NewFeedConnection(cfg FeedConfig) (*FeedConnection, error) {
	if cfg.Transport == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("transport and logger are required for FeedConnection")
	}
	minDelay := cfg.ReconnectDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay < minDelay {
		maxDelay = 30 * minDelay
	}
	return &FeedConnection{
		transport:   cfg.Transport,
		logger:      cfg.Logger,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
		status:      domain.StatusDisconnected,
		handlers:    make(map[int64]TickHandler),
	}, nil
}

// OnStatus registers a listener for connection status changes.
// The listener runs on whichever goroutine caused the change and must not block.
func (f *FeedConnection) OnStatus(fn func(domain.ConnectionStatus)) {
	f.mu.Lock()
	f.onStatus = fn
	f.mu.Unlock()
}

// Status returns the current connection status.
func (f *FeedConnection) Status() domain.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Subscribed returns the symbols that currently have a handler.
func (f *FeedConnection) Subscribed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribedLocked()
}

// setStatusLocked records a status and returns the listener to notify once the lock is released.
func (f *FeedConnection) setStatusLocked(s domain.ConnectionStatus) func() {
	if f.status == s {
		return func() {}
	}
	f.status = s
	listener := f.onStatus
	return func() {
		if listener != nil {
			listener(s)
		}
	}
}

// Connect opens the connection. It is a no-op when already connected; while
// another Connect is in flight it waits for that attempt and returns its result.
func (f *FeedConnection) Connect(ctx context.Context) error {
	op := "FeedConnect"

	f.mu.Lock()
	switch f.status {
	case domain.StatusConnected:
		f.mu.Unlock()
		return nil
	case domain.StatusConnecting:
		attempt := f.inflight
		f.mu.Unlock()
		if attempt == nil {
			return fmt.Errorf("%s failed: %w: automatic reconnect in progress", op, ports.ErrNotConnected)
		}
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		}
	}

	attempt := &dialAttempt{done: make(chan struct{})}
	f.inflight = attempt
	gen := f.gen
	notify := f.setStatusLocked(domain.StatusConnecting)
	f.mu.Unlock()
	notify()

	f.logger.Info(ctx, "Connecting to market feed")
	err := f.transport.Dial(ctx, f.dispatch, f.dropHandler(gen))

	f.mu.Lock()
	f.inflight = nil
	if f.gen != gen {
		f.mu.Unlock()
		if err == nil {
			_ = f.transport.Close()
		}
		attempt.err = fmt.Errorf("%s failed: %w", op, ports.ErrDisposed)
		close(attempt.done)
		return attempt.err
	}
	if err != nil {
		notify = f.setStatusLocked(domain.StatusFailed)
		f.mu.Unlock()
		attempt.err = fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
		f.logger.Error(ctx, err, "Market feed connection failed")
		close(attempt.done)
		notify()
		return attempt.err
	}
	notify = f.setStatusLocked(domain.StatusConnected)
	resubscribe := f.subscribedLocked()
	f.mu.Unlock()

	f.logger.Info(ctx, "Market feed connected")
	close(attempt.done)
	notify()
	f.resubscribe(ctx, resubscribe)
	return nil
}

// Disconnect closes the connection and forgets every handler. Safe to call
// when already disconnected.
func (f *FeedConnection) Disconnect() error {
	f.mu.Lock()
	if f.status == domain.StatusDisconnected && f.inflight == nil {
		f.mu.Unlock()
		return nil
	}
	f.gen++
	f.handlers = make(map[int64]TickHandler)
	if f.stopReconnect != nil {
		close(f.stopReconnect)
		f.stopReconnect = nil
	}
	notify := f.setStatusLocked(domain.StatusDisconnected)
	f.mu.Unlock()
	notify()

	if err := f.transport.Close(); err != nil {
		return fmt.Errorf("FeedDisconnect failed: %w: %w", ports.ErrUnknown, err)
	}
	f.logger.Info(context.Background(), "Market feed disconnected")
	return nil
}

// Subscribe registers the handler for a symbol and starts delivery. Only one
// symbol may be subscribed at a time; registering the same symbol again
// replaces its handler without another subscribe frame. While an automatic
// reconnect is running the handler is only registered; the reconnect sends
// the subscribe frame once the connection is back.
func (f *FeedConnection) Subscribe(ctx context.Context, symbolID int64, handler TickHandler) error {
	op := "FeedSubscribe"
	if handler == nil {
		return fmt.Errorf("%s failed: %w: nil handler", op, ports.ErrInvalidRequest)
	}

	f.mu.Lock()
	reconnecting := f.status == domain.StatusConnecting && f.stopReconnect != nil
	if f.status != domain.StatusConnected && !reconnecting {
		f.mu.Unlock()
		return fmt.Errorf("%s failed: %w", op, ports.ErrNotConnected)
	}
	if _, ok := f.handlers[symbolID]; ok {
		f.handlers[symbolID] = handler
		f.mu.Unlock()
		return nil
	}
	if len(f.handlers) > 0 {
		existing := f.subscribedLocked()[0]
		f.mu.Unlock()
		return fmt.Errorf("%s failed: %w: symbol %d", op, ports.ErrAlreadySubscribed, existing)
	}
	f.handlers[symbolID] = handler
	f.mu.Unlock()

	if reconnecting {
		f.logger.Debug(ctx, "Subscription deferred until reconnect", map[string]interface{}{"symbolId": symbolID})
		return nil
	}

	if err := f.transport.Subscribe(ctx, symbolID); err != nil {
		f.mu.Lock()
		delete(f.handlers, symbolID)
		f.mu.Unlock()
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	f.logger.Debug(ctx, "Subscribed to symbol", map[string]interface{}{"symbolId": symbolID})
	return nil
}

// UnsubscribeAll removes every handler without closing the connection.
// Handlers are dropped even if sending an unsubscribe frame fails.
func (f *FeedConnection) UnsubscribeAll(ctx context.Context) error {
	f.mu.Lock()
	ids := f.subscribedLocked()
	f.handlers = make(map[int64]TickHandler)
	connected := f.status == domain.StatusConnected
	f.mu.Unlock()

	if !connected {
		return nil
	}
	var errs []error
	for _, id := range ids {
		if err := f.transport.Unsubscribe(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("symbol %d: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("FeedUnsubscribeAll failed: %w: %w", ports.ErrConnectionFailed, errors.Join(errs...))
	}
	return nil
}

func (f *FeedConnection) subscribedLocked() []int64 {
	ids := make([]int64, 0, len(f.handlers))
	for id := range f.handlers {
		ids = append(ids, id)
	}
	return ids
}

func (f *FeedConnection) resubscribe(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := f.transport.Subscribe(ctx, id); err != nil {
			f.logger.Error(ctx, err, "Failed to restore subscription", map[string]interface{}{"symbolId": id})
			continue
		}
		f.logger.Info(ctx, "Subscription restored", map[string]interface{}{"symbolId": id})
	}
}

// dispatch decodes a frame and hands it to the symbol's handler. Malformed
// frames are logged and dropped; the subscription stays active.
func (f *FeedConnection) dispatch(msg ports.FeedMessage) {
	ctx := context.Background()

	f.mu.Lock()
	handler, ok := f.handlers[msg.SymbolID]
	f.mu.Unlock()
	if !ok {
		f.logger.Debug(ctx, "Dropping tick for unsubscribed symbol", map[string]interface{}{"symbolId": msg.SymbolID})
		return
	}

	tick, err := domain.DecodeTick(msg.SymbolID, msg.Payload)
	if err != nil {
		f.logger.Error(ctx, fmt.Errorf("%w: %w", ports.ErrMalformedTick, err), "Dropping malformed tick",
			map[string]interface{}{"symbolId": msg.SymbolID, "payload": string(msg.Payload)})
		return
	}
	handler(tick)
}

func (f *FeedConnection) dropHandler(gen uint64) func(error) {
	return func(err error) {
		f.mu.Lock()
		if f.gen != gen || f.status != domain.StatusConnected {
			f.mu.Unlock()
			return
		}
		if f.maxAttempts <= 0 {
			notify := f.setStatusLocked(domain.StatusFailed)
			f.mu.Unlock()
			f.logger.Error(context.Background(), err, "Market feed connection lost, automatic reconnect disabled")
			notify()
			return
		}
		stop := make(chan struct{})
		f.stopReconnect = stop
		notify := f.setStatusLocked(domain.StatusConnecting)
		f.mu.Unlock()

		f.logger.Warn(context.Background(), "Market feed connection lost, reconnecting", map[string]interface{}{"error": fmt.Sprint(err)})
		notify()
		go f.reconnectLoop(gen, stop)
	}
}

// reconnectLoop re-dials with exponential backoff and jitter until it
// succeeds, runs out of attempts, or Disconnect stops it.
func (f *FeedConnection) reconnectLoop(gen uint64, stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := &backoff.Backoff{Min: f.minDelay, Max: f.maxDelay, Factor: 2, Jitter: true}
	for {
		if int(b.Attempt()) >= f.maxAttempts {
			f.mu.Lock()
			if f.gen != gen {
				f.mu.Unlock()
				return
			}
			f.stopReconnect = nil
			notify := f.setStatusLocked(domain.StatusFailed)
			f.mu.Unlock()
			f.logger.Error(ctx, ports.ErrConnectionFailed, "Max reconnection attempts exceeded, giving up", map[string]interface{}{"maxAttempts": f.maxAttempts})
			notify()
			return
		}

		delay := b.Duration()
		f.logger.Info(ctx, "Reconnecting to market feed", map[string]interface{}{"attempt": int(b.Attempt()), "delay": delay.String()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		err := f.transport.Dial(ctx, f.dispatch, f.dropHandler(gen))

		f.mu.Lock()
		if f.gen != gen {
			f.mu.Unlock()
			if err == nil {
				_ = f.transport.Close()
			}
			return
		}
		if err != nil {
			f.mu.Unlock()
			f.logger.Warn(ctx, "Reconnect attempt failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		f.stopReconnect = nil
		notify := f.setStatusLocked(domain.StatusConnected)
		ids := f.subscribedLocked()
		f.mu.Unlock()

		f.logger.Info(ctx, "Market feed reconnected")
		notify()
		f.resubscribe(ctx, ids)
		return
	}
}
