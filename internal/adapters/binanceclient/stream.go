package binanceclient

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// stream is one kline websocket for a subscribed symbol.
type stream struct {
	stop    chan struct{}
	stopped bool
}

// Dial verifies the exchange is reachable and records the callbacks. Binance
// serves one websocket per symbol, so the sockets open on Subscribe.
func (c *Client) Dial(ctx context.Context, onMessage func(ports.FeedMessage), onDrop func(error)) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("Dial failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	c.mu.Lock()
	c.connected = true
	c.onMessage, c.onDrop = onMessage, onDrop
	c.mu.Unlock()
	return nil
}

// Subscribe opens the kline stream of a symbol. Subscribing twice is a no-op.
func (c *Client) Subscribe(ctx context.Context, symbolID int64) error {
	op := "Subscribe"
	sym, err := c.exchangeSymbol(op, symbolID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("%s failed: %w", op, ports.ErrNotConnected)
	}
	if _, ok := c.streams[symbolID]; ok {
		return nil
	}

	handler := func(event *futures.WsKlineEvent) {
		c.deliver(symbolID, event)
	}
	errHandler := func(err error) {
		c.logger.Warn(context.Background(), op+": WebSocket error reported", map[string]interface{}{"symbol": sym, "error": err.Error()})
	}

	doneC, stopC, err := c.wsServe(sym, c.interval, handler, errHandler)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	s := &stream{stop: stopC}
	c.streams[symbolID] = s
	go c.watch(symbolID, s, doneC)

	c.logger.Info(ctx, op+": WebSocket connection established.", map[string]interface{}{"symbol": sym, "interval": c.interval})
	return nil
}

// Unsubscribe closes the kline stream of a symbol.
func (c *Client) Unsubscribe(ctx context.Context, symbolID int64) error {
	c.mu.Lock()
	s, ok := c.streams[symbolID]
	if ok {
		delete(c.streams, symbolID)
		c.stopLocked(s)
	}
	c.mu.Unlock()
	if ok {
		c.logger.Debug(ctx, "Unsubscribe: stop signal sent to kline stream", map[string]interface{}{"symbolId": symbolID})
	}
	return nil
}

// Close stops every stream without reporting a drop.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	for id, s := range c.streams {
		c.stopLocked(s)
		delete(c.streams, id)
	}
	c.onMessage, c.onDrop = nil, nil
	c.mu.Unlock()
	return nil
}

func (c *Client) stopLocked(s *stream) {
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
}

// watch reports a drop when a stream ends without being stopped. Every other
// stream is torn down so the caller's reconnect starts from a clean state.
func (c *Client) watch(symbolID int64, s *stream, doneC chan struct{}) {
	<-doneC

	c.mu.Lock()
	if s.stopped || c.streams[symbolID] != s {
		c.mu.Unlock()
		return
	}
	onDrop := c.onDrop
	c.connected = false
	for id, other := range c.streams {
		c.stopLocked(other)
		delete(c.streams, id)
	}
	c.mu.Unlock()

	c.logger.Warn(context.Background(), "WebSocket connection closed unexpectedly.", map[string]interface{}{"symbolId": symbolID})
	if onDrop != nil {
		onDrop(fmt.Errorf("kline stream for symbol %d closed: %w", symbolID, ports.ErrConnectionFailed))
	}
}

func (c *Client) deliver(symbolID int64, event *futures.WsKlineEvent) {
	candle, volume, err := translateWsKline(event)
	if err != nil {
		c.logger.Error(context.Background(), err, "Failed to translate WebSocket kline event", map[string]interface{}{"symbolId": symbolID})
		return
	}
	payload, err := domain.EncodeTick(domain.Tick{SymbolID: symbolID, Candle: candle, Volume: &volume})
	if err != nil {
		c.logger.Error(context.Background(), err, "Failed to encode tick", map[string]interface{}{"symbolId": symbolID})
		return
	}

	c.mu.Lock()
	onMessage := c.onMessage
	c.mu.Unlock()
	if onMessage != nil {
		onMessage(ports.FeedMessage{SymbolID: symbolID, Payload: payload})
	}
}
