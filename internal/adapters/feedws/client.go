package feedws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ecoStock/internal/ports"
)

const writeWait = 5 * time.Second

// Transport implements ports.FeedTransport over one websocket connection.
// Topics are symbol ids; every tick frame names the topic it belongs to.
type Transport struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration
	logger       ports.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex
}

// Config holds configuration specific to the websocket feed adapter.
type Config struct {
	URL              string
	AuthToken        string
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Logger           ports.Logger
}

// New creates a websocket feed transport. No connection is made until Dial.
func New(cfg Config) (*Transport, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for feed transport")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: feed URL is required", ports.ErrConfigurationError)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	return &Transport{
		url:          cfg.URL,
		header:       header,
		dialer:       &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		pingInterval: cfg.PingInterval,
		logger:       cfg.Logger,
	}, nil
}

// controlFrame is sent by the client to change topics.
type controlFrame struct {
	Op       string `json:"op"`
	SymbolID int64  `json:"symbolId"`
}

// envelope is every frame the server sends.
type envelope struct {
	Type     string          `json:"type"`
	SymbolID int64           `json:"symbolId"`
	Payload  json.RawMessage `json:"payload"`
	Message  string          `json:"message"`
}

// Dial connects and starts the read and ping loops. Dialing while connected is a no-op.
func (t *Transport) Dial(ctx context.Context, onMessage func(ports.FeedMessage), onDrop func(error)) error {
	op := "Dial"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		fields := map[string]interface{}{"url": t.url}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		t.logger.Error(ctx, err, "Feed dial failed", fields)
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}

	done := make(chan struct{})
	t.conn, t.done = conn, done

	readTimeout := 2 * t.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go t.readLoop(conn, done, readTimeout, onMessage, onDrop)
	go t.pingLoop(conn, done)

	t.logger.Info(ctx, "Feed connected", map[string]interface{}{"url": t.url})
	return nil
}

// Subscribe sends a subscribe frame for symbolID.
func (t *Transport) Subscribe(ctx context.Context, symbolID int64) error {
	return t.send(ctx, "Subscribe", controlFrame{Op: "subscribe", SymbolID: symbolID})
}

// Unsubscribe sends an unsubscribe frame for symbolID.
func (t *Transport) Unsubscribe(ctx context.Context, symbolID int64) error {
	return t.send(ctx, "Unsubscribe", controlFrame{Op: "unsubscribe", SymbolID: symbolID})
}

func (t *Transport) send(ctx context.Context, op string, frame controlFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s failed: %w", op, ports.ErrNotConnected)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame); err != nil {
		t.logger.Error(ctx, err, fmt.Sprintf("%s frame write failed", op), map[string]interface{}{"symbolId": frame.SymbolID})
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrNotConnected, err)
	}
	t.logger.Debug(ctx, fmt.Sprintf("%s frame sent", op), map[string]interface{}{"symbolId": frame.SymbolID})
	return nil
}

// Close closes the connection without reporting a drop.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn, t.done = nil, nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(done)

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}, readTimeout time.Duration, onMessage func(ports.FeedMessage), onDrop func(error)) {
	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			requested := t.conn != conn
			if !requested {
				t.conn, t.done = nil, nil
				close(done)
			}
			t.mu.Unlock()
			_ = conn.Close()
			if requested {
				return
			}
			t.logger.Warn(ctx, "Feed connection lost", map[string]interface{}{"error": err.Error()})
			if onDrop != nil {
				onDrop(err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn(ctx, "Dropping unparseable feed frame", map[string]interface{}{"error": err.Error(), "size": len(data)})
			continue
		}
		switch env.Type {
		case "tick":
			if onMessage != nil {
				onMessage(ports.FeedMessage{SymbolID: env.SymbolID, Payload: env.Payload})
			}
		case "error":
			t.logger.Warn(ctx, "Feed reported an error", map[string]interface{}{"symbolId": env.SymbolID, "message": env.Message})
		default:
			t.logger.Debug(ctx, "Ignoring feed frame", map[string]interface{}{"type": env.Type, "symbolId": env.SymbolID})
		}
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				// the read loop observes the broken connection and reports the drop
				t.logger.Warn(context.Background(), "Feed ping failed", map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}
}
