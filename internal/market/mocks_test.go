package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu        sync.Mutex
	errorMsgs []string
	warnMsgs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	m.warnMsgs = append(m.warnMsgs, msg)
	m.mu.Unlock()
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	m.errorMsgs = append(m.errorMsgs, msg)
	m.mu.Unlock()
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

// mockTransport implements ports.FeedTransport for testing
type mockTransport struct {
	mu           sync.Mutex
	dialErr      error
	dialGate     chan struct{}
	dials        int
	onMessage    func(ports.FeedMessage)
	onDrop       func(error)
	subscribed   []int64
	unsubscribed []int64
	subErr       error
	closes       int
}

func (m *mockTransport) Dial(ctx context.Context, onMessage func(ports.FeedMessage), onDrop func(error)) error {
	m.mu.Lock()
	m.dials++
	gate := m.dialGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialErr != nil {
		return m.dialErr
	}
	m.onMessage = onMessage
	m.onDrop = onDrop
	return nil
}

func (m *mockTransport) Subscribe(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.subscribed = append(m.subscribed, symbolID)
	return nil
}

func (m *mockTransport) Unsubscribe(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, symbolID)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockTransport) deliver(symbolID int64, payload string) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	fn(ports.FeedMessage{SymbolID: symbolID, Payload: []byte(payload)})
}

func (m *mockTransport) drop(err error) {
	m.mu.Lock()
	fn := m.onDrop
	m.mu.Unlock()
	fn(err)
}

func (m *mockTransport) setDialErr(err error) {
	m.mu.Lock()
	m.dialErr = err
	m.mu.Unlock()
}

func (m *mockTransport) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

func (m *mockTransport) subscribeCalls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.subscribed...)
}

// mockFeed implements Feed and records the order of calls
type mockFeed struct {
	mu         sync.Mutex
	calls      []string
	status     domain.ConnectionStatus
	connectErr error
	subErr     error
	handler    TickHandler
}

func newMockFeed() *mockFeed {
	return &mockFeed{status: domain.StatusDisconnected}
}

func (m *mockFeed) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "connect")
	if m.connectErr != nil {
		m.status = domain.StatusFailed
		return m.connectErr
	}
	m.status = domain.StatusConnected
	return nil
}

func (m *mockFeed) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "disconnect")
	m.status = domain.StatusDisconnected
	return nil
}

func (m *mockFeed) Subscribe(ctx context.Context, symbolID int64, handler TickHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("subscribe:%d", symbolID))
	if m.subErr != nil {
		return m.subErr
	}
	m.handler = handler
	return nil
}

func (m *mockFeed) UnsubscribeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "unsubscribeAll")
	m.handler = nil
	return nil
}

func (m *mockFeed) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockFeed) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockSource implements SnapshotSource; gates let a test control completion order.
type mockSource struct {
	mu        sync.Mutex
	snapshots map[int64]*domain.Snapshot
	errs      map[int64]error
	gates     map[int64]chan struct{}
}

func (m *mockSource) GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error) {
	m.mu.Lock()
	gate := m.gates[symbolID]
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[symbolID], m.errs[symbolID]
}

// mockSubmitter implements SellSubmitter
type mockSubmitter struct {
	mu      sync.Mutex
	orders  []domain.SellOrder
	receipt *domain.SellReceipt
	err     error
}

func (m *mockSubmitter) SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return m.receipt, m.err
}

// mockJournal implements ports.SellJournal
type mockJournal struct {
	submitted []string
	settled   []string
	failed    map[string]string
}

func (m *mockJournal) RecordSubmitted(ctx context.Context, order domain.SellOrder) (int64, error) {
	m.submitted = append(m.submitted, order.ClientOrderID.String())
	return int64(len(m.submitted)), nil
}

func (m *mockJournal) MarkSettled(ctx context.Context, clientOrderID string, receipt domain.SellReceipt) error {
	m.settled = append(m.settled, clientOrderID)
	return nil
}

func (m *mockJournal) MarkFailed(ctx context.Context, clientOrderID string, message string) error {
	if m.failed == nil {
		m.failed = make(map[string]string)
	}
	m.failed[clientOrderID] = message
	return nil
}

func (m *mockJournal) FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.SellRecord, error) {
	return nil, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flat builds a valid candle whose open, high, low and close are all price.
func flat(t int64, price string) domain.Candle {
	p := dec(price)
	return domain.Candle{Time: t, Open: p, High: p, Low: p, Close: p}
}

func tickAt(symbolID, t int64, price string) domain.Tick {
	return domain.Tick{SymbolID: symbolID, Candle: flat(t, price)}
}

func seriesOf(symbolID int64, closes map[int64]string, times ...int64) *domain.Series {
	s := domain.NewSeries(symbolID)
	for _, t := range times {
		s.Append(domain.Point{Candle: flat(t, closes[t]), Volume: domain.EmptyVolume(t)})
	}
	return s
}
