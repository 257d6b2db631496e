package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoStock/internal/adapters/logger"
	"ecoStock/internal/chart"
	"ecoStock/internal/domain"
	"ecoStock/internal/market"
	"ecoStock/internal/ports"
)

const (
	waitFor = 2 * time.Second
	tickGap = 5 * time.Millisecond
)

// mockAPI implements ports.MarketAPI for testing
type mockAPI struct {
	mu           sync.Mutex
	symbols      []domain.Symbol
	snapshots    map[int64]*domain.Snapshot
	snapshotErrs map[int64]error
	gates        map[int64]chan struct{}
	holdings     map[int64]*domain.HoldingSnapshot
	holdingCalls int
	snapshotHits int
	sellErr      error
	sold         []domain.SellOrder
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		snapshots:    make(map[int64]*domain.Snapshot),
		snapshotErrs: make(map[int64]error),
		gates:        make(map[int64]chan struct{}),
		holdings:     make(map[int64]*domain.HoldingSnapshot),
	}
}

func (m *mockAPI) ListSymbols(ctx context.Context) ([]domain.Symbol, error) {
	return m.symbols, nil
}

func (m *mockAPI) GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error) {
	m.mu.Lock()
	gate := m.gates[symbolID]
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotHits++
	if err := m.snapshotErrs[symbolID]; err != nil {
		return nil, err
	}
	return m.snapshots[symbolID], nil
}

func (m *mockAPI) GetHolding(ctx context.Context, symbolID int64) (*domain.HoldingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdingCalls++
	if h, ok := m.holdings[symbolID]; ok {
		return h, nil
	}
	return &domain.HoldingSnapshot{SymbolID: symbolID}, nil
}

func (m *mockAPI) SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sold = append(m.sold, order)
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	return &domain.SellReceipt{
		OrderID:  "S-1",
		SymbolID: order.SymbolID,
		Quantity: order.Quantity,
		Price:    order.PriceAtConfirmation,
		Proceeds: order.ExpectedProceeds(),
	}, nil
}

func (m *mockAPI) gate(symbolID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := make(chan struct{})
	m.gates[symbolID] = g
	return g
}

func (m *mockAPI) snapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotHits
}

func (m *mockAPI) holdingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdingCalls
}

func (m *mockAPI) soldOrders() []domain.SellOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SellOrder(nil), m.sold...)
}

// mockTransport implements ports.FeedTransport for testing
type mockTransport struct {
	mu           sync.Mutex
	dialErr      error
	dials        int
	onMessage    func(ports.FeedMessage)
	onDrop       func(error)
	subscribed   []int64
	unsubscribed []int64
}

func (m *mockTransport) Dial(ctx context.Context, onMessage func(ports.FeedMessage), onDrop func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	if m.dialErr != nil {
		return m.dialErr
	}
	m.onMessage, m.onDrop = onMessage, onDrop
	return nil
}

func (m *mockTransport) Subscribe(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, symbolID)
	return nil
}

func (m *mockTransport) Unsubscribe(ctx context.Context, symbolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, symbolID)
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) push(t *testing.T, tick domain.Tick) {
	t.Helper()
	payload, err := domain.EncodeTick(tick)
	require.NoError(t, err)
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	require.NotNil(t, fn, "transport not dialed")
	fn(ports.FeedMessage{SymbolID: tick.SymbolID, Payload: payload})
}

func (m *mockTransport) setDialErr(err error) {
	m.mu.Lock()
	m.dialErr = err
	m.mu.Unlock()
}

func (m *mockTransport) calls() (dials int, subscribed, unsubscribed []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials, append([]int64(nil), m.subscribed...), append([]int64(nil), m.unsubscribed...)
}

func candle(t int64, open, high, low, close int64) domain.Candle {
	return domain.Candle{
		Time:  t,
		Open:  decimal.NewFromInt(open),
		High:  decimal.NewFromInt(high),
		Low:   decimal.NewFromInt(low),
		Close: decimal.NewFromInt(close),
	}
}

func volume(t, value int64, color domain.VolumeColor) *domain.VolumeBar {
	return &domain.VolumeBar{Time: t, Value: decimal.NewFromInt(value), Color: color}
}

func snapshotOf(symbolID int64, candles ...domain.Candle) *domain.Snapshot {
	s := &domain.Snapshot{SymbolID: symbolID, Candles: candles}
	for _, c := range candles {
		s.Volumes = append(s.Volumes, *volume(c.Time, 10, domain.VolumeBuy))
	}
	return s
}

type fixture struct {
	view      *MarketView
	api       *mockAPI
	transport *mockTransport
	screen    *chart.TermScreen
	sold      chan market.SellOutcome
}

func newFixture(t *testing.T, api *mockAPI) *fixture {
	t.Helper()
	transport := &mockTransport{}
	feed, err := market.NewFeedConnection(market.FeedConfig{Transport: transport, Logger: logger.Nop()})
	require.NoError(t, err)

	f := &fixture{api: api, transport: transport, screen: chart.NewTermScreen(chart.DefaultPalette()), sold: make(chan market.SellOutcome, 4)}
	f.view, err = NewMarketView(ViewConfig{
		API:            api,
		Feed:           feed,
		Logger:         logger.Nop(),
		Chart:          f.screen.Factory(),
		ChartOptions:   chart.Options{Width: 80, Height: 20},
		RequestTimeout: time.Second,
		OnSold: func(ctx context.Context, outcome market.SellOutcome) {
			f.sold <- outcome
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.view.Unmount() })
	return f
}

func (f *fixture) eventually(t *testing.T, cond func(ViewState) bool, msg string) ViewState {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.view.State()) }, waitFor, tickGap, msg)
	return f.view.State()
}

func (f *fixture) nextNotification(t *testing.T) Notification {
	t.Helper()
	select {
	case n := <-f.view.Notifications():
		return n
	case <-time.After(waitFor):
		t.Fatal("no notification")
		return Notification{}
	}
}

func loaded(st ViewState) bool {
	return !st.LoadingHistory && !st.LoadingHolding
}

func TestNewMarketView_Dependencies(t *testing.T) {
	_, err := NewMarketView(ViewConfig{Logger: logger.Nop()})
	assert.Error(t, err)
}

func TestMarketView_LiveTicksAndValuation(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(940, 95, 99, 94, 98), candle(1000, 98, 101, 97, 100))
	api.holdings[1] = &domain.HoldingSnapshot{SymbolID: 1, TotalQuantity: 10, TotalCostBasis: decimal.NewFromInt(1000), AvailablePoints: decimal.NewFromInt(50)}
	f := newFixture(t, api)

	require.NoError(t, f.view.Mount(context.Background(), 1))
	st := f.eventually(t, loaded, "history and holding load")
	assert.Equal(t, 2, st.Points)
	require.NotNil(t, st.Current)
	assert.True(t, st.Current.Price().Equal(decimal.NewFromInt(100)))

	// Same time: the last candle is amended, nothing is appended.
	f.transport.push(t, domain.Tick{SymbolID: 1, Candle: candle(1000, 98, 106, 97, 105)})
	st = f.eventually(t, func(s ViewState) bool {
		return s.Current != nil && s.Current.Price().Equal(decimal.NewFromInt(105))
	}, "amend applied")
	assert.Equal(t, 2, st.Points)

	// Newer time: a new bar is appended.
	f.transport.push(t, domain.Tick{SymbolID: 1, Candle: candle(1060, 105, 111, 104, 110), Volume: volume(1060, 7, domain.VolumeBuy)})
	st = f.eventually(t, func(s ViewState) bool { return s.Points == 3 }, "append applied")

	require.NotNil(t, st.Previous)
	assert.Equal(t, int64(1000), st.Previous.Candle.Time)
	assert.True(t, st.Previous.Price().Equal(decimal.NewFromInt(105)))
	assert.Equal(t, int64(1060), st.Current.Candle.Time)
	assert.True(t, st.Current.Price().Equal(decimal.NewFromInt(110)))
	assert.True(t, st.HasChange)
	assert.True(t, st.Change.Equal(decimal.NewFromInt(5)))

	val := st.Valuation
	assert.True(t, val.Sellable())
	assert.True(t, val.CurrentValue.Equal(decimal.NewFromInt(1100)))
	assert.True(t, val.ProfitLoss.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "10.00", val.ProfitPercent.StringFixed(2))
	assert.True(t, val.AvailablePoints.Equal(decimal.NewFromInt(50)))

	// An older tick is dropped.
	f.transport.push(t, domain.Tick{SymbolID: 1, Candle: candle(940, 1, 1, 1, 1)})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, f.view.State().Points)
	assert.NotEmpty(t, f.screen.Render())
}

func TestMarketView_SelectSymbolClearsPreviousSymbol(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2), candle(1060, 2, 3, 2, 3))
	api.snapshots[2] = snapshotOf(2, candle(500, 10, 12, 9, 11))
	api.holdings[1] = &domain.HoldingSnapshot{SymbolID: 1, TotalQuantity: 3, TotalCostBasis: decimal.NewFromInt(6)}
	f := newFixture(t, api)
	require.NoError(t, f.view.Mount(context.Background(), 1))
	f.eventually(t, loaded, "symbol 1 loaded")

	gate := api.gate(2)
	require.NoError(t, f.view.SelectSymbol(context.Background(), 2))

	st := f.view.State()
	assert.Equal(t, int64(2), st.SymbolID)
	assert.True(t, st.LoadingHistory)
	assert.Zero(t, st.Points)
	assert.Nil(t, st.Current, "symbol 1 prices must not show under symbol 2")
	assert.True(t, st.Valuation.Empty)

	_, subscribed, unsubscribed := f.transport.calls()
	assert.Equal(t, []int64{1, 2}, subscribed)
	assert.Equal(t, []int64{1}, unsubscribed)

	// A tick for symbol 2 while its history loads is replayed afterwards.
	f.transport.push(t, domain.Tick{SymbolID: 2, Candle: candle(560, 11, 13, 10, 12)})
	close(gate)

	st = f.eventually(t, func(s ViewState) bool { return !s.LoadingHistory && s.Points == 2 }, "history plus buffered tick")
	assert.True(t, st.Current.Price().Equal(decimal.NewFromInt(12)))
	assert.True(t, st.Previous.Price().Equal(decimal.NewFromInt(11)))
}

func TestMarketView_StaleHistoryIsDiscarded(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2), candle(1060, 2, 3, 2, 3), candle(1120, 3, 4, 3, 4))
	api.snapshots[2] = snapshotOf(2, candle(500, 10, 12, 9, 11))
	slow := api.gate(1)
	f := newFixture(t, api)

	require.NoError(t, f.view.Mount(context.Background(), 1))
	require.NoError(t, f.view.SelectSymbol(context.Background(), 2))
	f.eventually(t, func(s ViewState) bool { return !s.LoadingHistory }, "symbol 2 loaded")

	close(slow)
	time.Sleep(50 * time.Millisecond)

	st := f.view.State()
	assert.Equal(t, int64(2), st.SymbolID)
	assert.Equal(t, 1, st.Points)
	assert.True(t, st.Current.Price().Equal(decimal.NewFromInt(11)))
}

func TestMarketView_HistoryFailure(t *testing.T) {
	api := newMockAPI()
	api.snapshotErrs[1] = &ports.APIError{Status: 503, Message: "down", Kind: ports.ErrServiceUnavailable}
	f := newFixture(t, api)

	require.NoError(t, f.view.Mount(context.Background(), 1))
	st := f.eventually(t, func(s ViewState) bool { return !s.LoadingHistory }, "history settled")

	assert.ErrorIs(t, st.HistoryErr, ports.ErrSnapshotUnavailable)
	assert.True(t, st.NoData())
	n := f.nextNotification(t)
	assert.Equal(t, NotifyError, n.Level)

	// Live ticks still draw on the empty chart.
	f.transport.push(t, domain.Tick{SymbolID: 1, Candle: candle(1000, 1, 2, 1, 2)})
	f.eventually(t, func(s ViewState) bool { return s.Points == 1 }, "tick appended to empty series")
}

func TestMarketView_InitialConnectFailureIsNotRetried(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2))
	f := newFixture(t, api)
	f.transport.setDialErr(errors.New("connection refused"))

	err := f.view.Mount(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)

	st := f.eventually(t, func(s ViewState) bool { return s.ConnErr != nil }, "connection error shown")
	assert.Equal(t, domain.StatusFailed, st.Status)
	time.Sleep(50 * time.Millisecond)
	dials, _, _ := f.transport.calls()
	assert.Equal(t, 1, dials)

	f.transport.setDialErr(nil)
	require.NoError(t, f.view.Reconnect(context.Background()))
	st = f.eventually(t, func(s ViewState) bool { return s.ConnErr == nil && s.Status == domain.StatusConnected }, "reconnected")
	_, subscribed, _ := f.transport.calls()
	assert.Equal(t, []int64{1}, subscribed)
	assert.Equal(t, int64(1), st.SymbolID)
}

func TestMarketView_Sell(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		api := newMockAPI()
		api.snapshots[1] = snapshotOf(1, candle(1000, 100, 111, 99, 110))
		api.holdings[1] = &domain.HoldingSnapshot{SymbolID: 1, TotalQuantity: 10, TotalCostBasis: decimal.NewFromInt(1000)}
		f := newFixture(t, api)
		require.NoError(t, f.view.Mount(context.Background(), 1))
		f.eventually(t, func(s ViewState) bool { return loaded(s) && s.Valuation.Sellable() }, "sellable")
		return f
	}

	t.Run("success refreshes holding", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.view.BeginSell())
		assert.Equal(t, market.SellConfirming, f.view.State().SellPhase)

		err := f.view.ConfirmSell(context.Background(), 11)
		assert.ErrorIs(t, err, ports.ErrInvalidQuantity)
		assert.Equal(t, market.SellConfirming, f.view.State().SellPhase, "confirmation stays open")

		require.NoError(t, f.view.ConfirmSell(context.Background(), 4))
		n := f.nextNotification(t)
		assert.Equal(t, NotifySuccess, n.Level)
		assert.Equal(t, "Sold 4 for 440.00 points", n.Message)

		sold := f.api.soldOrders()
		require.Len(t, sold, 1)
		assert.True(t, sold[0].PriceAtConfirmation.Equal(decimal.NewFromInt(110)))
		assert.Equal(t, int64(4), sold[0].Quantity)

		select {
		case outcome := <-f.sold:
			assert.True(t, outcome.Succeeded())
		case <-time.After(waitFor):
			t.Fatal("success callback not called")
		}
		require.Eventually(t, func() bool { return f.api.holdingCount() == 2 }, waitFor, tickGap)
		require.Eventually(t, func() bool { return f.api.snapshotCount() == 2 }, waitFor, tickGap, "history refetched after the sale")
		f.eventually(t, func(s ViewState) bool { return !s.Selling && s.SellPhase == market.SellIdle }, "back to idle")
	})

	t.Run("history refresh keeps the chart and live ticks", func(t *testing.T) {
		f := setup(t)
		gate := make(chan struct{})
		f.api.mu.Lock()
		f.api.gates[1] = gate
		f.api.snapshots[1] = snapshotOf(1, candle(1000, 100, 111, 99, 110), candle(1060, 110, 112, 108, 111))
		f.api.mu.Unlock()

		require.NoError(t, f.view.BeginSell())
		require.NoError(t, f.view.ConfirmSell(context.Background(), 4))
		assert.Equal(t, NotifySuccess, f.nextNotification(t).Level)
		require.Eventually(t, func() bool { return f.api.snapshotCount() == 1 && f.api.holdingCount() == 2 }, waitFor, tickGap)

		st := f.view.State()
		assert.False(t, st.LoadingHistory, "chart stays up while the snapshot reloads")
		assert.Equal(t, 1, st.Points)

		f.transport.push(t, domain.Tick{SymbolID: 1, Candle: candle(1120, 111, 113, 110, 112)})
		f.eventually(t, func(s ViewState) bool { return s.Points == 2 }, "tick drawn during reload")

		close(gate)
		f.eventually(t, func(s ViewState) bool {
			return s.Points == 3 && s.Current != nil && s.Current.Price().Equal(decimal.NewFromInt(112))
		}, "buffered tick replayed onto the new snapshot")
	})

	t.Run("failure shows server message", func(t *testing.T) {
		f := setup(t)
		f.api.mu.Lock()
		f.api.sellErr = &ports.APIError{Status: 409, Message: "Market is closed", Kind: ports.ErrSellRejected}
		f.api.mu.Unlock()

		require.NoError(t, f.view.BeginSell())
		require.NoError(t, f.view.ConfirmSell(context.Background(), 10))

		n := f.nextNotification(t)
		assert.Equal(t, NotifyError, n.Level)
		assert.Equal(t, "Market is closed", n.Message)
		f.eventually(t, func(s ViewState) bool { return !s.Selling }, "selling flag cleared")
		assert.Equal(t, 1, f.api.holdingCount(), "holding untouched after a failed sell")
		assert.Empty(t, f.sold)
	})

	t.Run("cancel", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.view.BeginSell())
		require.NoError(t, f.view.CancelSell())
		assert.Equal(t, market.SellIdle, f.view.State().SellPhase)
		assert.Empty(t, f.api.soldOrders())
	})
}

func TestMarketView_BeginSellWithoutHolding(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2))
	f := newFixture(t, api)
	require.NoError(t, f.view.Mount(context.Background(), 1))
	f.eventually(t, loaded, "loaded")

	assert.ErrorIs(t, f.view.BeginSell(), ports.ErrEmptyHolding)
	assert.Equal(t, market.SellIdle, f.view.State().SellPhase)
}

func TestMarketView_Unmount(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2))
	slow := api.gate(1)
	f := newFixture(t, api)
	require.NoError(t, f.view.Mount(context.Background(), 1))

	require.NoError(t, f.view.Unmount())
	require.NoError(t, f.view.Unmount(), "second unmount is a no-op")
	close(slow)

	assert.ErrorIs(t, f.view.SelectSymbol(context.Background(), 2), ports.ErrDisposed)
	assert.ErrorIs(t, f.view.Mount(context.Background(), 1), ports.ErrDisposed)
	assert.True(t, f.view.State().LoadingHistory, "late history never lands")
	assert.Empty(t, f.screen.Render())

	for range f.view.Updates() {
	}
}
