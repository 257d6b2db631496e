package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ecoStock/internal/chart"
	"ecoStock/internal/domain"
	"ecoStock/internal/market"
	"ecoStock/internal/ports"
)

const (
	eventBufferSize    = 256
	maxPendingTicks    = 512 // ticks held back while a snapshot is loading
	notificationBuffer = 32
	sellHistoryLimit   = 20
)

// FeedConn is the feed connection the view mounts. *market.FeedConnection implements it.
type FeedConn interface {
	market.Feed
	OnStatus(fn func(domain.ConnectionStatus))
}

// NotificationLevel classifies a user notification.
type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

// Notification is a one-off message for the user.
type Notification struct {
	Level   NotificationLevel
	Message string
	At      time.Time
}

// ViewState is a consistent copy of what the market view shows.
type ViewState struct {
	SymbolID int64
	Status   domain.ConnectionStatus
	ConnErr  error

	LoadingHistory bool
	HistoryErr     error
	Points         int
	Current        *domain.Point
	Previous       *domain.Point
	Change         decimal.Decimal
	ChangePercent  decimal.Decimal
	HasChange      bool

	LoadingHolding bool
	HoldingErr     error
	Valuation      market.Valuation

	SellPhase market.SellPhase
	Selling   bool
}

// NoData reports whether a loaded symbol has no candles at all.
func (s ViewState) NoData() bool {
	return !s.LoadingHistory && s.Points == 0
}

// ViewConfig holds the dependencies of a MarketView. Journal and OnSold are optional.
type ViewConfig struct {
	API            ports.MarketAPI
	Feed           FeedConn
	Journal        ports.SellJournal
	Logger         ports.Logger
	Chart          chart.Factory
	ChartOptions   chart.Options
	RequestTimeout time.Duration
	OnSold         func(ctx context.Context, outcome market.SellOutcome)
	Now            func() time.Time
}

// MarketView composes the feed subscription, history, live reconciliation,
// chart, valuation and sell workflow for one selected symbol.
//
// All view state is owned by a single loop goroutine. Network work runs on
// its own goroutines and posts the result back to the loop; posts made after
// Unmount are dropped so late responses never touch disposed state.
type MarketView struct {
	api     ports.MarketAPI
	feed    FeedConn
	journal ports.SellJournal
	logger  ports.Logger
	timeout time.Duration
	onSold  func(ctx context.Context, outcome market.SellOutcome)
	now     func() time.Time

	subs     *market.SubscriptionManager
	loader   *market.HistoryLoader
	sell     *market.SellWorkflow
	renderer *chart.Renderer

	mu      sync.Mutex // guards started/closed and serializes posts against Unmount
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan func()
	quit    chan struct{}
	stopped chan struct{}

	stateMu sync.RWMutex
	state   ViewState

	updates       chan ViewState
	notifications chan Notification

	// loop-owned
	symbolID   int64
	recon      *market.Reconciler
	holding    *domain.HoldingSnapshot
	pending    []domain.Tick
	reloading  bool // history refetch behind a live chart
	historySeq uint64
	holdingSeq uint64
	view       ViewState

	connectedOnce bool
}

// NewMarketView wires a view. Nothing runs until Mount.
func NewMarketView(cfg ViewConfig) (*MarketView, error) {
	if cfg.API == nil || cfg.Feed == nil || cfg.Logger == nil || cfg.Chart == nil {
		return nil, fmt.Errorf("missing required dependencies for MarketView")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	v := &MarketView{
		api:           cfg.API,
		feed:          cfg.Feed,
		journal:       cfg.Journal,
		logger:        cfg.Logger,
		timeout:       cfg.RequestTimeout,
		onSold:        cfg.OnSold,
		now:           now,
		events:        make(chan func(), eventBufferSize),
		quit:          make(chan struct{}),
		stopped:       make(chan struct{}),
		updates:       make(chan ViewState, 1),
		notifications: make(chan Notification, notificationBuffer),
	}

	var err error
	if v.subs, err = market.NewSubscriptionManager(cfg.Feed, cfg.Logger, v.onTick); err != nil {
		return nil, err
	}
	if v.loader, err = market.NewHistoryLoader(cfg.API, cfg.Logger); err != nil {
		return nil, err
	}
	if v.sell, err = market.NewSellWorkflow(market.SellConfig{API: cfg.API, Journal: cfg.Journal, Logger: cfg.Logger, Now: now}); err != nil {
		return nil, err
	}
	if v.renderer, err = chart.NewRenderer(cfg.Chart, cfg.Logger, cfg.ChartOptions); err != nil {
		return nil, err
	}
	v.sell.OnSuccess(v.afterSale)

	v.view = ViewState{Status: cfg.Feed.Status(), SellPhase: market.SellIdle}
	v.state = v.view
	return v, nil
}

// Updates delivers the latest state after every change. Only the most recent
// state is kept when the reader falls behind. Closed by Unmount.
func (v *MarketView) Updates() <-chan ViewState {
	return v.updates
}

// Notifications delivers user notifications. Closed by Unmount.
func (v *MarketView) Notifications() <-chan Notification {
	return v.notifications
}

// State returns the current view state.
func (v *MarketView) State() ViewState {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()
	return v.state
}

// Mount starts the view: it connects the feed once, subscribes symbolID and
// loads its history and holding. A failed connect is reported, not retried;
// Reconnect tries again.
func (v *MarketView) Mount(ctx context.Context, symbolID int64) error {
	op := "MountView"

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return fmt.Errorf("%s failed: %w", op, ports.ErrDisposed)
	}
	if v.started {
		v.mu.Unlock()
		return fmt.Errorf("%s failed: %w: already mounted", op, ports.ErrInvalidRequest)
	}
	v.started = true
	v.ctx, v.cancel = context.WithCancel(context.Background())
	go v.loop()
	v.mu.Unlock()

	v.feed.OnStatus(func(s domain.ConnectionStatus) {
		v.post(func() { v.applyStatus(s) })
	})

	v.logger.Info(ctx, op+": mounting market view", map[string]interface{}{"symbolId": symbolID})
	if err := v.do(func() { v.switchSymbol(symbolID, true) }); err != nil {
		return err
	}
	if err := v.subs.Mount(ctx, symbolID); err != nil {
		v.post(func() { v.connectionFailed(err) })
		return fmt.Errorf("%s failed: %w", op, err)
	}
	v.post(v.connectionRestored)
	return nil
}

// SelectSymbol switches the view to symbolID. The chart, reconciled series
// and holding of the previous symbol are dropped before anything of the new
// one is shown. Selecting the symbol already shown only re-subscribes if the
// feed had failed.
func (v *MarketView) SelectSymbol(ctx context.Context, symbolID int64) error {
	op := "SelectSymbol"
	if symbolID <= 0 {
		return fmt.Errorf("%s failed: %w: symbol id %d", op, ports.ErrInvalidRequest, symbolID)
	}
	if err := v.do(func() { v.switchSymbol(symbolID, false) }); err != nil {
		return err
	}
	if err := v.subs.Select(ctx, symbolID); err != nil {
		v.post(func() { v.connectionFailed(err) })
		return fmt.Errorf("%s failed: %w", op, err)
	}
	v.post(v.connectionRestored)
	return nil
}

// Reconnect re-dials a failed feed and subscribes the current symbol again.
func (v *MarketView) Reconnect(ctx context.Context) error {
	symbolID := v.State().SymbolID
	if symbolID == 0 {
		return fmt.Errorf("Reconnect failed: %w: no symbol selected", ports.ErrInvalidRequest)
	}
	v.logger.Info(ctx, "Reconnect: manual reconnect requested", map[string]interface{}{"symbolId": symbolID})
	return v.SelectSymbol(ctx, symbolID)
}

// RefreshHolding refetches the holding of the current symbol.
func (v *MarketView) RefreshHolding(ctx context.Context) error {
	return v.do(v.fetchHolding)
}

// Resize resizes the chart and keeps its visible range.
func (v *MarketView) Resize(width, height int) error {
	return v.do(func() { v.renderer.Resize(width, height) })
}

// BeginSell opens the sell confirmation. It fails with ports.ErrEmptyHolding
// when there is nothing priced to sell.
func (v *MarketView) BeginSell() error {
	var err error
	if derr := v.do(func() {
		err = v.sell.Begin(v.view.Valuation)
		v.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// CancelSell closes the sell confirmation.
func (v *MarketView) CancelSell() error {
	return v.do(func() {
		v.sell.Cancel()
		v.publish()
	})
}

// ConfirmSell fixes the order at the current price and submits it in the
// background. The confirmation closes at once; the outcome arrives as a
// notification. An out-of-range quantity is returned and leaves the
// confirmation open.
func (v *MarketView) ConfirmSell(ctx context.Context, quantity int64) error {
	var (
		order domain.SellOrder
		err   error
	)
	if derr := v.do(func() {
		order, err = v.sell.Confirm(quantity, v.view.Valuation)
		if err == nil {
			v.view.Selling = true
		}
		v.publish()
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	go func() {
		sellCtx, cancel := v.requestContext(ctx)
		defer cancel()
		outcome := v.sell.Execute(sellCtx, order)
		v.post(func() { v.applySellOutcome(outcome) })
	}()
	return nil
}

// Symbols lists the tradable symbols.
func (v *MarketView) Symbols(ctx context.Context) ([]domain.Symbol, error) {
	ctx, cancel := v.requestContext(ctx)
	defer cancel()
	symbols, err := v.api.ListSymbols(ctx)
	if err != nil {
		v.logger.Error(ctx, err, "Failed to list symbols")
		return nil, err
	}
	return symbols, nil
}

// SellHistory returns the journaled sells of the current symbol, newest first.
func (v *MarketView) SellHistory(ctx context.Context) ([]*domain.SellRecord, error) {
	if v.journal == nil {
		return nil, nil
	}
	symbolID := v.State().SymbolID
	if symbolID == 0 {
		return nil, nil
	}
	return v.journal.FindBySymbol(ctx, symbolID, sellHistoryLimit)
}

// Unmount stops the view. In-flight responses are discarded, the feed is
// disconnected and the update channels are closed. Safe to call twice.
func (v *MarketView) Unmount() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	started := v.started
	v.mu.Unlock()

	v.loader.Dispose()
	err := v.subs.Unmount()

	if started {
		v.cancel()
		close(v.quit)
		<-v.stopped
	}
	v.renderer.Dispose()
	close(v.updates)
	close(v.notifications)
	v.logger.Info(context.Background(), "UnmountView: market view stopped")
	if err != nil {
		return fmt.Errorf("UnmountView failed: %w", err)
	}
	return nil
}

func (v *MarketView) loop() {
	defer close(v.stopped)
	for {
		select {
		case fn := <-v.events:
			fn()
		case <-v.quit:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the view is unmounted.
// It must not be called from the loop itself.
func (v *MarketView) post(fn func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || !v.started {
		return false
	}
	select {
	case v.events <- fn:
		return true
	case <-v.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (v *MarketView) do(fn func()) error {
	done := make(chan struct{})
	if !v.post(func() { fn(); close(done) }) {
		return fmt.Errorf("market view: %w", ports.ErrDisposed)
	}
	select {
	case <-done:
		return nil
	case <-v.stopped:
		select {
		case <-done:
			return nil
		default:
			return fmt.Errorf("market view: %w", ports.ErrDisposed)
		}
	}
}

func (v *MarketView) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if v.timeout > 0 {
		return context.WithTimeout(parent, v.timeout)
	}
	return context.WithCancel(parent)
}

// onTick runs on the feed's read goroutine.
func (v *MarketView) onTick(t domain.Tick) {
	v.post(func() { v.applyTick(t) })
}

func (v *MarketView) afterSale(ctx context.Context, outcome market.SellOutcome) {
	symbolID := outcome.Order.SymbolID
	v.loader.Invalidate(symbolID)
	v.post(func() {
		if symbolID != v.symbolID {
			return
		}
		v.fetchHolding()
		v.reloadHistory()
	})
	if v.onSold != nil {
		v.onSold(ctx, outcome)
	}
}

// --- loop-side handlers ---

// switchSymbol resets everything shown for the previous symbol and starts the
// history and holding fetches of symbolID. Unless forced it does nothing when
// symbolID is already shown without a history error.
func (v *MarketView) switchSymbol(symbolID int64, force bool) {
	if !force && symbolID == v.symbolID && v.view.HistoryErr == nil {
		return
	}

	v.renderer.Dispose()
	v.recon = nil
	v.holding = nil
	v.pending = nil
	v.reloading = false
	v.symbolID = symbolID
	v.sell.Cancel()

	v.view = ViewState{
		SymbolID:       symbolID,
		Status:         v.view.Status,
		ConnErr:        v.view.ConnErr,
		LoadingHistory: true,
		LoadingHolding: true,
		Valuation:      market.Valuate(nil, nil),
		Selling:        v.view.Selling,
	}
	v.publish()

	v.fetchHistory()
	v.fetchHolding()
}

func (v *MarketView) fetchHistory() {
	v.historySeq++
	seq, symbolID := v.historySeq, v.symbolID
	ctx := v.ctx

	go func() {
		reqCtx, cancel := v.requestContext(ctx)
		defer cancel()
		h, err := v.loader.Load(reqCtx, symbolID)
		v.post(func() { v.applyHistory(seq, symbolID, h, err) })
	}()
}

// reloadHistory refetches the snapshot while the current chart stays up.
// Ticks keep drawing and are also buffered so they can be replayed onto the
// new snapshot.
func (v *MarketView) reloadHistory() {
	if v.recon == nil {
		// The first load is still in flight and fetches a fresh snapshot.
		return
	}
	v.reloading = true
	v.pending = nil
	v.fetchHistory()
}

func (v *MarketView) fetchHolding() {
	if v.symbolID == 0 {
		return
	}
	v.holdingSeq++
	seq, symbolID := v.holdingSeq, v.symbolID
	ctx := v.ctx
	v.view.LoadingHolding = true
	v.publish()

	go func() {
		reqCtx, cancel := v.requestContext(ctx)
		defer cancel()
		h, err := v.api.GetHolding(reqCtx, symbolID)
		v.post(func() { v.applyHolding(seq, symbolID, h, err) })
	}()
}

func (v *MarketView) applyHistory(seq uint64, symbolID int64, h *market.History, err error) {
	if seq != v.historySeq || symbolID != v.symbolID {
		return
	}
	if errors.Is(err, ports.ErrStaleResponse) || errors.Is(err, ports.ErrDisposed) {
		return
	}

	if v.reloading {
		v.reloading = false
		if err != nil {
			v.pending = nil
			v.logger.Warn(v.ctx, "History refresh failed, keeping current chart", map[string]interface{}{"symbolId": symbolID, "error": err.Error()})
			return
		}
	}

	v.view.LoadingHistory = false
	if err != nil {
		v.logger.Error(v.ctx, err, "Failed to load history", map[string]interface{}{"symbolId": symbolID})
		v.view.HistoryErr = err
		v.notify(NotifyError, "Could not load the chart for this symbol.")
		// Live ticks still draw on an empty chart.
		h = &market.History{SymbolID: symbolID, Series: domain.NewSeries(symbolID)}
	} else {
		v.view.HistoryErr = nil
	}

	v.recon = market.NewReconciler(h)
	v.renderer.Initialize(v.recon.Series(), h.Extended)

	pending := v.pending
	v.pending = nil
	for _, t := range pending {
		v.reconcile(t)
	}
	v.refresh()
	v.publish()
}

func (v *MarketView) applyHolding(seq uint64, symbolID int64, h *domain.HoldingSnapshot, err error) {
	if seq != v.holdingSeq || symbolID != v.symbolID {
		return
	}
	v.view.LoadingHolding = false
	if err != nil {
		v.logger.Error(v.ctx, err, "Failed to load holding", map[string]interface{}{"symbolId": symbolID})
		v.view.HoldingErr = err
		v.publish()
		return
	}
	v.view.HoldingErr = nil
	v.holding = h
	v.refresh()
	v.publish()
}

func (v *MarketView) applyTick(t domain.Tick) {
	if t.SymbolID != v.symbolID {
		return
	}
	if v.recon == nil || v.reloading {
		if len(v.pending) >= maxPendingTicks {
			v.pending = v.pending[1:]
		}
		v.pending = append(v.pending, t)
		if v.recon == nil {
			return
		}
	}
	if v.reconcile(t) {
		v.refresh()
		v.publish()
	}
}

// reconcile merges one tick into the series and draws it.
func (v *MarketView) reconcile(t domain.Tick) bool {
	outcome, p, err := v.recon.Apply(t)
	if err != nil {
		v.logger.Warn(v.ctx, "Dropping invalid tick", map[string]interface{}{"symbolId": t.SymbolID, "error": err.Error()})
		return false
	}
	if outcome == market.Discarded {
		v.logger.Debug(v.ctx, "Discarding out-of-order tick", map[string]interface{}{"symbolId": t.SymbolID, "time": t.Candle.Time})
		return false
	}
	var vol *domain.VolumeBar
	if t.Volume != nil || outcome == market.Appended {
		vol = &p.Volume
	}
	v.renderer.Update(p.Candle, vol)
	return true
}

// refresh recomputes the price fields and the valuation.
func (v *MarketView) refresh() {
	var prices market.PriceState
	if v.recon != nil {
		prices = v.recon.Prices()
		v.view.Points = v.recon.Series().Len()
	}
	v.view.Current, v.view.Previous = prices.Current, prices.Previous
	v.view.Change, v.view.ChangePercent, v.view.HasChange = prices.Change()
	v.view.Valuation = market.Valuate(v.holding, prices.Current)
}

func (v *MarketView) applyStatus(s domain.ConnectionStatus) {
	prev := v.view.Status
	v.view.Status = s
	switch {
	case s == domain.StatusConnected:
		if v.connectedOnce && prev == domain.StatusConnecting && v.view.ConnErr == nil {
			v.notify(NotifyInfo, "Reconnected to the market feed.")
		}
		v.connectedOnce = true
	case s == domain.StatusConnecting && prev == domain.StatusConnected:
		v.notify(NotifyInfo, "Connection lost, reconnecting...")
	case s == domain.StatusFailed && v.connectedOnce && prev == domain.StatusConnecting && v.view.ConnErr == nil:
		// Automatic reconnects gave up. A failed Mount or Reconnect is
		// reported by connectionFailed instead.
		v.notify(NotifyError, "Lost connection to the market feed.")
	}
	v.publish()
}

func (v *MarketView) connectionFailed(err error) {
	v.view.ConnErr = err
	v.view.Status = v.feed.Status()
	v.notify(NotifyError, "Could not connect to the market feed.")
	v.publish()
}

func (v *MarketView) connectionRestored() {
	if v.view.ConnErr == nil {
		return
	}
	v.view.ConnErr = nil
	v.view.Status = v.feed.Status()
	v.publish()
}

func (v *MarketView) applySellOutcome(outcome market.SellOutcome) {
	v.view.Selling = false
	if outcome.Succeeded() {
		v.notify(NotifySuccess, outcome.Message)
	} else {
		v.notify(NotifyError, outcome.Message)
	}
	v.publish()
}

func (v *MarketView) notify(level NotificationLevel, msg string) {
	n := Notification{Level: level, Message: msg, At: v.now()}
	select {
	case v.notifications <- n:
		return
	default:
	}
	// Full: drop the oldest.
	select {
	case <-v.notifications:
	default:
	}
	select {
	case v.notifications <- n:
	default:
	}
}

// publish stores the loop's view as the current state and offers it on Updates.
func (v *MarketView) publish() {
	v.view.SellPhase = v.sell.Phase()
	st := v.view

	v.stateMu.Lock()
	v.state = st
	v.stateMu.Unlock()

	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- st:
	default:
	}
}
