package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultHistoryLimit  = 500
	defaultExtendedSlots = 10
	defaultQuoteAsset    = "USDT"
)

// wsKlineServeFunc matches futures.WsKlineServe.
type wsKlineServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client implements ports.MarketAPI and ports.FeedTransport on Binance USDⓈ-M
// futures. Symbol ids are mapped to exchange symbols from configuration; the
// user's position stands in for the holding and the quote asset balance for
// the available points.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	symbols       map[int64]string
	ids           map[string]int64
	interval      string
	step          int64 // interval length in seconds
	historyLimit  int
	extendedSlots int
	quoteAsset    string
	wsServe       wsKlineServeFunc

	mu        sync.Mutex
	connected bool
	onMessage func(ports.FeedMessage)
	onDrop    func(error)
	streams   map[int64]*stream
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey        string
	SecretKey     string
	UseTestnet    bool
	Logger        ports.Logger
	Symbols       map[int64]string // symbol id -> exchange symbol, e.g. 1 -> BTCUSDT
	Interval      string           // kline interval, e.g. "1m"
	HistoryLimit  int              // klines per snapshot
	ExtendedSlots int              // whitespace slots after the last kline
	QuoteAsset    string           // balance reported as available points
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol mapping is required", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	step, err := intervalSeconds(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ExtendedSlots < 0 {
		cfg.ExtendedSlots = 0
	} else if cfg.ExtendedSlots == 0 {
		cfg.ExtendedSlots = defaultExtendedSlots
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaultQuoteAsset
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	symbols := make(map[int64]string, len(cfg.Symbols))
	ids := make(map[string]int64, len(cfg.Symbols))
	for id, sym := range cfg.Symbols {
		sym = strings.ToUpper(sym)
		symbols[id] = sym
		ids[sym] = id
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		symbols:       symbols,
		ids:           ids,
		interval:      cfg.Interval,
		step:          step,
		historyLimit:  cfg.HistoryLimit,
		extendedSlots: cfg.ExtendedSlots,
		quoteAsset:    cfg.QuoteAsset,
		wsServe:       futures.WsKlineServe,
		streams:       make(map[int64]*stream),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
// API errors keep the exchange message in a *ports.APIError so it can be shown to the user.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, API-key format, key/IP/permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrUnknownSymbol
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2019, -4003: // Order rejected, margin insufficient, quantity out of range
			mappedErr = ports.ErrSellRejected
		case -2022, -3041: // ReduceOnly rejected, position not sufficient
			mappedErr = ports.ErrInsufficientHeld
		case -4044: // Position not found
			mappedErr = ports.ErrNotFound
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		wrapped := &ports.APIError{Code: strconv.FormatInt(apiErr.Code, 10), Message: apiErr.Message, Kind: mappedErr}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, wrapped, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func (c *Client) exchangeSymbol(op string, symbolID int64) (string, error) {
	sym, ok := c.symbols[symbolID]
	if !ok {
		return "", fmt.Errorf("%s failed: %w: id %d", op, ports.ErrUnknownSymbol, symbolID)
	}
	return sym, nil
}

// ListSymbols returns the configured symbols ordered by id.
func (c *Client) ListSymbols(ctx context.Context) ([]domain.Symbol, error) {
	out := make([]domain.Symbol, 0, len(c.symbols))
	for id, sym := range c.symbols {
		out = append(out, domain.Symbol{ID: id, Code: sym, Name: sym})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSnapshot retrieves the most recent klines for a symbol as a chart snapshot.
func (c *Client) GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error) {
	op := "GetSnapshot"
	sym, err := c.exchangeSymbol(op, symbolID)
	if err != nil {
		return nil, err
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(sym).Interval(c.interval).Limit(c.historyLimit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrSnapshotUnavailable, c.handleError(ctx, err, op))
	}

	snap := &domain.Snapshot{
		SymbolID: symbolID,
		Candles:  make([]domain.Candle, 0, len(binanceKlines)),
		Volumes:  make([]domain.VolumeBar, 0, len(binanceKlines)),
	}
	for _, bk := range binanceKlines {
		candle, vol, err := translateBinanceKline(bk)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrSnapshotUnavailable,
				c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op))
		}
		snap.Candles = append(snap.Candles, candle)
		snap.Volumes = append(snap.Volumes, vol)
	}
	if n := len(snap.Candles); n > 0 {
		last := snap.Candles[n-1].Time
		for i := 1; i <= c.extendedSlots; i++ {
			snap.Extended = append(snap.Extended, last+int64(i)*c.step)
		}
	}
	return snap, nil
}

// GetHolding reports the long position of a symbol as the holding. Quantities
// are whole contracts; the fractional remainder of a position is not sellable here.
func (c *Client) GetHolding(ctx context.Context, symbolID int64) (*domain.HoldingSnapshot, error) {
	op := "GetHolding"
	sym, err := c.exchangeSymbol(op, symbolID)
	if err != nil {
		return nil, err
	}

	holding := &domain.HoldingSnapshot{SymbolID: symbolID}

	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(sym).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) > 0 {
		qty, entry, err := translatePositionRisk(positions[0])
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if qty.IsPositive() {
			whole := qty.Truncate(0)
			holding.TotalQuantity = whole.IntPart()
			holding.TotalCostBasis = entry.Mul(whole)
		}
	} else {
		c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": sym})
	}

	balance, err := c.availableBalance(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	holding.AvailablePoints = balance
	return holding, nil
}

func (c *Client) availableBalance(ctx context.Context) (decimal.Decimal, error) {
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, bal := range account.Assets {
		if bal.Asset == c.quoteAsset {
			v, err := decimal.NewFromString(bal.AvailableBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, c.quoteAsset, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, nil
}

// SubmitSell places a reduce-only market SELL order for the confirmed quantity.
func (c *Client) SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error) {
	op := "SubmitSell"
	sym, err := c.exchangeSymbol(op, order.SymbolID)
	if err != nil {
		return nil, err
	}

	quantity := strconv.FormatInt(order.Quantity, 10)
	res, err := c.futuresClient.NewCreateOrderService().
		Symbol(sym).
		Side(futures.SideTypeSell).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		ReduceOnly(true).
		NewClientOrderID(order.ClientOrderID.String()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	receipt := translateOrderResponse(res, order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   sym,
		"quantity": quantity,
		"orderID":  receipt.OrderID,
		"avgPrice": receipt.Price.String(),
	})
	return receipt, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// --- Translation Helpers ---

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parsing '%s': %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

// volumeColor classifies a kline's volume by the direction of its body.
func volumeColor(open, close decimal.Decimal) domain.VolumeColor {
	switch close.Cmp(open) {
	case 1:
		return domain.VolumeBuy
	case -1:
		return domain.VolumeSell
	default:
		return domain.VolumeSame
	}
}

func buildPoint(startMs int64, open, high, low, cls, vol string) (domain.Candle, domain.VolumeBar, error) {
	d, err := parseDecimals(open, high, low, cls, vol)
	if err != nil {
		return domain.Candle{}, domain.VolumeBar{}, err
	}
	t := startMs / 1000
	candle := domain.Candle{Time: t, Open: d[0], High: d[1], Low: d[2], Close: d[3]}
	volume := domain.VolumeBar{Time: t, Value: d[4], Color: volumeColor(d[0], d[3])}
	return candle, volume, nil
}

func translateBinanceKline(bk *futures.Kline) (domain.Candle, domain.VolumeBar, error) {
	if bk == nil {
		return domain.Candle{}, domain.VolumeBar{}, errors.New("received nil historical kline")
	}
	return buildPoint(bk.OpenTime, bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
}

func translateWsKline(event *futures.WsKlineEvent) (domain.Candle, domain.VolumeBar, error) {
	if event == nil {
		return domain.Candle{}, domain.VolumeBar{}, errors.New("received nil kline event")
	}
	k := event.Kline
	return buildPoint(k.StartTime, k.Open, k.High, k.Low, k.Close, k.Volume)
}

func translatePositionRisk(pos *futures.PositionRisk) (qty, entry decimal.Decimal, err error) {
	if pos == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	d, err := parseDecimals(pos.PositionAmt, pos.EntryPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("position %s: %w", pos.Symbol, err)
	}
	return d[0], d[1], nil
}

func translateOrderResponse(res *futures.CreateOrderResponse, order domain.SellOrder) *domain.SellReceipt {
	receipt := &domain.SellReceipt{
		SymbolID:  order.SymbolID,
		Quantity:  order.Quantity,
		Price:     order.PriceAtConfirmation,
		SettledAt: time.Now(),
	}
	if res == nil {
		receipt.Proceeds = order.ExpectedProceeds()
		return receipt
	}
	receipt.OrderID = strconv.FormatInt(res.OrderID, 10)
	if avg, err := decimal.NewFromString(res.AvgPrice); err == nil && avg.IsPositive() {
		receipt.Price = avg
	}
	qty := decimal.NewFromInt(order.Quantity)
	if exec, err := decimal.NewFromString(res.ExecutedQuantity); err == nil && exec.IsPositive() {
		qty = exec
		receipt.Quantity = exec.IntPart()
	}
	receipt.Proceeds = receipt.Price.Mul(qty)
	if res.UpdateTime > 0 {
		receipt.SettledAt = time.UnixMilli(res.UpdateTime)
	}
	return receipt
}

// intervalSeconds converts a Binance kline interval ("1m", "4h", "1d", "1w") to seconds.
func intervalSeconds(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 's':
		return n, nil
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 3600, nil
	case 'd':
		return n * 86400, nil
	case 'w':
		return n * 7 * 86400, nil
	default:
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
}
